// internal/storage/seed.go
package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"familymiles/internal/companies"
	"familymiles/internal/loyalty"
	"familymiles/internal/members"
)

//go:embed seed.yaml
var defaultSeed []byte

// Fixture is the first-run data set.
type Fixture struct {
	Companies []loyalty.Company `yaml:"companies"`
	Members   []MemberFixture   `yaml:"members"`
}

// MemberFixture describes one member and optional initial field values per
// company, keyed by field name as accepted by the program update endpoint.
type MemberFixture struct {
	Name     string                       `yaml:"name"`
	Programs map[string]map[string]string `yaml:"programs"`
}

type companyYAML struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Color      string `yaml:"color"`
	Logo       string `yaml:"logo"`
	PointsName string `yaml:"points_name"`
	MaxMembers int    `yaml:"max_members"`
}

// UnmarshalYAML decodes companies with snake_case keys.
func (f *Fixture) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Companies []companyYAML   `yaml:"companies"`
		Members   []MemberFixture `yaml:"members"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	f.Members = raw.Members
	f.Companies = nil
	for _, c := range raw.Companies {
		f.Companies = append(f.Companies, loyalty.Company{
			ID:         c.ID,
			Name:       c.Name,
			Color:      c.Color,
			Logo:       c.Logo,
			PointsName: c.PointsName,
			MaxMembers: c.MaxMembers,
		})
	}
	return nil
}

// LoadFixture reads path, or the embedded default when path is empty.
func LoadFixture(path string) (Fixture, error) {
	data := defaultSeed
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return Fixture{}, fmt.Errorf("failed to read seed file: %w", err)
		}
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fixture{}, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if len(f.Companies) == 0 {
		f.Companies = companies.DefaultCompanies
	}
	return f, nil
}

// Seed creates the fixture's companies and members when the stores are
// empty. A store that already holds data is left alone.
func Seed(ctx context.Context, f Fixture, companySvc companies.Service, memberSvc members.Service, logger *slog.Logger) error {
	if err := companySvc.EnsureDefaults(ctx, f.Companies); err != nil {
		return err
	}

	existing, err := memberSvc.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	for _, mf := range f.Members {
		m, err := memberSvc.Create(ctx, mf.Name)
		if errors.Is(err, members.ErrDuplicateMember) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed member %s: %w", mf.Name, err)
		}
		for companyID, values := range mf.Programs {
			key := loyalty.Key{MemberID: m.ID, CompanyID: companyID}
			if _, err := memberSvc.UpdateProgram(ctx, key, fixturePatch(values), members.AnyVersion); err != nil {
				return fmt.Errorf("seed %s: %w", key, err)
			}
		}
	}
	logger.Info("seed data created", "members", len(f.Members))
	return nil
}

func fixturePatch(values map[string]string) loyalty.Patch {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	var p loyalty.Patch
	for _, name := range names {
		p.Set(loyalty.Field(name), values[name])
	}
	return p
}
