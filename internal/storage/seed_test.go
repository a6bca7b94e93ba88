// internal/storage/seed_test.go
package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"familymiles/internal/companies"
	"familymiles/internal/loyalty"
	"familymiles/internal/members"
)

func newServices() (companies.Service, members.Service) {
	memberStore := members.NewMemoryStore()
	companySvc := companies.NewService(companies.NewMemoryStore(), memberStore, slog.Default())
	return companySvc, members.NewService(memberStore, companySvc)
}

func TestLoadDefaultFixture(t *testing.T) {
	f, err := LoadFixture("")
	require.NoError(t, err)

	assert.Equal(t, companies.DefaultCompanies, f.Companies)
	require.Len(t, f.Members, 4)
	names := make([]string, 0, len(f.Members))
	for _, m := range f.Members {
		names = append(names, m.Name)
	}
	assert.Equal(t, loyalty.FamilyOrder, names)
}

func TestLoadFixtureFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
companies:
  - id: gol
    name: Smiles GOL
    color: "#ff7a00"
    points_name: milhas
    max_members: 2
members:
  - name: Ana
    programs:
      gol:
        current_balance: "12000"
        elite_tier: Ouro
`), 0o600))

	f, err := LoadFixture(path)
	require.NoError(t, err)
	require.Len(t, f.Companies, 1)
	assert.Equal(t, loyalty.Company{ID: "gol", Name: "Smiles GOL", Color: "#ff7a00", PointsName: "milhas", MaxMembers: 2}, f.Companies[0])
	assert.Equal(t, "Ouro", f.Members[0].Programs["gol"]["elite_tier"])

	companySvc, memberSvc := newServices()
	require.NoError(t, Seed(context.Background(), f, companySvc, memberSvc, slog.Default()))

	list, err := memberSvc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	rec, ok := list[0].Program("gol")
	require.True(t, ok)
	assert.Equal(t, int64(12000), rec.CurrentBalance)
	assert.Equal(t, "Ouro", rec.EliteTier)
}

func TestLoadFixtureErrors(t *testing.T) {
	_, err := LoadFixture(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("members: {"), 0o600))
	_, err = LoadFixture(path)
	assert.Error(t, err)
}

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f, err := LoadFixture("")
	require.NoError(t, err)
	companySvc, memberSvc := newServices()

	require.NoError(t, Seed(ctx, f, companySvc, memberSvc, slog.Default()))
	require.NoError(t, Seed(ctx, f, companySvc, memberSvc, slog.Default()))

	list, err := memberSvc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, "Osvandré", list[0].Name)
	assert.Len(t, list[0].Programs, 3)

	cs, err := companySvc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, cs, 3)
}
