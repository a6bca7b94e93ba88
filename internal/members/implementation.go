// internal/members/implementation.go
package members

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"familymiles/internal/loyalty"
)

// service implements the Service interface.
type service struct {
	store     Store
	companies CompanyLookup
	logger    *slog.Logger
	tracer    trace.Tracer
	updates   metric.Int64Counter
	entries   metric.Int64Counter
	now       func() time.Time
}

// Option configures the service.
type Option func(*service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *service) { s.logger = l }
}

// WithClock overrides the time source used for log timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates a new member service instance.
func NewService(store Store, companies CompanyLookup, opts ...Option) Service {
	meter := otel.Meter("familymiles/members")
	updates, _ := meter.Int64Counter("familymiles.program.updates",
		metric.WithDescription("Program record updates that changed at least one field"))
	entries, _ := meter.Int64Counter("familymiles.log.entries",
		metric.WithDescription("Audit log entries written"))

	s := &service{
		store:     store,
		companies: companies,
		logger:    slog.Default(),
		tracer:    otel.Tracer("familymiles/members"),
		updates:   updates,
		entries:   entries,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) List(ctx context.Context) ([]loyalty.Member, error) {
	members, err := s.store.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	loyalty.SortMembers(members)
	return members, nil
}

func (s *service) Get(ctx context.Context, id string) (loyalty.Member, error) {
	return s.store.GetMember(ctx, id)
}

// Create adds a member enrolled with blank records in every company that
// still has room.
func (s *service) Create(ctx context.Context, name string) (loyalty.Member, error) {
	ctx, span := s.tracer.Start(ctx, "members.create")
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return loyalty.Member{}, fmt.Errorf("%w: name is required", ErrInvalidMember)
	}
	existing, err := s.store.ListMembers(ctx)
	if err != nil {
		return loyalty.Member{}, err
	}
	for _, m := range existing {
		if strings.EqualFold(m.Name, name) {
			return loyalty.Member{}, fmt.Errorf("%w: %s", ErrDuplicateMember, name)
		}
	}
	companies, err := s.companies.List(ctx)
	if err != nil {
		return loyalty.Member{}, fmt.Errorf("failed to list companies: %w", err)
	}

	now := s.now().UTC()
	member := loyalty.Member{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
		Programs:  make(map[string]loyalty.ProgramRecord, len(companies)),
	}
	for _, c := range companies {
		full, err := s.full(ctx, c)
		if err != nil {
			return loyalty.Member{}, err
		}
		if full {
			s.logger.Info("company full, new member not enrolled", "company_id", c.ID, "member", name)
			continue
		}
		member.Programs[c.ID] = loyalty.ProgramRecord{LastUpdated: now}
	}

	entry := membershipEntry(member, loyalty.Company{}, loyalty.FieldMember, loyalty.Empty, loyalty.ValueCreated, loyalty.ChangeCreate, now)
	if err := s.store.InsertMember(ctx, member, []loyalty.LogEntry{entry}); err != nil {
		return loyalty.Member{}, err
	}
	s.entries.Add(ctx, 1)
	span.SetAttributes(attribute.String("member.id", member.ID))
	s.logger.Info("member created", "member_id", member.ID, "name", name, "programs", len(member.Programs))
	return member, nil
}

func (s *service) full(ctx context.Context, c loyalty.Company) (bool, error) {
	if c.MaxMembers <= 0 {
		return false, nil
	}
	n, err := s.store.CountEnrolled(ctx, c.ID)
	if err != nil {
		return false, fmt.Errorf("failed to count enrollments: %w", err)
	}
	return n >= c.MaxMembers, nil
}

// Delete removes a member and all of their program records.
func (s *service) Delete(ctx context.Context, id string) (loyalty.Member, error) {
	member, err := s.store.GetMember(ctx, id)
	if err != nil {
		return loyalty.Member{}, err
	}
	entry := membershipEntry(member, loyalty.Company{}, loyalty.FieldMember, loyalty.ValueActive, loyalty.ValueDeleted, loyalty.ChangeDelete, s.now().UTC())
	if err := s.store.DeleteMember(ctx, id, []loyalty.LogEntry{entry}); err != nil {
		return loyalty.Member{}, err
	}
	s.entries.Add(ctx, 1)
	s.logger.Info("member deleted", "member_id", id, "name", member.Name)
	return member, nil
}

func (s *service) Enroll(ctx context.Context, key loyalty.Key) (loyalty.ProgramRecord, error) {
	member, err := s.store.GetMember(ctx, key.MemberID)
	if err != nil {
		return loyalty.ProgramRecord{}, err
	}
	if _, ok := member.Program(key.CompanyID); ok {
		return loyalty.ProgramRecord{}, fmt.Errorf("%w: %s", ErrAlreadyEnrolled, key)
	}
	company, err := s.companies.Get(ctx, key.CompanyID)
	if err != nil {
		return loyalty.ProgramRecord{}, err
	}
	full, err := s.full(ctx, company)
	if err != nil {
		return loyalty.ProgramRecord{}, err
	}
	if full {
		return loyalty.ProgramRecord{}, fmt.Errorf("%w: %s allows %d", ErrProgramFull, company.Name, company.MaxMembers)
	}

	now := s.now().UTC()
	entry := membershipEntry(member, company, loyalty.FieldProgram, loyalty.Empty, loyalty.ValueEnrolled, loyalty.ChangeCreate, now)
	rec, err := s.store.InsertProgram(ctx, key, loyalty.ProgramRecord{LastUpdated: now}, []loyalty.LogEntry{entry})
	if err != nil {
		return loyalty.ProgramRecord{}, err
	}
	s.entries.Add(ctx, 1)
	return rec, nil
}

func (s *service) Unenroll(ctx context.Context, key loyalty.Key) error {
	member, err := s.store.GetMember(ctx, key.MemberID)
	if err != nil {
		return err
	}
	if _, ok := member.Program(key.CompanyID); !ok {
		return fmt.Errorf("%w: %s", ErrNotEnrolled, key)
	}
	company := s.company(ctx, key.CompanyID)
	entry := membershipEntry(member, company, loyalty.FieldProgram, loyalty.ValueEnrolled, loyalty.ValueRemoved, loyalty.ChangeDelete, s.now().UTC())
	if err := s.store.DeleteProgram(ctx, key, []loyalty.LogEntry{entry}); err != nil {
		return err
	}
	s.entries.Add(ctx, 1)
	return nil
}

// company resolves id for log denormalisation, falling back to the bare id.
func (s *service) company(ctx context.Context, id string) loyalty.Company {
	c, err := s.companies.Get(ctx, id)
	if err != nil {
		s.logger.Warn("company lookup failed, logging id only", "company_id", id, "err", err)
		return loyalty.Company{ID: id, Name: id}
	}
	return c
}

// UpdateProgram applies the changed fields of patch to key's record and logs
// one entry per changed field, all sharing one timestamp. With a baseVersion
// other than AnyVersion the update is refused if the record has moved on.
func (s *service) UpdateProgram(ctx context.Context, key loyalty.Key, patch loyalty.Patch, baseVersion int) (UpdateResult, error) {
	ctx, span := s.tracer.Start(ctx, "members.update_program",
		trace.WithAttributes(
			attribute.String("member.id", key.MemberID),
			attribute.String("company.id", key.CompanyID),
			attribute.Int("base.version", baseVersion),
		),
	)
	defer span.End()

	for _, f := range patch.Fields() {
		if err := f.Validate(); err != nil {
			return UpdateResult{}, err
		}
	}
	member, err := s.store.GetMember(ctx, key.MemberID)
	if err != nil {
		return UpdateResult{}, err
	}
	rec, ok := member.Program(key.CompanyID)
	if !ok {
		return UpdateResult{}, fmt.Errorf("%w: %s", ErrNotEnrolled, key)
	}
	if baseVersion != AnyVersion && baseVersion != rec.Version {
		span.SetStatus(codes.Error, "version conflict")
		return UpdateResult{}, fmt.Errorf("%w: %s is at version %d, request was based on %d", ErrVersionConflict, key, rec.Version, baseVersion)
	}

	changes := loyalty.Diff(rec, patch)
	if len(changes) == 0 {
		return UpdateResult{Message: "Nenhuma alteração", Changes: loyalty.Changes{}, Record: rec}, nil
	}

	now := s.now().UTC()
	updated := rec.Apply(changes, now)
	entries := loyalty.Project(member, s.company(ctx, key.CompanyID), changes, now)
	saved, err := s.store.SaveProgram(ctx, key, updated, rec.Version, entries)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return UpdateResult{}, err
	}

	s.updates.Add(ctx, 1, metric.WithAttributes(attribute.String("company.id", key.CompanyID)))
	s.entries.Add(ctx, int64(len(entries)))
	span.SetAttributes(attribute.Int("changes", len(changes)), attribute.Int("version", saved.Version))
	return UpdateResult{Message: "Programa atualizado com sucesso", Changes: changes, Record: saved}, nil
}

// UpdateCustomFields sets custom fields by name; an empty value removes the
// field. Fields are applied in name order.
func (s *service) UpdateCustomFields(ctx context.Context, key loyalty.Key, fields map[string]string, baseVersion int) (UpdateResult, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var patch loyalty.Patch
	for _, name := range names {
		f := loyalty.CustomField(name)
		if err := f.Validate(); err != nil {
			return UpdateResult{}, err
		}
		patch.Set(f, fields[name])
	}
	result, err := s.UpdateProgram(ctx, key, patch, baseVersion)
	if err != nil {
		return UpdateResult{}, err
	}
	if len(result.Changes) > 0 {
		result.Message = "Campos personalizados atualizados com sucesso"
	}
	return result, nil
}

func (s *service) GlobalLog(ctx context.Context) ([]loyalty.LogEntry, error) {
	entries, err := s.store.ListLog(ctx)
	if err != nil {
		return nil, err
	}
	loyalty.SortLog(entries)
	return entries, nil
}

func (s *service) MemberLog(ctx context.Context, id string) ([]loyalty.LogEntry, error) {
	all, err := s.GlobalLog(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]loyalty.LogEntry, 0)
	for _, e := range all {
		if e.MemberID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *service) Stats(ctx context.Context) (loyalty.DashboardStats, error) {
	members, err := s.store.ListMembers(ctx)
	if err != nil {
		return loyalty.DashboardStats{}, err
	}
	companies, err := s.companies.List(ctx)
	if err != nil {
		return loyalty.DashboardStats{}, err
	}
	entries, err := s.store.ListLog(ctx)
	if err != nil {
		return loyalty.DashboardStats{}, err
	}

	stats := loyalty.DashboardStats{TotalMembers: len(members), TotalCompanies: len(companies)}
	for _, m := range members {
		for _, rec := range m.Programs {
			stats.TotalPoints += rec.CurrentBalance
		}
	}
	since := s.now().Add(-RecentWindow)
	for _, e := range entries {
		if e.Timestamp.After(since) {
			stats.RecentActivity++
		}
	}
	return stats, nil
}

func (s *service) CountEnrolled(ctx context.Context, companyID string) (int, error) {
	return s.store.CountEnrolled(ctx, companyID)
}
