// internal/editsession/manager.go
package editsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"familymiles/internal/loyalty"
)

// ErrSessionClosed is returned when a field is edited on a key with no open
// session.
var ErrSessionClosed = errors.New("no edit session open for this record")

// State of one key's edit session.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateSaving
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateSaving:
		return "saving"
	}
	return "closed"
}

type session struct {
	overlay     loyalty.Patch
	baseVersion int
	saving      bool
	warnings    []error
}

// SaveResult reports what a successful save changed. LogErr is set when the
// record was saved but some audit entries could not be appended.
type SaveResult struct {
	Changes loyalty.Changes
	Entries []loyalty.LogEntry
	Record  loyalty.ProgramRecord
	LogErr  error
}

// Manager coordinates the open/edit/save/cancel lifecycle per record key.
// Keys are independent; within a key only one save may be in flight.
type Manager struct {
	mu        sync.Mutex
	store     *RecordStore
	persister Persister
	projector *Projector
	sessions  map[loyalty.Key]*session
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for warnings and failed saves.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the save timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager over store.
func NewManager(store *RecordStore, persister Persister, projector *Projector, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		persister: persister,
		projector: projector,
		sessions:  make(map[loyalty.Key]*session),
		logger:    slog.Default(),
		tracer:    otel.Tracer("familymiles/editsession"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start opens a session for key, seeding the overlay from the confirmed
// record. Starting an already open session keeps its pending edits.
func (m *Manager) Start(key loyalty.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		if s.saving {
			return newError(KindSaveInProgress, key, nil)
		}
		return nil
	}

	rec, ok := m.store.Get(key)
	if !ok {
		return newError(KindNotEnrolled, key, nil)
	}

	var overlay loyalty.Patch
	for _, f := range rec.Fields() {
		overlay.Set(f, rec.Value(f))
	}
	m.sessions[key] = &session{overlay: overlay, baseVersion: rec.Version}
	return nil
}

// Update merges one field edit into the overlay. Numeric input that does not
// parse is stored as 0 and reported as a ValidationWarning; the edit itself
// is kept.
func (m *Manager) Update(key loyalty.Key, field loyalty.Field, value string) error {
	if err := field.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionClosed, key)
	}
	if s.saving {
		return newError(KindSaveInProgress, key, nil)
	}

	normalized, ok := loyalty.Normalize(field, value)
	s.overlay.Set(field, normalized)
	if ok {
		return nil
	}

	_, cause := loyalty.ParseLeadingInt(value)
	warn := &Error{
		Kind:  KindValidationWarning,
		Key:   key,
		Field: field,
		Err:   fmt.Errorf("%q: %w, stored as %s", value, cause, normalized),
	}
	s.warnings = append(s.warnings, warn)
	m.logger.Warn("numeric input coerced", "key", key.String(), "field", string(field), "input", value)
	return warn
}

// Cancel discards the overlay without touching the backend. Cancelling a
// closed key is a no-op.
func (m *Manager) Cancel(key loyalty.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		return nil
	}
	if s.saving {
		return newError(KindSaveInProgress, key, nil)
	}
	delete(m.sessions, key)
	return nil
}

// Save diffs the overlay against the confirmed record and submits only the
// changed fields. An empty diff closes the session like Cancel. On failure
// the session stays open with its overlay intact.
func (m *Manager) Save(ctx context.Context, key loyalty.Key) (SaveResult, error) {
	ctx, span := m.tracer.Start(ctx, "editsession.save",
		trace.WithAttributes(
			attribute.String("member.id", key.MemberID),
			attribute.String("company.id", key.CompanyID),
		),
	)
	defer span.End()

	m.mu.Lock()
	s, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return SaveResult{}, nil
	}
	if s.saving {
		m.mu.Unlock()
		return SaveResult{}, newError(KindSaveInProgress, key, nil)
	}
	rec, ok := m.store.Get(key)
	if !ok {
		m.mu.Unlock()
		return SaveResult{}, newError(KindNotEnrolled, key, nil)
	}
	changes := loyalty.Diff(rec, s.overlay)
	if len(changes) == 0 {
		delete(m.sessions, key)
		m.mu.Unlock()
		span.SetAttributes(attribute.Int("changes", 0))
		return SaveResult{}, nil
	}
	s.saving = true
	base := s.baseVersion
	m.mu.Unlock()

	span.SetAttributes(attribute.Int("changes", len(changes)))
	receipt, err := m.persister.SaveProgram(ctx, key, changes.Patch(), base)

	m.mu.Lock()
	s.saving = false
	if err != nil {
		m.mu.Unlock()
		kind := KindPersistenceFailure
		if errors.Is(err, ErrVersionConflict) {
			kind = KindConflict
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, kind.String())
		m.logger.Warn("save failed, session kept open", "key", key.String(), "kind", kind.String(), "err", err)
		return SaveResult{}, newError(kind, key, err)
	}
	delete(m.sessions, key)
	m.mu.Unlock()

	if receipt.UpdatedAt.IsZero() {
		receipt.UpdatedAt = m.now()
	}
	updated, ok := m.store.ApplyConfirmedChange(key, changes, receipt)
	if !ok {
		// A refresh dropped the record while the save was in flight.
		updated = rec.Apply(changes, receipt.UpdatedAt)
		if receipt.Version > 0 {
			updated.Version = receipt.Version
		}
		m.logger.Warn("saved record no longer in store", "key", key.String())
	}

	member, ok := m.store.Member(key.MemberID)
	if !ok {
		member = loyalty.Member{ID: key.MemberID}
	}
	entries := m.projector.Project(member, m.store.Company(key.CompanyID), changes, receipt)
	result := SaveResult{Changes: changes, Entries: entries, Record: updated}
	if err := m.projector.AppendAll(ctx, entries); err != nil {
		result.LogErr = err
		m.logger.Warn("audit append incomplete", "key", key.String(), "err", err)
	}
	return result, nil
}

// DisplayRecord returns the confirmed record with any pending overlay
// applied on top.
func (m *Manager) DisplayRecord(key loyalty.Key) (loyalty.ProgramRecord, bool) {
	rec, ok := m.store.Get(key)
	if !ok {
		return loyalty.ProgramRecord{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, open := m.sessions[key]; open {
		return s.overlay.Overlay(rec), true
	}
	return rec, true
}

// State reports the session state of key.
func (m *Manager) State(key loyalty.Key) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	switch {
	case !ok:
		return StateClosed
	case s.saving:
		return StateSaving
	default:
		return StateOpen
	}
}

// Pending returns a copy of the open overlay for key.
func (m *Manager) Pending(key loyalty.Key) (loyalty.Patch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return loyalty.Patch{}, false
	}
	return s.overlay.Clone(), true
}

// Warnings returns the validation warnings raised since key's session opened.
func (m *Manager) Warnings(key loyalty.Key) []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil
	}
	return append([]error(nil), s.warnings...)
}
