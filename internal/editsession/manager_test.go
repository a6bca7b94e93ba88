// internal/editsession/manager_test.go
package editsession

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"familymiles/internal/loyalty"
)

// fakeBackend records every save and can be told to fail or block.
type fakeBackend struct {
	mu      sync.Mutex
	saves   []loyalty.Patch
	bases   []int
	err     error
	release chan struct{}
	entered chan struct{}
	version int
}

func (f *fakeBackend) SaveProgram(ctx context.Context, key loyalty.Key, diff loyalty.Patch, baseVersion int) (Receipt, error) {
	f.mu.Lock()
	f.saves = append(f.saves, diff.Clone())
	f.bases = append(f.bases, baseVersion)
	release, entered, err := f.release, f.entered, f.err
	f.version++
	version := f.version
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Version: version}, nil
}

func (f *fakeBackend) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

type fakeSink struct {
	mu      sync.Mutex
	entries []loyalty.LogEntry
	failOn  loyalty.Field
}

func (s *fakeSink) AppendLog(ctx context.Context, e loyalty.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if loyalty.Field(e.FieldChanged) == s.failOn {
		return errors.New("sink unavailable")
	}
	s.entries = append(s.entries, e)
	return nil
}

var (
	fixedNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	keyM1C1  = loyalty.Key{MemberID: "m1", CompanyID: "c1"}
)

func seededStore(rec loyalty.ProgramRecord) *RecordStore {
	store := NewRecordStore()
	store.SetCompanies([]loyalty.Company{{ID: "c1", Name: "LATAM Pass", PointsName: "milhas"}})
	store.ReplaceAll([]loyalty.Member{{
		ID:       "m1",
		Name:     "Osvandré",
		Programs: map[string]loyalty.ProgramRecord{"c1": rec},
	}})
	return store
}

func newTestManager(rec loyalty.ProgramRecord, backend *fakeBackend, sink LogSink) (*Manager, *RecordStore, *Projector) {
	store := seededStore(rec)
	projector := NewProjector(sink)
	m := NewManager(store, backend, projector, WithClock(func() time.Time { return fixedNow }))
	return m, store, projector
}

func TestSaveBalanceProducesOneLogEntry(t *testing.T) {
	backend := &fakeBackend{}
	m, store, projector := newTestManager(loyalty.ProgramRecord{CurrentBalance: 1000, Login: "osv"}, backend, nil)

	require.NoError(t, m.Start(keyM1C1))
	require.NoError(t, m.Update(keyM1C1, loyalty.FieldCurrentBalance, "1500"))
	result, err := m.Save(context.Background(), keyM1C1)
	require.NoError(t, err)

	rec, ok := store.Get(keyM1C1)
	require.True(t, ok)
	assert.Equal(t, int64(1500), rec.CurrentBalance)
	assert.Equal(t, fixedNow, rec.LastUpdated)
	assert.Equal(t, "Saldo: 1.000 → 1.500", rec.LastChange)

	log := projector.GlobalView()
	require.Len(t, log, 1)
	assert.Equal(t, "current_balance", log[0].FieldChanged)
	assert.Equal(t, "1000", log[0].OldValue)
	assert.Equal(t, "1500", log[0].NewValue)
	assert.Equal(t, "Osvandré", log[0].MemberName)
	assert.Equal(t, "LATAM Pass", log[0].CompanyName)
	assert.Len(t, result.Entries, 1)

	require.Equal(t, 1, backend.saveCount())
	assert.Equal(t, []loyalty.Field{loyalty.FieldCurrentBalance}, backend.saves[0].Fields(), "only the diff is submitted")
	assert.Equal(t, StateClosed, m.State(keyM1C1))
}

func TestCancelLeavesStoreUntouched(t *testing.T) {
	backend := &fakeBackend{}
	m, store, projector := newTestManager(loyalty.ProgramRecord{Login: "user1"}, backend, nil)

	require.NoError(t, m.Start(keyM1C1))
	require.NoError(t, m.Update(keyM1C1, loyalty.FieldLogin, "user2"))

	shown, _ := m.DisplayRecord(keyM1C1)
	assert.Equal(t, "user2", shown.Login)

	require.NoError(t, m.Cancel(keyM1C1))
	require.NoError(t, m.Cancel(keyM1C1), "cancel is idempotent")

	rec, _ := store.Get(keyM1C1)
	assert.Equal(t, "user1", rec.Login)
	assert.Empty(t, projector.GlobalView())
	assert.Equal(t, 0, backend.saveCount())
	assert.Equal(t, StateClosed, m.State(keyM1C1))
}

func TestSaveWithoutEditsBehavesLikeCancel(t *testing.T) {
	backend := &fakeBackend{}
	m, _, projector := newTestManager(loyalty.ProgramRecord{Login: "a"}, backend, nil)

	require.NoError(t, m.Start(keyM1C1))
	result, err := m.Save(context.Background(), keyM1C1)

	require.NoError(t, err)
	assert.Empty(t, result.Changes)
	assert.Equal(t, 0, backend.saveCount())
	assert.Empty(t, projector.GlobalView())
	assert.Equal(t, StateClosed, m.State(keyM1C1))
}

func TestEditedBackToOriginalIsNotLogged(t *testing.T) {
	backend := &fakeBackend{}
	m, _, projector := newTestManager(loyalty.ProgramRecord{Login: "a1", Notes: "b1"}, backend, nil)

	require.NoError(t, m.Start(keyM1C1))
	require.NoError(t, m.Update(keyM1C1, loyalty.FieldLogin, "changed"))
	require.NoError(t, m.Update(keyM1C1, loyalty.FieldLogin, "a1"))
	require.NoError(t, m.Update(keyM1C1, loyalty.FieldNotes, "b2"))
	_, err := m.Save(context.Background(), keyM1C1)
	require.NoError(t, err)

	log := projector.GlobalView()
	require.Len(t, log, 1)
	assert.Equal(t, "notes", log[0].FieldChanged)
}

func TestStartOnNonEnrolledPair(t *testing.T) {
	m, _, _ := newTestManager(loyalty.ProgramRecord{}, &fakeBackend{}, nil)

	err := m.Start(loyalty.Key{MemberID: "m1", CompanyID: "azul"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotEnrolled)
	var kerr *Error
	require.True(t, errors.As(err, &kerr))
	assert.Equal(t, KindNotEnrolled, kerr.Kind)
}

func TestOverflowingBalanceWarnsAsOutOfRange(t *testing.T) {
	m, _, _ := newTestManager(loyalty.ProgramRecord{CurrentBalance: 1000}, &fakeBackend{}, nil)

	require.NoError(t, m.Start(keyM1C1))
	err := m.Update(keyM1C1, loyalty.FieldCurrentBalance, "99999999999999999999")
	require.Error(t, err)
	assert.True(t, IsWarning(err))
	assert.ErrorIs(t, err, loyalty.ErrOutOfRange)
	assert.NotErrorIs(t, err, loyalty.ErrNotANumber)

	shown, _ := m.DisplayRecord(keyM1C1)
	assert.Equal(t, int64(math.MaxInt64), shown.CurrentBalance)

	err = m.Update(keyM1C1, loyalty.FieldCurrentBalance, "abc")
	assert.ErrorIs(t, err, loyalty.ErrNotANumber)
}

func TestNumericCoercionWarnsAndPersistsZero(t *testing.T) {
	backend := &fakeBackend{}
	m, store, _ := newTestManager(loyalty.ProgramRecord{CurrentBalance: 1000}, backend, nil)

	require.NoError(t, m.Start(keyM1C1))
	err := m.Update(keyM1C1, loyalty.FieldCurrentBalance, "abc")
	require.Error(t, err)
	assert.True(t, IsWarning(err))
	assert.Len(t, m.Warnings(keyM1C1), 1)

	_, err = m.Save(context.Background(), keyM1C1)
	require.NoError(t, err)

	rec, _ := store.Get(keyM1C1)
	assert.Equal(t, int64(0), rec.CurrentBalance)
	v, _ := backend.saves[0].Get(loyalty.FieldCurrentBalance)
	assert.Equal(t, "0", v)
}

func TestFieldDeletionLogsOldValue(t *testing.T) {
	backend := &fakeBackend{}
	m, store, projector := newTestManager(loyalty.ProgramRecord{EliteTier: "Gold"}, backend, nil)

	require.NoError(t, m.Start(keyM1C1))
	require.NoError(t, m.Update(keyM1C1, loyalty.FieldEliteTier, loyalty.Empty))
	_, err := m.Save(context.Background(), keyM1C1)
	require.NoError(t, err)

	rec, _ := store.Get(keyM1C1)
	assert.Equal(t, "", rec.EliteTier)
	log := projector.GlobalView()
	require.Len(t, log, 1)
	assert.Equal(t, "Gold", log[0].OldValue)
	assert.Equal(t, "", log[0].NewValue)
}

func TestSaveFailureKeepsOverlay(t *testing.T) {
	backend := &fakeBackend{err: errors.New("connection refused")}
	m, store, projector := newTestManager(loyalty.ProgramRecord{Login: "a"}, backend, nil)

	require.NoError(t, m.Start(keyM1C1))
	require.NoError(t, m.Update(keyM1C1, loyalty.FieldLogin, "b"))
	_, err := m.Save(context.Background(), keyM1C1)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistenceFailure)
	assert.Equal(t, StateOpen, m.State(keyM1C1))
	shown, _ := m.DisplayRecord(keyM1C1)
	assert.Equal(t, "b", shown.Login)
	rec, _ := store.Get(keyM1C1)
	assert.Equal(t, "a", rec.Login)
	assert.Empty(t, projector.GlobalView())

	backend.mu.Lock()
	backend.err = nil
	backend.mu.Unlock()
	_, err = m.Save(context.Background(), keyM1C1)
	require.NoError(t, err)
	rec, _ = store.Get(keyM1C1)
	assert.Equal(t, "b", rec.Login)
}

func TestVersionConflictIsReportedAsConflict(t *testing.T) {
	backend := &fakeBackend{err: ErrVersionConflict}
	m, _, _ := newTestManager(loyalty.ProgramRecord{Login: "a", Version: 4}, backend, nil)

	require.NoError(t, m.Start(keyM1C1))
	require.NoError(t, m.Update(keyM1C1, loyalty.FieldLogin, "b"))
	_, err := m.Save(context.Background(), keyM1C1)

	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, []int{4}, backend.bases)
	assert.Equal(t, StateOpen, m.State(keyM1C1))
}

func TestConcurrentSaveIsRejected(t *testing.T) {
	backend := &fakeBackend{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	m, _, projector := newTestManager(loyalty.ProgramRecord{Login: "a"}, backend, nil)

	require.NoError(t, m.Start(keyM1C1))
	require.NoError(t, m.Update(keyM1C1, loyalty.FieldLogin, "b"))

	done := make(chan error, 1)
	go func() {
		_, err := m.Save(context.Background(), keyM1C1)
		done <- err
	}()
	<-backend.entered

	assert.Equal(t, StateSaving, m.State(keyM1C1))
	_, err := m.Save(context.Background(), keyM1C1)
	assert.ErrorIs(t, err, ErrSaveInProgress)
	assert.ErrorIs(t, m.Cancel(keyM1C1), ErrSaveInProgress)
	assert.ErrorIs(t, m.Update(keyM1C1, loyalty.FieldLogin, "c"), ErrSaveInProgress)

	close(backend.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, backend.saveCount())
	assert.Len(t, projector.GlobalView(), 1)
}

func TestKeysAreIndependent(t *testing.T) {
	store := NewRecordStore()
	store.ReplaceAll([]loyalty.Member{{
		ID:   "m1",
		Name: "Marilise",
		Programs: map[string]loyalty.ProgramRecord{
			"latam":  {Login: "x"},
			"smiles": {Login: "y"},
		},
	}})
	m := NewManager(store, &fakeBackend{}, NewProjector(nil))
	latam := loyalty.Key{MemberID: "m1", CompanyID: "latam"}
	smiles := loyalty.Key{MemberID: "m1", CompanyID: "smiles"}

	require.NoError(t, m.Start(latam))
	require.NoError(t, m.Start(smiles))
	require.NoError(t, m.Update(latam, loyalty.FieldLogin, "x2"))
	require.NoError(t, m.Cancel(smiles))

	assert.Equal(t, StateOpen, m.State(latam))
	assert.Equal(t, StateClosed, m.State(smiles))
	shown, _ := m.DisplayRecord(latam)
	assert.Equal(t, "x2", shown.Login)
}

func TestUpdateOnClosedSession(t *testing.T) {
	m, _, _ := newTestManager(loyalty.ProgramRecord{}, &fakeBackend{}, nil)
	assert.ErrorIs(t, m.Update(keyM1C1, loyalty.FieldLogin, "x"), ErrSessionClosed)
}

func TestUpdateRejectsUnknownField(t *testing.T) {
	m, _, _ := newTestManager(loyalty.ProgramRecord{}, &fakeBackend{}, nil)
	require.NoError(t, m.Start(keyM1C1))
	assert.ErrorIs(t, m.Update(keyM1C1, "last_updated", "x"), loyalty.ErrUnknownField)
}

func TestPartialLogFailureIsTolerated(t *testing.T) {
	sink := &fakeSink{failOn: loyalty.FieldNotes}
	m, store, projector := newTestManager(loyalty.ProgramRecord{}, &fakeBackend{}, sink)

	require.NoError(t, m.Start(keyM1C1))
	require.NoError(t, m.Update(keyM1C1, loyalty.FieldLogin, "l"))
	require.NoError(t, m.Update(keyM1C1, loyalty.FieldNotes, "n"))
	require.NoError(t, m.Update(keyM1C1, loyalty.FieldCPF, "c"))
	result, err := m.Save(context.Background(), keyM1C1)

	require.NoError(t, err, "the record itself was saved")
	require.Error(t, result.LogErr)
	assert.ErrorIs(t, result.LogErr, ErrPersistenceFailure)
	assert.Len(t, sink.entries, 2)
	assert.Len(t, projector.GlobalView(), 2)
	rec, _ := store.Get(keyM1C1)
	assert.Equal(t, "n", rec.Notes)
}

func TestMultiFieldSaveSharesTimestamp(t *testing.T) {
	m, _, projector := newTestManager(loyalty.ProgramRecord{}, &fakeBackend{}, nil)

	require.NoError(t, m.Start(keyM1C1))
	require.NoError(t, m.Update(keyM1C1, loyalty.FieldLogin, "l"))
	require.NoError(t, m.Update(keyM1C1, loyalty.FieldCardNumber, "123"))
	require.NoError(t, m.Update(keyM1C1, loyalty.CustomField("seat"), "Aisle"))
	_, err := m.Save(context.Background(), keyM1C1)
	require.NoError(t, err)

	log := projector.GlobalView()
	require.Len(t, log, 3)
	for _, e := range log {
		assert.Equal(t, fixedNow, e.Timestamp)
	}
	assert.Equal(t, "custom_fields.seat", log[2].FieldChanged)
}

func TestSaveResultSurvivesRefreshDroppingRecord(t *testing.T) {
	backend := &fakeBackend{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	m, store, _ := newTestManager(loyalty.ProgramRecord{Login: "a", Notes: "keep"}, backend, nil)

	require.NoError(t, m.Start(keyM1C1))
	require.NoError(t, m.Update(keyM1C1, loyalty.FieldLogin, "b"))

	type saved struct {
		result SaveResult
		err    error
	}
	done := make(chan saved, 1)
	go func() {
		result, err := m.Save(context.Background(), keyM1C1)
		done <- saved{result, err}
	}()
	<-backend.entered
	store.ReplaceAll(nil)
	close(backend.release)

	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, "b", got.result.Record.Login)
	assert.Equal(t, "keep", got.result.Record.Notes)
	assert.Equal(t, 1, got.result.Record.Version)
	_, ok := store.Get(keyM1C1)
	assert.False(t, ok)
}
