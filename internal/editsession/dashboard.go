// internal/editsession/dashboard.go
package editsession

import (
	"context"
	"errors"
	"fmt"

	"familymiles/internal/loyalty"
)

// ErrNoSuchField is returned when renaming a custom field that is not set.
var ErrNoSuchField = errors.New("custom field not set")

// ErrSessionOpen is returned by multi-step operations that need the key to
// have no pending edits.
var ErrSessionOpen = errors.New("an edit session is already open for this record")

// Dashboard is the boundary the UI layer talks to. It composes the record
// store, the session manager and the log projector.
type Dashboard struct {
	Records  *RecordStore
	Sessions *Manager
	Log      *Projector
	fetcher  Fetcher
}

// NewDashboard wires the three components. sink may be nil.
func NewDashboard(fetcher Fetcher, persister Persister, sink LogSink, opts ...Option) *Dashboard {
	records := NewRecordStore()
	projector := NewProjector(sink)
	return &Dashboard{
		Records:  records,
		Sessions: NewManager(records, persister, projector, opts...),
		Log:      projector,
		fetcher:  fetcher,
	}
}

// Refresh reloads records and history. Both are attempted; either failure
// leaves that side's previous snapshot in place.
func (d *Dashboard) Refresh(ctx context.Context) error {
	return errors.Join(d.Records.Refresh(ctx, d.fetcher), d.Log.Refresh(ctx, d.fetcher))
}

func (d *Dashboard) StartEdit(key loyalty.Key) error {
	return d.Sessions.Start(key)
}

func (d *Dashboard) UpdateField(key loyalty.Key, field loyalty.Field, value string) error {
	return d.Sessions.Update(key, field, value)
}

func (d *Dashboard) SaveEdit(ctx context.Context, key loyalty.Key) (SaveResult, error) {
	return d.Sessions.Save(ctx, key)
}

func (d *Dashboard) CancelEdit(key loyalty.Key) error {
	return d.Sessions.Cancel(key)
}

func (d *Dashboard) GetDisplayRecord(key loyalty.Key) (loyalty.ProgramRecord, bool) {
	return d.Sessions.DisplayRecord(key)
}

func (d *Dashboard) GlobalLog() []loyalty.LogEntry {
	return d.Log.GlobalView()
}

func (d *Dashboard) MemberLog(memberID string) []loyalty.LogEntry {
	return d.Log.MemberView(memberID)
}

// DeleteField clears field and saves immediately. Numeric fields clear to 0.
func (d *Dashboard) DeleteField(ctx context.Context, key loyalty.Key, field loyalty.Field) (SaveResult, error) {
	if err := d.Sessions.Start(key); err != nil {
		return SaveResult{}, err
	}
	if err := d.Sessions.Update(key, field, loyalty.Empty); err != nil && !IsWarning(err) {
		_ = d.Sessions.Cancel(key)
		return SaveResult{}, err
	}
	return d.Sessions.Save(ctx, key)
}

// RenameCustomField copies oldName's value to newName and then clears
// oldName, as two separately saved and logged steps. The rename is not
// atomic: if the second save fails both fields remain set.
func (d *Dashboard) RenameCustomField(ctx context.Context, key loyalty.Key, oldName, newName string) error {
	if d.Sessions.State(key) != StateClosed {
		return fmt.Errorf("%w: %s", ErrSessionOpen, key)
	}
	rec, ok := d.Records.Get(key)
	if !ok {
		return newError(KindNotEnrolled, key, nil)
	}
	value, ok := rec.CustomFields[oldName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoSuchField, oldName)
	}
	if oldName == newName {
		return nil
	}

	if err := d.saveOne(ctx, key, loyalty.CustomField(newName), value); err != nil {
		return fmt.Errorf("rename %q: add %q: %w", oldName, newName, err)
	}
	if err := d.saveOne(ctx, key, loyalty.CustomField(oldName), loyalty.Empty); err != nil {
		return fmt.Errorf("rename %q: remove old field (both now set): %w", oldName, err)
	}
	return nil
}

func (d *Dashboard) saveOne(ctx context.Context, key loyalty.Key, field loyalty.Field, value string) error {
	if err := d.Sessions.Start(key); err != nil {
		return err
	}
	if err := d.Sessions.Update(key, field, value); err != nil {
		_ = d.Sessions.Cancel(key)
		return err
	}
	if _, err := d.Sessions.Save(ctx, key); err != nil {
		_ = d.Sessions.Cancel(key)
		return err
	}
	return nil
}
