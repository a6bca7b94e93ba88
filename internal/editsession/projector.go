// internal/editsession/projector.go
package editsession

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"familymiles/internal/loyalty"
)

// Projector keeps the local, append-only view of the audit log.
type Projector struct {
	mu      sync.RWMutex
	entries []loyalty.LogEntry
	sink    LogSink
}

// NewProjector creates a projector. sink may be nil when the backend writes
// history itself.
func NewProjector(sink LogSink) *Projector {
	return &Projector{sink: sink}
}

// Project derives the audit rows for a confirmed diff.
func (p *Projector) Project(member loyalty.Member, company loyalty.Company, changes loyalty.Changes, receipt Receipt) []loyalty.LogEntry {
	return loyalty.Project(member, company, changes, receipt.UpdatedAt)
}

// AppendAll persists entries one by one. Entries the sink accepted join the
// local view even when others fail; the failures are returned joined.
func (p *Projector) AppendAll(ctx context.Context, entries []loyalty.LogEntry) error {
	var errs []error
	accepted := make([]loyalty.LogEntry, 0, len(entries))
	for _, e := range entries {
		if p.sink != nil {
			if err := p.sink.AppendLog(ctx, e); err != nil {
				errs = append(errs, fmt.Errorf("append %s %s: %w", e.FieldChanged, e.ID, err))
				continue
			}
		}
		accepted = append(accepted, e)
	}

	p.mu.Lock()
	p.entries = append(p.entries, accepted...)
	p.mu.Unlock()

	if len(errs) > 0 {
		return newError(KindPersistenceFailure, loyalty.Key{}, errors.Join(errs...))
	}
	return nil
}

// Replace swaps the local view for a freshly fetched log.
func (p *Projector) Replace(entries []loyalty.LogEntry) {
	next := append([]loyalty.LogEntry(nil), entries...)
	p.mu.Lock()
	p.entries = next
	p.mu.Unlock()
}

// Refresh reloads the view from the backend, keeping the old view on error.
func (p *Projector) Refresh(ctx context.Context, f Fetcher) error {
	entries, err := f.GlobalLog(ctx)
	if err != nil {
		return newError(KindPersistenceFailure, loyalty.Key{}, fmt.Errorf("refresh log: %w", err))
	}
	p.Replace(entries)
	return nil
}

// GlobalView returns every entry ordered by timestamp, oldest first.
func (p *Projector) GlobalView() []loyalty.LogEntry {
	p.mu.RLock()
	out := append([]loyalty.LogEntry(nil), p.entries...)
	p.mu.RUnlock()
	loyalty.SortLog(out)
	return out
}

// MemberView returns the global view filtered to one member.
func (p *Projector) MemberView(memberID string) []loyalty.LogEntry {
	var out []loyalty.LogEntry
	for _, e := range p.GlobalView() {
		if e.MemberID == memberID {
			out = append(out, e)
		}
	}
	return out
}
