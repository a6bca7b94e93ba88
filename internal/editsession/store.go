// internal/editsession/store.go
package editsession

import (
	"context"
	"fmt"
	"sync"
	"time"

	"familymiles/internal/loyalty"
)

// RecordStore holds the last server-confirmed state of every program record.
type RecordStore struct {
	mu        sync.RWMutex
	members   map[string]loyalty.Member
	companies map[string]loyalty.Company
	now       func() time.Time
}

// NewRecordStore creates an empty store.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		members:   make(map[string]loyalty.Member),
		companies: make(map[string]loyalty.Company),
		now:       time.Now,
	}
}

// Get returns the confirmed record for key. ok is false when the member is
// not enrolled in the company or unknown.
func (s *RecordStore) Get(key loyalty.Key) (loyalty.ProgramRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[key.MemberID]
	if !ok {
		return loyalty.ProgramRecord{}, false
	}
	return m.Program(key.CompanyID)
}

// ReplaceAll swaps in a fresh snapshot of members.
func (s *RecordStore) ReplaceAll(members []loyalty.Member) {
	next := make(map[string]loyalty.Member, len(members))
	for _, m := range members {
		next[m.ID] = cloneMember(m)
	}
	s.mu.Lock()
	s.members = next
	s.mu.Unlock()
}

// SetCompanies swaps in a fresh snapshot of companies.
func (s *RecordStore) SetCompanies(companies []loyalty.Company) {
	next := make(map[string]loyalty.Company, len(companies))
	for _, c := range companies {
		next[c.ID] = c
	}
	s.mu.Lock()
	s.companies = next
	s.mu.Unlock()
}

// ApplyConfirmedChange updates only the changed fields of key's record,
// stamps last_updated and derives last_change from the last change. A zero
// receipt time means now.
func (s *RecordStore) ApplyConfirmedChange(key loyalty.Key, changes loyalty.Changes, receipt Receipt) (loyalty.ProgramRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[key.MemberID]
	if !ok {
		return loyalty.ProgramRecord{}, false
	}
	rec, ok := m.Programs[key.CompanyID]
	if !ok {
		return loyalty.ProgramRecord{}, false
	}
	at := receipt.UpdatedAt
	if at.IsZero() {
		at = s.now()
	}
	updated := rec.Apply(changes, at)
	if receipt.Version > 0 {
		updated.Version = receipt.Version
	}
	m.Programs[key.CompanyID] = updated
	return updated.Clone(), true
}

// Member returns the member with id.
func (s *RecordStore) Member(id string) (loyalty.Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return loyalty.Member{}, false
	}
	return cloneMember(m), true
}

// Company returns the company with id. Unknown companies resolve to a
// placeholder carrying only the id so log rows can still be projected.
func (s *RecordStore) Company(id string) loyalty.Company {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.companies[id]; ok {
		return c
	}
	return loyalty.Company{ID: id, Name: id}
}

// Members returns every member in family order.
func (s *RecordStore) Members() []loyalty.Member {
	s.mu.RLock()
	out := make([]loyalty.Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, cloneMember(m))
	}
	s.mu.RUnlock()
	loyalty.SortMembers(out)
	return out
}

// Companies returns every known company.
func (s *RecordStore) Companies() []loyalty.Company {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]loyalty.Company, 0, len(s.companies))
	for _, c := range s.companies {
		out = append(out, c)
	}
	return out
}

// Refresh refetches members and companies. On failure the previous snapshot
// is kept and a PersistenceFailure is returned for the caller to surface.
func (s *RecordStore) Refresh(ctx context.Context, f Fetcher) error {
	companies, err := f.ListCompanies(ctx)
	if err != nil {
		return newError(KindPersistenceFailure, loyalty.Key{}, fmt.Errorf("refresh companies: %w", err))
	}
	members, err := f.ListMembers(ctx)
	if err != nil {
		return newError(KindPersistenceFailure, loyalty.Key{}, fmt.Errorf("refresh members: %w", err))
	}
	s.SetCompanies(companies)
	s.ReplaceAll(members)
	return nil
}

func cloneMember(m loyalty.Member) loyalty.Member {
	out := m
	out.Programs = make(map[string]loyalty.ProgramRecord, len(m.Programs))
	for cid, rec := range m.Programs {
		out.Programs[cid] = rec.Clone()
	}
	return out
}
