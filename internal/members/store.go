// internal/members/store.go
package members

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"familymiles/internal/loyalty"
)

// Store persists members, their program records and the audit log. Every
// mutation carries the log entries describing it so that implementations can
// write both together.
type Store interface {
	ListMembers(ctx context.Context) ([]loyalty.Member, error)
	GetMember(ctx context.Context, id string) (loyalty.Member, error)
	InsertMember(ctx context.Context, m loyalty.Member, entries []loyalty.LogEntry) error
	DeleteMember(ctx context.Context, id string, entries []loyalty.LogEntry) error

	// InsertProgram enrolls key with rec and returns it with its version set.
	InsertProgram(ctx context.Context, key loyalty.Key, rec loyalty.ProgramRecord, entries []loyalty.LogEntry) (loyalty.ProgramRecord, error)
	DeleteProgram(ctx context.Context, key loyalty.Key, entries []loyalty.LogEntry) error
	// SaveProgram replaces key's record if its version still equals
	// expectedVersion. The new version is expectedVersion+len(entries).
	SaveProgram(ctx context.Context, key loyalty.Key, rec loyalty.ProgramRecord, expectedVersion int, entries []loyalty.LogEntry) (loyalty.ProgramRecord, error)
	CountEnrolled(ctx context.Context, companyID string) (int, error)

	ListLog(ctx context.Context) ([]loyalty.LogEntry, error)
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	members  map[string]loyalty.Member
	versions map[loyalty.Key]int
	log      []loyalty.LogEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		members:  make(map[string]loyalty.Member),
		versions: make(map[loyalty.Key]int),
	}
}

func (s *MemoryStore) ListMembers(ctx context.Context) ([]loyalty.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]loyalty.Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, cloneMember(m))
	}
	return out, nil
}

func (s *MemoryStore) GetMember(ctx context.Context, id string) (loyalty.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return loyalty.Member{}, fmt.Errorf("%w: %s", ErrMemberNotFound, id)
	}
	return cloneMember(m), nil
}

func (s *MemoryStore) InsertMember(ctx context.Context, m loyalty.Member, entries []loyalty.LogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.members {
		if existing.ID == m.ID || strings.EqualFold(existing.Name, m.Name) {
			return fmt.Errorf("%w: %s", ErrDuplicateMember, m.Name)
		}
	}
	m = cloneMember(m)
	for cid, rec := range m.Programs {
		rec.Version = s.versions[loyalty.Key{MemberID: m.ID, CompanyID: cid}]
		m.Programs[cid] = rec
	}
	s.members[m.ID] = m
	s.log = append(s.log, entries...)
	return nil
}

func (s *MemoryStore) DeleteMember(ctx context.Context, id string, entries []loyalty.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[id]; !ok {
		return fmt.Errorf("%w: %s", ErrMemberNotFound, id)
	}
	delete(s.members, id)
	s.log = append(s.log, entries...)
	return nil
}

func (s *MemoryStore) InsertProgram(ctx context.Context, key loyalty.Key, rec loyalty.ProgramRecord, entries []loyalty.LogEntry) (loyalty.ProgramRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[key.MemberID]
	if !ok {
		return loyalty.ProgramRecord{}, fmt.Errorf("%w: %s", ErrMemberNotFound, key.MemberID)
	}
	if _, ok := m.Programs[key.CompanyID]; ok {
		return loyalty.ProgramRecord{}, fmt.Errorf("%w: %s", ErrAlreadyEnrolled, key)
	}
	rec = rec.Clone()
	rec.Version = s.versions[key]
	if m.Programs == nil {
		m.Programs = make(map[string]loyalty.ProgramRecord)
	}
	m.Programs[key.CompanyID] = rec
	s.log = append(s.log, entries...)
	return rec.Clone(), nil
}

func (s *MemoryStore) DeleteProgram(ctx context.Context, key loyalty.Key, entries []loyalty.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[key.MemberID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMemberNotFound, key.MemberID)
	}
	if _, ok := m.Programs[key.CompanyID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotEnrolled, key)
	}
	delete(m.Programs, key.CompanyID)
	s.log = append(s.log, entries...)
	return nil
}

func (s *MemoryStore) SaveProgram(ctx context.Context, key loyalty.Key, rec loyalty.ProgramRecord, expectedVersion int, entries []loyalty.LogEntry) (loyalty.ProgramRecord, error) {
	if err := ctx.Err(); err != nil {
		return loyalty.ProgramRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[key.MemberID]
	if !ok {
		return loyalty.ProgramRecord{}, fmt.Errorf("%w: %s", ErrMemberNotFound, key.MemberID)
	}
	current, ok := m.Programs[key.CompanyID]
	if !ok {
		return loyalty.ProgramRecord{}, fmt.Errorf("%w: %s", ErrNotEnrolled, key)
	}
	if current.Version != expectedVersion {
		return loyalty.ProgramRecord{}, fmt.Errorf("%w: %s at version %d, expected %d", ErrVersionConflict, key, current.Version, expectedVersion)
	}
	rec = rec.Clone()
	rec.Version = expectedVersion + len(entries)
	s.versions[key] = rec.Version
	m.Programs[key.CompanyID] = rec
	s.log = append(s.log, entries...)
	return rec.Clone(), nil
}

func (s *MemoryStore) CountEnrolled(ctx context.Context, companyID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.members {
		if _, ok := m.Programs[companyID]; ok {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListLog(ctx context.Context) ([]loyalty.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]loyalty.LogEntry(nil), s.log...), nil
}

func cloneMember(m loyalty.Member) loyalty.Member {
	out := m
	out.Programs = make(map[string]loyalty.ProgramRecord, len(m.Programs))
	for cid, rec := range m.Programs {
		out.Programs[cid] = rec.Clone()
	}
	return out
}
