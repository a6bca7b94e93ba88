// internal/companies/store.go
package companies

import (
	"context"
	"fmt"
	"sync"

	"familymiles/internal/loyalty"
)

// Store persists companies. List returns them in creation order.
type Store interface {
	List(ctx context.Context) ([]loyalty.Company, error)
	Get(ctx context.Context, id string) (loyalty.Company, error)
	Insert(ctx context.Context, c loyalty.Company) error
	Update(ctx context.Context, c loyalty.Company) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps companies in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]loyalty.Company
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]loyalty.Company)}
}

func (s *MemoryStore) List(ctx context.Context) ([]loyalty.Company, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]loyalty.Company, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (loyalty.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return loyalty.Company{}, fmt.Errorf("%w: %s", ErrCompanyNotFound, id)
	}
	return c, nil
}

func (s *MemoryStore) Insert(ctx context.Context, c loyalty.Company) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[c.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCompany, c.ID)
	}
	s.byID[c.ID] = c
	s.order = append(s.order, c.ID)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, c loyalty.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[c.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrCompanyNotFound, c.ID)
	}
	s.byID[c.ID] = c
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrCompanyNotFound, id)
	}
	delete(s.byID, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
