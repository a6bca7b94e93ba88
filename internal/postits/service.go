// internal/postits/service.go
package postits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"familymiles/internal/loyalty"
)

var (
	ErrPostItNotFound = errors.New("post-it not found")
	ErrEmptyContent   = errors.New("post-it content is empty")
)

// Service defines the interface for free-text dashboard notes.
type Service interface {
	List(ctx context.Context) ([]loyalty.PostIt, error)
	Create(ctx context.Context, content string) (loyalty.PostIt, error)
	Update(ctx context.Context, id, content string) (loyalty.PostIt, error)
	Delete(ctx context.Context, id string) error
}

type service struct {
	store Store
	now   func() time.Time
}

// NewService creates a new post-it service instance.
func NewService(store Store) Service {
	return &service{store: store, now: time.Now}
}

func (s *service) List(ctx context.Context) ([]loyalty.PostIt, error) {
	return s.store.List(ctx)
}

func (s *service) Create(ctx context.Context, content string) (loyalty.PostIt, error) {
	if strings.TrimSpace(content) == "" {
		return loyalty.PostIt{}, ErrEmptyContent
	}
	now := s.now().UTC()
	p := loyalty.PostIt{ID: uuid.NewString(), Content: content, CreatedAt: now, UpdatedAt: now}
	if err := s.store.Insert(ctx, p); err != nil {
		return loyalty.PostIt{}, fmt.Errorf("failed to insert post-it: %w", err)
	}
	return p, nil
}

func (s *service) Update(ctx context.Context, id, content string) (loyalty.PostIt, error) {
	if strings.TrimSpace(content) == "" {
		return loyalty.PostIt{}, ErrEmptyContent
	}
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return loyalty.PostIt{}, err
	}
	p.Content = content
	p.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, p); err != nil {
		return loyalty.PostIt{}, err
	}
	return p, nil
}

func (s *service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}
