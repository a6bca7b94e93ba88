// internal/postits/store.go
package postits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"familymiles/internal/loyalty"
)

// Store persists post-its. List returns the newest first.
type Store interface {
	List(ctx context.Context) ([]loyalty.PostIt, error)
	Get(ctx context.Context, id string) (loyalty.PostIt, error)
	Insert(ctx context.Context, p loyalty.PostIt) error
	Update(ctx context.Context, p loyalty.PostIt) error
	Delete(ctx context.Context, id string) error
}

type MemoryStore struct {
	mu    sync.RWMutex
	notes map[string]loyalty.PostIt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{notes: make(map[string]loyalty.PostIt)}
}

func (s *MemoryStore) List(ctx context.Context) ([]loyalty.PostIt, error) {
	s.mu.RLock()
	out := make([]loyalty.PostIt, 0, len(s.notes))
	for _, p := range s.notes {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (loyalty.PostIt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.notes[id]
	if !ok {
		return loyalty.PostIt{}, fmt.Errorf("%w: %s", ErrPostItNotFound, id)
	}
	return p, nil
}

func (s *MemoryStore) Insert(ctx context.Context, p loyalty.PostIt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[p.ID] = p
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, p loyalty.PostIt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[p.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrPostItNotFound, p.ID)
	}
	s.notes[p.ID] = p
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrPostItNotFound, id)
	}
	delete(s.notes, id)
	return nil
}

// Schema creates the postits table.
const Schema = `
CREATE TABLE IF NOT EXISTS postits (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

type postItRow struct {
	ID        string    `db:"id"`
	Content   string    `db:"content"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r postItRow) toPostIt() loyalty.PostIt {
	return loyalty.PostIt{ID: r.ID, Content: r.Content, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) List(ctx context.Context) ([]loyalty.PostIt, error) {
	var rows []postItRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, content, created_at, updated_at
		FROM postits
		ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list post-its: %w", err)
	}
	out := make([]loyalty.PostIt, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toPostIt())
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (loyalty.PostIt, error) {
	var row postItRow
	err := s.db.GetContext(ctx, &row, `SELECT id, content, created_at, updated_at FROM postits WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return loyalty.PostIt{}, fmt.Errorf("%w: %s", ErrPostItNotFound, id)
	}
	if err != nil {
		return loyalty.PostIt{}, fmt.Errorf("failed to get post-it: %w", err)
	}
	return row.toPostIt(), nil
}

func (s *PostgresStore) Insert(ctx context.Context, p loyalty.PostIt) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO postits (id, content, created_at, updated_at)
		VALUES (:id, :content, :created_at, :updated_at)
	`, postItRow(p))
	return err
}

func (s *PostgresStore) Update(ctx context.Context, p loyalty.PostIt) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE postits SET content = $1, updated_at = $2 WHERE id = $3
	`, p.Content, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrPostItNotFound, p.ID)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM postits WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrPostItNotFound, id)
	}
	return nil
}
