// internal/companies/postgres.go
package companies

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"familymiles/internal/loyalty"
)

// Schema creates the companies table.
const Schema = `
CREATE TABLE IF NOT EXISTS companies (
	seq BIGSERIAL,
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	color TEXT NOT NULL,
	logo TEXT NOT NULL DEFAULT '',
	points_name TEXT NOT NULL,
	max_members INT NOT NULL DEFAULT 4
);
`

type companyRow struct {
	ID         string `db:"id"`
	Name       string `db:"name"`
	Color      string `db:"color"`
	Logo       string `db:"logo"`
	PointsName string `db:"points_name"`
	MaxMembers int    `db:"max_members"`
}

func (r companyRow) toCompany() loyalty.Company {
	return loyalty.Company{
		ID:         r.ID,
		Name:       r.Name,
		Color:      r.Color,
		Logo:       r.Logo,
		PointsName: r.PointsName,
		MaxMembers: r.MaxMembers,
	}
}

func fromCompany(c loyalty.Company) companyRow {
	return companyRow{
		ID:         c.ID,
		Name:       c.Name,
		Color:      c.Color,
		Logo:       c.Logo,
		PointsName: c.PointsName,
		MaxMembers: c.MaxMembers,
	}
}

// PostgresStore persists companies in PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) List(ctx context.Context) ([]loyalty.Company, error) {
	var rows []companyRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, color, logo, points_name, max_members
		FROM companies
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	out := make([]loyalty.Company, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toCompany())
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (loyalty.Company, error) {
	var row companyRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, color, logo, points_name, max_members
		FROM companies
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return loyalty.Company{}, fmt.Errorf("%w: %s", ErrCompanyNotFound, id)
	}
	if err != nil {
		return loyalty.Company{}, fmt.Errorf("failed to get company: %w", err)
	}
	return row.toCompany(), nil
}

func (s *PostgresStore) Insert(ctx context.Context, c loyalty.Company) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO companies (id, name, color, logo, points_name, max_members)
		VALUES (:id, :name, :color, :logo, :points_name, :max_members)
	`, fromCompany(c))
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicateCompany, c.ID)
	}
	return err
}

func (s *PostgresStore) Update(ctx context.Context, c loyalty.Company) error {
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE companies
		SET name = :name, color = :color, logo = :logo, points_name = :points_name, max_members = :max_members
		WHERE id = :id
	`, fromCompany(c))
	if err != nil {
		return err
	}
	return expectOneRow(res, c.ID)
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM companies WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrCompanyNotFound, id)
	}
	return nil
}
