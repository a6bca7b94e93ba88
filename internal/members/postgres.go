// internal/members/postgres.go
package members

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"familymiles/internal/loyalty"
	"familymiles/pkg/eventstore"
)

// Schema creates the member and program read models. The audit log lives in
// the event store.
const Schema = `
CREATE TABLE IF NOT EXISTS members (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS members_name_idx ON members (lower(name));
CREATE TABLE IF NOT EXISTS programs (
	member_id TEXT NOT NULL REFERENCES members(id) ON DELETE CASCADE,
	company_id TEXT NOT NULL,
	record JSONB NOT NULL,
	version INT NOT NULL DEFAULT 0,
	PRIMARY KEY (member_id, company_id)
);
CREATE INDEX IF NOT EXISTS programs_company_idx ON programs (company_id);
`

const (
	aggregateProgram = "program"
	aggregateMember  = "member"
)

func programAggregate(key loyalty.Key) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("familymiles:program:"+key.String()))
}

func memberAggregate(id string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("familymiles:member:"+id))
}

func eventType(e loyalty.LogEntry) string {
	switch {
	case e.FieldChanged == loyalty.FieldMember && e.ChangeType == loyalty.ChangeCreate:
		return "MemberCreated"
	case e.FieldChanged == loyalty.FieldMember && e.ChangeType == loyalty.ChangeDelete:
		return "MemberDeleted"
	case e.FieldChanged == loyalty.FieldProgram && e.ChangeType == loyalty.ChangeCreate:
		return "ProgramEnrolled"
	case e.FieldChanged == loyalty.FieldProgram && e.ChangeType == loyalty.ChangeDelete:
		return "ProgramRemoved"
	}
	return "FieldChanged"
}

func toEvents(entries []loyalty.LogEntry) ([]eventstore.Event, error) {
	events := make([]eventstore.Event, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal log entry: %w", err)
		}
		events = append(events, eventstore.Event{
			EventType: eventType(e),
			EventData: data,
			Metadata:  eventstore.Metadata{"member_id": e.MemberID, "company_id": e.CompanyID},
			CreatedAt: e.Timestamp,
		})
	}
	return events, nil
}

type memberRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

type programRow struct {
	MemberID  string `db:"member_id"`
	CompanyID string `db:"company_id"`
	Record    []byte `db:"record"`
	Version   int    `db:"version"`
}

func (r programRow) toRecord() (loyalty.ProgramRecord, error) {
	var rec loyalty.ProgramRecord
	if err := json.Unmarshal(r.Record, &rec); err != nil {
		return rec, fmt.Errorf("decode program %s/%s: %w", r.MemberID, r.CompanyID, err)
	}
	rec.Version = r.Version
	return rec, nil
}

// PostgresStore keeps members and programs as read models in PostgreSQL and
// appends every log entry to the event store in the same transaction.
type PostgresStore struct {
	db     *sqlx.DB
	events *eventstore.EventStore
}

func NewPostgresStore(db *sqlx.DB, events *eventstore.EventStore) *PostgresStore {
	return &PostgresStore{db: db, events: events}
}

func (s *PostgresStore) ListMembers(ctx context.Context) ([]loyalty.Member, error) {
	var rows []memberRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, name, created_at FROM members`); err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	var programs []programRow
	if err := s.db.SelectContext(ctx, &programs, `SELECT member_id, company_id, record, version FROM programs`); err != nil {
		return nil, fmt.Errorf("failed to list programs: %w", err)
	}
	return assemble(rows, programs)
}

func (s *PostgresStore) GetMember(ctx context.Context, id string) (loyalty.Member, error) {
	var row memberRow
	err := s.db.GetContext(ctx, &row, `SELECT id, name, created_at FROM members WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return loyalty.Member{}, fmt.Errorf("%w: %s", ErrMemberNotFound, id)
	}
	if err != nil {
		return loyalty.Member{}, fmt.Errorf("failed to get member: %w", err)
	}
	var programs []programRow
	err = s.db.SelectContext(ctx, &programs, `
		SELECT member_id, company_id, record, version
		FROM programs
		WHERE member_id = $1
	`, id)
	if err != nil {
		return loyalty.Member{}, fmt.Errorf("failed to get programs: %w", err)
	}
	members, err := assemble([]memberRow{row}, programs)
	if err != nil {
		return loyalty.Member{}, err
	}
	return members[0], nil
}

func assemble(rows []memberRow, programs []programRow) ([]loyalty.Member, error) {
	byID := make(map[string]*loyalty.Member, len(rows))
	out := make([]loyalty.Member, len(rows))
	for i, r := range rows {
		out[i] = loyalty.Member{ID: r.ID, Name: r.Name, CreatedAt: r.CreatedAt, Programs: map[string]loyalty.ProgramRecord{}}
		byID[r.ID] = &out[i]
	}
	for _, p := range programs {
		m, ok := byID[p.MemberID]
		if !ok {
			continue
		}
		rec, err := p.toRecord()
		if err != nil {
			return nil, err
		}
		m.Programs[p.CompanyID] = rec
	}
	return out, nil
}

// withTx runs fn in a serializable transaction and commits it.
func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.events.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return eventstore.Commit(tx)
}

func (s *PostgresStore) appendMemberLog(ctx context.Context, tx *sqlx.Tx, memberID string, entries []loyalty.LogEntry) error {
	events, err := toEvents(entries)
	if err != nil {
		return err
	}
	return s.events.AppendNextTx(ctx, tx, memberAggregate(memberID), aggregateMember, events)
}

func insertProgram(ctx context.Context, tx *sqlx.Tx, key loyalty.Key, rec loyalty.ProgramRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO programs (member_id, company_id, record, version)
		VALUES ($1, $2, $3, $4)
	`, key.MemberID, key.CompanyID, data, rec.Version)
	return err
}

func (s *PostgresStore) InsertMember(ctx context.Context, m loyalty.Member, entries []loyalty.LogEntry) error {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO members (id, name, created_at)
			VALUES ($1, $2, $3)
		`, m.ID, m.Name, m.CreatedAt)
		if err != nil {
			return err
		}
		for cid, rec := range m.Programs {
			key := loyalty.Key{MemberID: m.ID, CompanyID: cid}
			if rec.Version, err = s.events.CurrentVersionTx(ctx, tx, programAggregate(key)); err != nil {
				return err
			}
			if err := insertProgram(ctx, tx, key, rec); err != nil {
				return err
			}
		}
		return s.appendMemberLog(ctx, tx, m.ID, entries)
	})
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicateMember, m.Name)
	}
	return err
}

func (s *PostgresStore) DeleteMember(ctx context.Context, id string, entries []loyalty.LogEntry) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM members WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrMemberNotFound, id)
		}
		return s.appendMemberLog(ctx, tx, id, entries)
	})
}

func (s *PostgresStore) InsertProgram(ctx context.Context, key loyalty.Key, rec loyalty.ProgramRecord, entries []loyalty.LogEntry) (loyalty.ProgramRecord, error) {
	rec = rec.Clone()
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if rec.Version, err = s.events.CurrentVersionTx(ctx, tx, programAggregate(key)); err != nil {
			return err
		}
		if err := insertProgram(ctx, tx, key, rec); err != nil {
			return err
		}
		return s.appendMemberLog(ctx, tx, key.MemberID, entries)
	})
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return loyalty.ProgramRecord{}, fmt.Errorf("%w: %s", ErrAlreadyEnrolled, key)
		case "23503":
			return loyalty.ProgramRecord{}, fmt.Errorf("%w: %s", ErrMemberNotFound, key.MemberID)
		}
	}
	if err != nil {
		return loyalty.ProgramRecord{}, err
	}
	return rec, nil
}

func (s *PostgresStore) DeleteProgram(ctx context.Context, key loyalty.Key, entries []loyalty.LogEntry) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM programs WHERE member_id = $1 AND company_id = $2
		`, key.MemberID, key.CompanyID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrNotEnrolled, key)
		}
		return s.appendMemberLog(ctx, tx, key.MemberID, entries)
	})
}

// SaveProgram appends one event per entry to the program's stream, using the
// stream version as the concurrency token, and updates the read model.
func (s *PostgresStore) SaveProgram(ctx context.Context, key loyalty.Key, rec loyalty.ProgramRecord, expectedVersion int, entries []loyalty.LogEntry) (loyalty.ProgramRecord, error) {
	rec = rec.Clone()
	rec.Version = expectedVersion + len(entries)
	data, err := json.Marshal(rec)
	if err != nil {
		return loyalty.ProgramRecord{}, err
	}
	events, err := toEvents(entries)
	if err != nil {
		return loyalty.ProgramRecord{}, err
	}

	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.events.AppendEventsTx(ctx, tx, programAggregate(key), aggregateProgram, expectedVersion, events); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE programs
			SET record = $1, version = $2
			WHERE member_id = $3 AND company_id = $4 AND version = $5
		`, data, rec.Version, key.MemberID, key.CompanyID, expectedVersion)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return eventstore.ErrConcurrencyConflict
		}
		return nil
	})
	if errors.Is(err, eventstore.ErrConcurrencyConflict) {
		return loyalty.ProgramRecord{}, fmt.Errorf("%w: %s expected version %d", ErrVersionConflict, key, expectedVersion)
	}
	if err != nil {
		return loyalty.ProgramRecord{}, fmt.Errorf("failed to save program: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) CountEnrolled(ctx context.Context, companyID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM programs WHERE company_id = $1`, companyID)
	return n, err
}

// ListLog replays the member and program streams in append order.
func (s *PostgresStore) ListLog(ctx context.Context) ([]loyalty.LogEntry, error) {
	var out []loyalty.LogEntry
	err := s.events.ReadAll(ctx, eventstore.DefaultBatchSize, func(e eventstore.Event) error {
		if e.AggregateType != aggregateProgram && e.AggregateType != aggregateMember {
			return nil
		}
		var entry loyalty.LogEntry
		if err := json.Unmarshal(e.EventData, &entry); err != nil {
			return fmt.Errorf("decode event %d: %w", e.ID, err)
		}
		out = append(out, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	return out, nil
}
