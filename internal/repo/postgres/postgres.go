// Package postgres stores records in a single append-only table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/animus-labs/qmt/internal/domain"
	"github.com/animus-labs/qmt/internal/repo"
)

const DefaultTable = "qmt_records"

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PingContext(ctx context.Context) error
}

type Store struct {
	db     DB
	table  string
	closer func() error
}

// New wraps db. closer, when set, runs on Close.
func New(db DB, table string, closer func() error) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		table = DefaultTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{db: db, table: table, closer: closer}, nil
}

func (s *Store) schemaSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
		seq BIGSERIAL NOT NULL UNIQUE,
		program_id TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL,
		source JSONB NOT NULL,
		followup JSONB NOT NULL,
		res_a JSONB NOT NULL,
		res_b JSONB NOT NULL,
		divergence JSONB NOT NULL,
		exceptions JSONB NOT NULL,
		timings JSONB NOT NULL,
		integrity_sha256 TEXT NOT NULL
	)`, s.table)
}

// EnsureSchema creates the record table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.schemaSQL()); err != nil {
		return fmt.Errorf("ensure %s: %w", s.table, err)
	}
	return nil
}

const recordColumns = `program_id, created_at, source, followup, res_a, res_b, divergence, exceptions, timings, integrity_sha256`

func (s *Store) Append(ctx context.Context, rec domain.Record) error {
	rec, err := repo.Normalize(rec)
	if err != nil {
		return err
	}

	args := []any{rec.ProgramID, rec.CreatedAt}
	for _, v := range []any{rec.Source, rec.Followup, rec.SourceResult, rec.FollowupResult, divergence(rec.Divergence), rec.Exceptions, rec.Timings} {
		blob, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		args = append(args, blob)
	}
	args = append(args, rec.IntegritySHA256)

	var seq int64
	err = s.db.QueryRowContext(
		ctx,
		fmt.Sprintf(`INSERT INTO %s (%s)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (program_id) DO NOTHING
		RETURNING seq`, s.table, recordColumns),
		args...,
	).Scan(&seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", repo.ErrDuplicate, rec.ProgramID)
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, programID string) (domain.Record, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE program_id = $1`, recordColumns, s.table),
		programID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, fmt.Errorf("%w: %s", repo.ErrNotFound, programID)
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context, limit int) ([]domain.Record, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx,
			fmt.Sprintf(`SELECT %[1]s FROM (
				SELECT seq, %[1]s FROM %[2]s ORDER BY seq DESC LIMIT $1
			) recent ORDER BY seq ASC`, recordColumns, s.table),
			limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			fmt.Sprintf(`SELECT %s FROM %s ORDER BY seq ASC`, recordColumns, s.table),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}

func (s *Store) IDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT program_id FROM %s ORDER BY seq ASC`, s.table))
	if err != nil {
		return nil, fmt.Errorf("list ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (domain.Record, error) {
	var (
		rec                                                    domain.Record
		createdAt                                              time.Time
		source, followup, resA, resB, div, exceptions, timings []byte
	)
	if err := row.Scan(
		&rec.ProgramID,
		&createdAt,
		&source,
		&followup,
		&resA,
		&resB,
		&div,
		&exceptions,
		&timings,
		&rec.IntegritySHA256,
	); err != nil {
		return domain.Record{}, err
	}
	rec.CreatedAt = createdAt.UTC()

	fields := []struct {
		name string
		blob []byte
		dst  any
	}{
		{"source", source, &rec.Source},
		{"followup", followup, &rec.Followup},
		{"res_a", resA, &rec.SourceResult},
		{"res_b", resB, &rec.FollowupResult},
		{"divergence", div, &rec.Divergence},
		{"exceptions", exceptions, &rec.Exceptions},
		{"timings", timings, &rec.Timings},
	}
	for _, f := range fields {
		if err := json.Unmarshal(f.blob, f.dst); err != nil {
			return domain.Record{}, fmt.Errorf("decode %s: %w", f.name, err)
		}
	}
	return rec, nil
}

func divergence(v []domain.Verdict) []domain.Verdict {
	if v == nil {
		return []domain.Verdict{}
	}
	return v
}
