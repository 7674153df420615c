// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jllopis/cgcs/pkg/coordinator"
	"github.com/jllopis/cgcs/pkg/errors"
	"github.com/jllopis/cgcs/pkg/resilience"
)

// SQLiteSink persists records in SQLite.
type SQLiteSink struct {
	db    *sql.DB
	owns  bool
	retry resilience.Retry
}

// OpenSQLite opens dsn with the modernc driver and prepares the schema. The
// returned sink closes the database on Close.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteSink, error) {
	if dsn == "" {
		return nil, errors.New(errors.CodeInvalidInput, "sqlite dsn is required", nil)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s, err := NewSQLiteSink(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owns = true
	return s, nil
}

// NewSQLiteSink wraps an open database and ensures the schema.
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	if db == nil {
		return nil, errors.New(errors.CodeInvalidInput, "db is nil", nil)
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	r := resilience.DefaultRetry()
	r.Retryable = isBusy
	return &SQLiteSink{db: db, retry: r}, nil
}

// Record implements coordinator.AdmissionSink.
func (s *SQLiteSink) Record(ctx context.Context, d coordinator.Decision) error {
	return s.Insert(ctx, FromDecision(d))
}

// Insert stores rec, retrying while the database is busy.
func (s *SQLiteSink) Insert(ctx context.Context, rec Record) error {
	reasons, err := json.Marshal(rec.Reasons)
	if err != nil {
		return err
	}
	return s.retry.Do(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO admission_decisions (
				id, agent, action, allowed, code, reasons_json, risk, mode, escalation, tripped, decided_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			rec.ID,
			rec.Agent,
			rec.Action,
			rec.Allowed,
			rec.Code,
			string(reasons),
			rec.Risk,
			rec.Mode,
			rec.Escalation,
			rec.Tripped,
			rec.At.UTC().UnixNano(),
		)
		return err
	})
}

// List returns matching records ordered by decision time.
func (s *SQLiteSink) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := `
		SELECT id, agent, action, allowed, code, reasons_json, risk, mode, escalation, tripped, decided_at
		FROM admission_decisions
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.Agent != "" {
		addFilter("agent = ?", filter.Agent)
	}
	switch filter.Outcome {
	case OutcomeAdmitted:
		addFilter("allowed = ?", true)
	case OutcomeRefused:
		addFilter("allowed = ?", false)
	}
	if filter.Code != "" {
		addFilter("code = ?", filter.Code)
	}
	if !filter.Since.IsZero() {
		addFilter("decided_at >= ?", filter.Since.UTC().UnixNano())
	}
	query += where + " ORDER BY decided_at ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			reasons string
			at      int64
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Agent,
			&rec.Action,
			&rec.Allowed,
			&rec.Code,
			&reasons,
			&rec.Risk,
			&rec.Mode,
			&rec.Escalation,
			&rec.Tripped,
			&at,
		); err != nil {
			return nil, err
		}
		if reasons != "" && reasons != "null" {
			if err := json.Unmarshal([]byte(reasons), &rec.Reasons); err != nil {
				return nil, err
			}
		}
		rec.At = time.Unix(0, at).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of stored records.
func (s *SQLiteSink) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admission_decisions`).Scan(&n)
	return n, err
}

// Close closes the database when the sink opened it.
func (s *SQLiteSink) Close() error {
	if s.owns {
		return s.db.Close()
	}
	return nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS admission_decisions (
			id TEXT PRIMARY KEY,
			agent TEXT NOT NULL,
			action TEXT NOT NULL,
			allowed BOOLEAN NOT NULL,
			code TEXT NOT NULL DEFAULT '',
			reasons_json TEXT,
			risk REAL NOT NULL DEFAULT 0,
			mode TEXT NOT NULL DEFAULT '',
			escalation INTEGER NOT NULL DEFAULT 0,
			tripped BOOLEAN NOT NULL DEFAULT 0,
			decided_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_admission_agent ON admission_decisions(agent);
		CREATE INDEX IF NOT EXISTS idx_admission_decided ON admission_decisions(decided_at);
	`)
	return err
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if !stderrors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}
