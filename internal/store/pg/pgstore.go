// Package pg persists audit events to Postgres through the pgx database/sql driver.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"reporthub.io/internal/audit"
	"reporthub.io/internal/ids"
)

type Store struct {
	db *sql.DB
}

var _ audit.Sink = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("pg: dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// audit writes are small and bursty; a modest pool is enough
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database answers; used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AppendAudit inserts one audit event.
func (s *Store) AppendAudit(ctx context.Context, e audit.Event) error {
	fields := e.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("pg: encode audit fields: %w", err)
	}
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_events(id, event, request_id, username, fields, created_at)
		values ($1, $2, nullif($3, ''), nullif($4, ''), $5, $6)
	`, ids.New(), e.Name, e.RequestID, e.Username, payload, at)
	if err != nil {
		return fmt.Errorf("pg: insert audit event %s: %w", e.Name, err)
	}
	return nil
}
