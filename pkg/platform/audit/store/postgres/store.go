// Package postgres keeps the audit trail in Postgres so it survives
// restarts of the API process.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	id "idledger/pkg/domain"
	audit "idledger/pkg/platform/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id           UUID PRIMARY KEY,
	seq          BIGSERIAL,
	category     TEXT NOT NULL,
	occurred_at  TIMESTAMPTZ NOT NULL,
	principal    TEXT NOT NULL,
	actor_id     TEXT NOT NULL DEFAULT '',
	action       TEXT NOT NULL,
	role         TEXT NOT NULL DEFAULT '',
	fingerprint  TEXT NOT NULL DEFAULT '',
	decision     TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL DEFAULT '',
	request_id   TEXT NOT NULL DEFAULT '',
	tx_id        TEXT NOT NULL DEFAULT '',
	height       BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS audit_events_principal_idx ON audit_events (principal, seq)`

// Store is an audit.Store. Rows are append-only.
type Store struct {
	db *sql.DB
}

// Open connects with lib/pq and creates the audit table.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate audit schema: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, category, occurred_at, principal, actor_id, action, role,
			fingerprint, decision, reason, request_id, tx_id, height
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		uuid.New(),
		string(category),
		event.Timestamp,
		event.Principal.String(),
		event.ActorID,
		event.Action,
		event.Role,
		event.Fingerprint,
		event.Decision,
		event.Reason,
		event.RequestID,
		event.TxID,
		int64(event.Height),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByPrincipal returns principal's events in append order.
func (s *Store) ListByPrincipal(ctx context.Context, principal id.Principal) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, occurred_at, principal, actor_id, action, role,
			fingerprint, decision, reason, request_id, tx_id, height
		FROM audit_events
		WHERE principal = $1
		ORDER BY seq`, principal.String())
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e        audit.Event
			category string
			p        string
			height   int64
		)
		if err := rows.Scan(&category, &e.Timestamp, &p, &e.ActorID, &e.Action, &e.Role,
			&e.Fingerprint, &e.Decision, &e.Reason, &e.RequestID, &e.TxID, &height); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Category = audit.EventCategory(category)
		e.Principal = id.Principal(p)
		e.Timestamp = e.Timestamp.UTC()
		e.Height = uint64(height)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return events, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
