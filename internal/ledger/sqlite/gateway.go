// Package sqlite is an embedded ledger gateway for single-node deployments.
// The pool holds one connection, so transactions commit strictly one after
// another in height order.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"idledger/internal/ledger"
	"idledger/pkg/platform/sentinel"
)

const maxBusyTimeoutMs = 5000

const schema = `
CREATE TABLE IF NOT EXISTS ledger_state (
	key    TEXT PRIMARY KEY,
	value  BLOB NOT NULL,
	height INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger_transactions (
	height       INTEGER PRIMARY KEY,
	tx_id        TEXT NOT NULL UNIQUE,
	tx_type      TEXT NOT NULL,
	caller       TEXT NOT NULL,
	payload      BLOB NOT NULL,
	result       BLOB,
	events       BLOB NOT NULL,
	written_keys BLOB NOT NULL,
	submitted_at TEXT NOT NULL,
	committed_at TEXT NOT NULL
);`

type Gateway struct {
	db      *sql.DB
	applier ledger.Applier
	now     func() time.Time
}

// Open creates (or reopens) the database file at path and applies the schema.
func Open(ctx context.Context, path string, applier ledger.Applier) (*Gateway, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", filepath.Clean(path)))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout=%d", maxBusyTimeoutMs),
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Gateway{db: db, applier: applier, now: time.Now}, nil
}

func (g *Gateway) Submit(ctx context.Context, t ledger.Tx) (ledger.Receipt, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Receipt{}, unavailable("begin", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var height uint64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(height), 0) FROM ledger_transactions`).Scan(&height); err != nil {
		return ledger.Receipt{}, unavailable("read height", err)
	}

	overlay := ledger.NewOverlay(&txState{tx: tx})
	outcome, err := g.applier.Apply(ctx, overlay, t)
	if err != nil {
		return ledger.Receipt{}, err
	}

	next := height + 1
	for _, w := range overlay.Writes() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_state (key, value, height) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, height = excluded.height`,
			string(w.Key), w.Value, next)
		if err != nil {
			return ledger.Receipt{}, unavailable("write state", err)
		}
	}

	receipt := ledger.Receipt{
		TxID:        t.ID,
		Height:      next,
		CommittedAt: g.now().UTC(),
		Keys:        overlay.Keys(),
		Result:      outcome.Result,
		Events:      outcome.Events,
	}
	events, err := json.Marshal(receipt.Events)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("encode events: %w", err)
	}
	keys, err := json.Marshal(receipt.Keys)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("encode keys: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_transactions
			(height, tx_id, tx_type, caller, payload, result, events, written_keys, submitted_at, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		next, t.ID.String(), string(t.Type), string(t.Caller), []byte(t.Payload), []byte(outcome.Result),
		events, keys, t.Timestamp.Format(time.RFC3339Nano), receipt.CommittedAt.Format(time.RFC3339Nano))
	if err != nil {
		return ledger.Receipt{}, unavailable("append transaction", err)
	}

	if err := tx.Commit(); err != nil {
		return ledger.Receipt{}, unavailable("commit", err)
	}
	return receipt, nil
}

func (g *Gateway) Query(ctx context.Context, rd ledger.ReadDescriptor) (ledger.Record, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Record{}, unavailable("begin", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var height uint64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(height), 0) FROM ledger_transactions`).Scan(&height); err != nil {
		return ledger.Record{}, unavailable("read height", err)
	}
	if rd.MinHeight > height {
		return ledger.Record{}, fmt.Errorf("%w: at height %d, need %d", sentinel.ErrStale, height, rd.MinHeight)
	}

	value, err := (&txState{tx: tx}).Get(ctx, rd.Key)
	if err != nil {
		return ledger.Record{}, err
	}
	return ledger.Record{Key: rd.Key, Value: value, Height: height}, nil
}

func (g *Gateway) Height(ctx context.Context) (uint64, error) {
	var height uint64
	if err := g.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(height), 0) FROM ledger_transactions`).Scan(&height); err != nil {
		return 0, unavailable("read height", err)
	}
	return height, nil
}

func (g *Gateway) Close() error {
	return g.db.Close()
}

type txState struct {
	tx *sql.Tx
}

func (s *txState) Get(ctx context.Context, key ledger.Key) ([]byte, error) {
	var value []byte
	err := s.tx.QueryRowContext(ctx, `SELECT value FROM ledger_state WHERE key = ?`, string(key)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("read state", err)
	}
	return value, nil
}

func (s *txState) Put(context.Context, ledger.Key, []byte) error {
	// Writes go through the overlay and are flushed by Submit.
	return sentinel.ErrInvalidState
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: sqlite %s: %v", sentinel.ErrUnavailable, op, err)
}
