// Package postgres is the durable ledger gateway. Commits are totally ordered
// by a transaction-scoped advisory lock, so the duplicate checks a rule makes
// and the writes it buffers are evaluated against the same committed state.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"idledger/internal/ledger"
	id "idledger/pkg/domain"
	"idledger/pkg/platform/sentinel"
)

//go:embed schema.sql
var schema string

// commitLockID keys the advisory lock that serialises all commits.
const commitLockID int64 = 0x1d1ed9e5

const defaultTxTimeout = 5 * time.Second

type Gateway struct {
	pool      *pgxpool.Pool
	applier   ledger.Applier
	txTimeout time.Duration
	now       func() time.Time
}

type Option func(*Gateway)

// WithTxTimeout bounds how long one submit may hold the commit lock.
func WithTxTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.txTimeout = d
		}
	}
}

// New connects to dsn and applies the schema.
func New(ctx context.Context, dsn string, applier ledger.Applier, opts ...Option) (*Gateway, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	g := NewWithPool(pool, applier, opts...)
	if err := g.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return g, nil
}

// NewWithPool wraps an existing pool. The schema must already exist.
func NewWithPool(pool *pgxpool.Pool, applier ledger.Applier, opts ...Option) *Gateway {
	g := &Gateway{pool: pool, applier: applier, txTimeout: defaultTxTimeout, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Migrate(ctx context.Context) error {
	if _, err := g.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply ledger schema: %w", err)
	}
	return nil
}

func (g *Gateway) Submit(ctx context.Context, t ledger.Tx) (ledger.Receipt, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	ctx, cancel := context.WithTimeout(ctx, g.txTimeout)
	defer cancel()

	tx, err := g.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return ledger.Receipt{}, unavailable("begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, commitLockID); err != nil {
		return ledger.Receipt{}, unavailable("acquire commit lock", err)
	}

	var height int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(height), 0) FROM ledger_transactions`).Scan(&height); err != nil {
		return ledger.Receipt{}, unavailable("read height", err)
	}

	overlay := ledger.NewOverlay(&txState{tx: tx})
	outcome, err := g.applier.Apply(ctx, overlay, t)
	if err != nil {
		return ledger.Receipt{}, err
	}

	next := height + 1
	batch := &pgx.Batch{}
	for _, w := range overlay.Writes() {
		batch.Queue(`
			INSERT INTO ledger_state (key, value, height) VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, height = EXCLUDED.height`,
			string(w.Key), w.Value, next)
	}

	receipt := ledger.Receipt{
		TxID:        t.ID,
		Height:      uint64(next),
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
	var result any
	if len(outcome.Result) > 0 {
		result = string(outcome.Result)
	}
	batch.Queue(`
		INSERT INTO ledger_transactions
			(height, tx_id, tx_type, caller, payload, result, events, written_keys, submitted_at, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		next, t.ID, string(t.Type), string(t.Caller), string(t.Payload), result,
		string(events), string(keys), t.Timestamp, receipt.CommittedAt)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return ledger.Receipt{}, unavailable("write batch", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ledger.Receipt{}, unavailable("commit", err)
	}
	return receipt, nil
}

func (g *Gateway) Query(ctx context.Context, rd ledger.ReadDescriptor) (ledger.Record, error) {
	tx, err := g.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return ledger.Record{}, unavailable("begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var height int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(height), 0) FROM ledger_transactions`).Scan(&height); err != nil {
		return ledger.Record{}, unavailable("read height", err)
	}
	if rd.MinHeight > uint64(height) {
		return ledger.Record{}, fmt.Errorf("%w: at height %d, need %d", sentinel.ErrStale, height, rd.MinHeight)
	}

	value, err := (&txState{tx: tx}).Get(ctx, rd.Key)
	if err != nil {
		return ledger.Record{}, err
	}
	return ledger.Record{Key: rd.Key, Value: value, Height: uint64(height)}, nil
}

func (g *Gateway) Height(ctx context.Context) (uint64, error) {
	var height int64
	if err := g.pool.QueryRow(ctx, `SELECT COALESCE(MAX(height), 0) FROM ledger_transactions`).Scan(&height); err != nil {
		return 0, unavailable("read height", err)
	}
	return uint64(height), nil
}

// Transactions returns up to limit committed transactions after height from.
func (g *Gateway) Transactions(ctx context.Context, from uint64, limit int) ([]ledger.Committed, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT height, tx_id, tx_type, caller, payload, result, events, written_keys, submitted_at, committed_at
		FROM ledger_transactions WHERE height > $1 ORDER BY height LIMIT $2`, int64(from), limit)
	if err != nil {
		return nil, unavailable("list transactions", err)
	}
	defer rows.Close()

	var out []ledger.Committed
	for rows.Next() {
		var (
			c                      ledger.Committed
			height                 int64
			txType, caller         string
			payload, result        []byte
			events, keys           []byte
			submitted, committedAt time.Time
		)
		if err := rows.Scan(&height, &c.Tx.ID, &txType, &caller, &payload, &result, &events, &keys, &submitted, &committedAt); err != nil {
			return nil, unavailable("scan transaction", err)
		}
		c.Tx.Type = ledger.TxType(txType)
		c.Tx.Caller = id.Principal(caller)
		c.Tx.Payload = payload
		c.Tx.Timestamp = submitted.UTC()
		c.Receipt = ledger.Receipt{TxID: c.Tx.ID, Height: uint64(height), CommittedAt: committedAt.UTC(), Result: result}
		if err := json.Unmarshal(events, &c.Receipt.Events); err != nil {
			return nil, fmt.Errorf("decode events at height %d: %w", height, err)
		}
		if err := json.Unmarshal(keys, &c.Receipt.Keys); err != nil {
			return nil, fmt.Errorf("decode keys at height %d: %w", height, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list transactions", err)
	}
	return out, nil
}

func (g *Gateway) Close() error {
	g.pool.Close()
	return nil
}

type txState struct {
	tx pgx.Tx
}

func (s *txState) Get(ctx context.Context, key ledger.Key) ([]byte, error) {
	var value []byte
	err := s.tx.QueryRow(ctx, `SELECT value FROM ledger_state WHERE key = $1`, string(key)).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("read state", err)
	}
	return value, nil
}

func (s *txState) Put(context.Context, ledger.Key, []byte) error {
	return sentinel.ErrInvalidState
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: postgres %s: %v", sentinel.ErrUnavailable, op, err)
}
