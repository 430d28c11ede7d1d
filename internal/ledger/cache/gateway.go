// Package cache is a read-through Redis cache in front of any ledger gateway.
//
// Cached entries carry the height they were read at. A read whose MinHeight
// is above the cached height bypasses the cache, so a session always sees its
// own commits. Submits pass straight through and evict the keys they wrote.
// Redis failures degrade to uncached reads.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"idledger/internal/ledger"
)

const defaultTTL = 30 * time.Second

type Gateway struct {
	next   ledger.Gateway
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

type Option func(*Gateway)

func WithTTL(ttl time.Duration) Option {
	return func(g *Gateway) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(g *Gateway) {
		g.prefix = prefix
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

func New(next ledger.Gateway, client *redis.Client, opts ...Option) *Gateway {
	g := &Gateway{
		next:   next,
		client: client,
		prefix: "idledger:ledger:",
		ttl:    defaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type entry struct {
	Height uint64 `json:"h"`
	Value  []byte `json:"v"`
}

func (g *Gateway) Submit(ctx context.Context, tx ledger.Tx) (ledger.Receipt, error) {
	receipt, err := g.next.Submit(ctx, tx)
	if err != nil {
		return receipt, err
	}
	if len(receipt.Keys) > 0 {
		keys := make([]string, len(receipt.Keys))
		for i, k := range receipt.Keys {
			keys[i] = g.redisKey(k)
		}
		if err := g.client.Del(ctx, keys...).Err(); err != nil {
			g.logger.WarnContext(ctx, "ledger cache eviction failed",
				"tx_id", receipt.TxID,
				"error", err,
			)
		}
	}
	return receipt, nil
}

func (g *Gateway) Query(ctx context.Context, rd ledger.ReadDescriptor) (ledger.Record, error) {
	if rec, ok := g.lookup(ctx, rd); ok {
		return rec, nil
	}

	rec, err := g.next.Query(ctx, rd)
	if err != nil {
		return rec, err
	}

	raw, err := json.Marshal(entry{Height: rec.Height, Value: rec.Value})
	if err == nil {
		err = g.client.Set(ctx, g.redisKey(rd.Key), raw, g.ttl).Err()
	}
	if err != nil {
		g.logger.WarnContext(ctx, "ledger cache fill failed", "key", rd.Key, "error", err)
	}
	return rec, nil
}

func (g *Gateway) lookup(ctx context.Context, rd ledger.ReadDescriptor) (ledger.Record, bool) {
	raw, err := g.client.Get(ctx, g.redisKey(rd.Key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			g.logger.WarnContext(ctx, "ledger cache read failed", "key", rd.Key, "error", err)
		}
		return ledger.Record{}, false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return ledger.Record{}, false
	}
	if e.Height < rd.MinHeight {
		return ledger.Record{}, false
	}
	return ledger.Record{Key: rd.Key, Value: e.Value, Height: e.Height}, true
}

func (g *Gateway) Height(ctx context.Context) (uint64, error) {
	return g.next.Height(ctx)
}

// Close closes the wrapped gateway. The Redis client is owned by the caller.
func (g *Gateway) Close() error {
	return g.next.Close()
}

func (g *Gateway) redisKey(k ledger.Key) string {
	return g.prefix + string(k)
}
