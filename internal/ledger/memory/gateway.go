// Package memory is an in-process ledger gateway. One writer lock orders all
// commits; reads take the read lock and never observe a partial transaction.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"idledger/internal/ledger"
	"idledger/pkg/platform/sentinel"
)

type Gateway struct {
	mu      sync.RWMutex
	applier ledger.Applier
	state   map[ledger.Key][]byte
	log     []ledger.Committed
	closed  bool
	now     func() time.Time
}

type Option func(*Gateway)

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

func New(applier ledger.Applier, opts ...Option) *Gateway {
	g := &Gateway{
		applier: applier,
		state:   make(map[ledger.Key][]byte),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Submit(ctx context.Context, tx ledger.Tx) (ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Receipt{}, fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ledger.Receipt{}, fmt.Errorf("%w: gateway closed", sentinel.ErrUnavailable)
	}

	overlay := ledger.NewOverlay(mapState(g.state))
	outcome, err := g.applier.Apply(ctx, overlay, tx)
	if err != nil {
		return ledger.Receipt{}, err
	}

	height := uint64(len(g.log)) + 1
	for _, w := range overlay.Writes() {
		g.state[w.Key] = w.Value
	}
	receipt := ledger.Receipt{
		TxID:        tx.ID,
		Height:      height,
		CommittedAt: g.now().UTC(),
		Keys:        overlay.Keys(),
		Result:      outcome.Result,
		Events:      outcome.Events,
	}
	g.log = append(g.log, ledger.Committed{Tx: tx, Receipt: receipt})
	return receipt, nil
}

func (g *Gateway) Query(ctx context.Context, rd ledger.ReadDescriptor) (ledger.Record, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Record{}, fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return ledger.Record{}, fmt.Errorf("%w: gateway closed", sentinel.ErrUnavailable)
	}

	height := uint64(len(g.log))
	if rd.MinHeight > height {
		return ledger.Record{}, fmt.Errorf("%w: at height %d, need %d", sentinel.ErrStale, height, rd.MinHeight)
	}
	v, ok := g.state[rd.Key]
	if !ok {
		return ledger.Record{}, sentinel.ErrNotFound
	}
	return ledger.Record{Key: rd.Key, Value: append([]byte(nil), v...), Height: height}, nil
}

func (g *Gateway) Height(context.Context) (uint64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return uint64(len(g.log)), nil
}

// Transactions returns the committed transaction log in commit order.
func (g *Gateway) Transactions() []ledger.Committed {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]ledger.Committed(nil), g.log...)
}

func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

// mapState reads committed state. Only used under the writer lock.
type mapState map[ledger.Key][]byte

func (m mapState) Get(_ context.Context, key ledger.Key) ([]byte, error) {
	v, ok := m[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m mapState) Put(context.Context, ledger.Key, []byte) error {
	return sentinel.ErrInvalidState
}
