// Package ledgertest holds a minimal applier and a behavioural suite every
// ledger.Gateway backend must pass.
package ledgertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idledger/internal/ledger"
	dErrors "idledger/pkg/domain-errors"
	"idledger/pkg/platform/sentinel"
)

const TxKV ledger.TxType = "kv"

// KVPayload drives the KV applier. Puts are written in one transaction;
// RequireAbsent aborts with a conflict when that key already exists; Fail
// aborts after the puts were buffered.
type KVPayload struct {
	Puts          map[string]string `json:"puts"`
	RequireAbsent string            `json:"require_absent,omitempty"`
	Fail          string            `json:"fail,omitempty"`
}

// KV is a trivial deterministic applier for gateway tests.
type KV struct{}

func (KV) Apply(ctx context.Context, st ledger.State, tx ledger.Tx) (ledger.Outcome, error) {
	if tx.Type != TxKV {
		return ledger.Outcome{}, dErrors.New(dErrors.CodeInvalidInput, "unknown transaction type")
	}
	var p KVPayload
	if err := json.Unmarshal(tx.Payload, &p); err != nil {
		return ledger.Outcome{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed payload")
	}
	if p.RequireAbsent != "" {
		_, err := st.Get(ctx, ledger.Key(p.RequireAbsent))
		if err == nil {
			return ledger.Outcome{}, dErrors.New(dErrors.CodeConflict, "key exists")
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return ledger.Outcome{}, err
		}
	}
	for k, v := range p.Puts {
		if err := st.Put(ctx, ledger.Key(k), []byte(v)); err != nil {
			return ledger.Outcome{}, err
		}
	}
	if p.Fail != "" {
		return ledger.Outcome{}, dErrors.New(dErrors.CodeInvariantViolation, p.Fail)
	}
	result, _ := json.Marshal(map[string]int{"written": len(p.Puts)})
	return ledger.Outcome{
		Result: result,
		Events: []ledger.Event{ledger.NewEvent("kv_written", "count", fmt.Sprint(len(p.Puts)))},
	}, nil
}

// NewKVTx builds a KV transaction.
func NewKVTx(t *testing.T, p KVPayload) ledger.Tx {
	t.Helper()
	tx, err := ledger.NewTx(TxKV, "tester", p, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	return tx
}

// RunGatewaySuite exercises the Gateway contract against a fresh gateway
// built by newGateway for every subtest. The gateway must apply with KV.
func RunGatewaySuite(t *testing.T, newGateway func(t *testing.T) ledger.Gateway) {
	ctx := context.Background()

	t.Run("commit advances height and is readable", func(t *testing.T) {
		gw := newGateway(t)
		receipt, err := gw.Submit(ctx, NewKVTx(t, KVPayload{Puts: map[string]string{"b": "2", "a": "1"}}))
		require.NoError(t, err)

		assert.Equal(t, uint64(1), receipt.Height)
		assert.Equal(t, []ledger.Key{"a", "b"}, receipt.Keys)
		var result map[string]int
		require.NoError(t, receipt.DecodeResult(&result))
		assert.Equal(t, 2, result["written"])
		require.Len(t, receipt.Events, 1)
		assert.Equal(t, "kv_written", receipt.Events[0].Type)

		rec, err := gw.Query(ctx, ledger.ReadDescriptor{Key: "a", MinHeight: receipt.Height})
		require.NoError(t, err)
		assert.Equal(t, []byte("1"), rec.Value)
		assert.GreaterOrEqual(t, rec.Height, receipt.Height)

		height, err := gw.Height(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), height)
	})

	t.Run("rejected transaction leaves no partial writes", func(t *testing.T) {
		gw := newGateway(t)
		_, err := gw.Submit(ctx, NewKVTx(t, KVPayload{
			Puts: map[string]string{"a": "1", "b": "2"},
			Fail: "abort after buffering",
		}))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

		_, err = gw.Query(ctx, ledger.ReadDescriptor{Key: "a"})
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
		height, err := gw.Height(ctx)
		require.NoError(t, err)
		assert.Zero(t, height)
	})

	t.Run("missing key is not found", func(t *testing.T) {
		gw := newGateway(t)
		_, err := gw.Query(ctx, ledger.ReadDescriptor{Key: "nope"})
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("later commit overwrites earlier value", func(t *testing.T) {
		gw := newGateway(t)
		_, err := gw.Submit(ctx, NewKVTx(t, KVPayload{Puts: map[string]string{"k": "v1"}}))
		require.NoError(t, err)
		receipt, err := gw.Submit(ctx, NewKVTx(t, KVPayload{Puts: map[string]string{"k": "v2"}}))
		require.NoError(t, err)
		assert.Equal(t, uint64(2), receipt.Height)

		rec, err := gw.Query(ctx, ledger.ReadDescriptor{Key: "k", MinHeight: 2})
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), rec.Value)
	})

	t.Run("concurrent check-then-write commits exactly once", func(t *testing.T) {
		gw := newGateway(t)
		const workers = 20

		var wg sync.WaitGroup
		var committed, conflicts atomic.Int32
		heights := make(chan uint64, workers)
		for i := range workers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				receipt, err := gw.Submit(ctx, NewKVTx(t, KVPayload{
					RequireAbsent: "unique",
					Puts:          map[string]string{"unique": fmt.Sprint(i)},
				}))
				switch {
				case err == nil:
					committed.Add(1)
					heights <- receipt.Height
				case dErrors.HasCode(err, dErrors.CodeConflict):
					conflicts.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()
		close(heights)

		assert.Equal(t, int32(1), committed.Load())
		assert.Equal(t, int32(workers-1), conflicts.Load())
		assert.Equal(t, uint64(1), <-heights)
	})

	t.Run("concurrent independent commits get distinct heights", func(t *testing.T) {
		gw := newGateway(t)
		const workers = 10

		var wg sync.WaitGroup
		var mu sync.Mutex
		seen := make(map[uint64]bool)
		for i := range workers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				receipt, err := gw.Submit(ctx, NewKVTx(t, KVPayload{Puts: map[string]string{fmt.Sprint("k", i): "v"}}))
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seen[receipt.Height] = true
				mu.Unlock()
			}(i)
		}
		wg.Wait()

		assert.Len(t, seen, workers)
		for h := uint64(1); h <= workers; h++ {
			assert.True(t, seen[h], "height %d missing", h)
		}
	})
}
