package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idledger/internal/ledger"
	"idledger/internal/ledger/ledgertest"
	"idledger/pkg/platform/sentinel"
)

func TestGateway_Contract(t *testing.T) {
	ledgertest.RunGatewaySuite(t, func(t *testing.T) ledger.Gateway {
		return New(ledgertest.KV{})
	})
}

func TestGateway_ReadAheadOfCommitsIsStale(t *testing.T) {
	gw := New(ledgertest.KV{})
	_, err := gw.Query(context.Background(), ledger.ReadDescriptor{Key: "a", MinHeight: 3})
	assert.ErrorIs(t, err, sentinel.ErrStale)
}

func TestGateway_TransactionLog(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	gw := New(ledgertest.KV{}, WithClock(func() time.Time { return fixed }))

	tx := ledgertest.NewKVTx(t, ledgertest.KVPayload{Puts: map[string]string{"a": "1"}})
	receipt, err := gw.Submit(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, receipt.TxID)
	assert.Equal(t, fixed, receipt.CommittedAt)

	_, err = gw.Submit(context.Background(), ledgertest.NewKVTx(t, ledgertest.KVPayload{Fail: "nope"}))
	require.Error(t, err)

	log := gw.Transactions()
	require.Len(t, log, 1, "rejected transactions are not logged")
	assert.Equal(t, tx.ID, log[0].Tx.ID)
	assert.Equal(t, uint64(1), log[0].Receipt.Height)
}

func TestGateway_UnavailableAfterClose(t *testing.T) {
	gw := New(ledgertest.KV{})
	require.NoError(t, gw.Close())

	_, err := gw.Submit(context.Background(), ledgertest.NewKVTx(t, ledgertest.KVPayload{}))
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
	_, err = gw.Query(context.Background(), ledger.ReadDescriptor{Key: "a"})
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestGateway_CancelledContextIsUnavailable(t *testing.T) {
	gw := New(ledgertest.KV{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gw.Submit(ctx, ledgertest.NewKVTx(t, ledgertest.KVPayload{Puts: map[string]string{"a": "1"}}))
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
	height, _ := gw.Height(context.Background())
	assert.Zero(t, height)
}
