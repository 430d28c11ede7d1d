//go:build integration

package cache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"idledger/internal/ledger"
	"idledger/internal/ledger/cache"
	"idledger/internal/ledger/ledgertest"
	"idledger/internal/ledger/memory"
	"idledger/pkg/testutil/containers"
)

type CacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(CacheSuite))
}

func (s *CacheSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *CacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *CacheSuite) TestContract() {
	ledgertest.RunGatewaySuite(s.T(), func(t *testing.T) ledger.Gateway {
		s.Require().NoError(s.redis.FlushAll(context.Background()))
		return cache.New(memory.New(ledgertest.KV{}), s.redis.Client)
	})
}

func (s *CacheSuite) TestServesCachedValueAtOrAboveMinHeight() {
	ctx := context.Background()
	backing := memory.New(ledgertest.KV{})
	gw := cache.New(backing, s.redis.Client)

	receipt, err := gw.Submit(ctx, ledgertest.NewKVTx(s.T(), ledgertest.KVPayload{Puts: map[string]string{"k": "v1"}}))
	s.Require().NoError(err)

	rec, err := gw.Query(ctx, ledger.ReadDescriptor{Key: "k", MinHeight: receipt.Height})
	s.Require().NoError(err)
	s.Equal([]byte("v1"), rec.Value)

	// A write that bypasses this cache leaves the cached entry at height 1.
	_, err = backing.Submit(ctx, ledgertest.NewKVTx(s.T(), ledgertest.KVPayload{Puts: map[string]string{"k": "v2"}}))
	s.Require().NoError(err)

	rec, err = gw.Query(ctx, ledger.ReadDescriptor{Key: "k", MinHeight: 1})
	s.Require().NoError(err)
	s.Equal([]byte("v1"), rec.Value, "eventually consistent readers may see the cached value")

	rec, err = gw.Query(ctx, ledger.ReadDescriptor{Key: "k", MinHeight: 2})
	s.Require().NoError(err)
	s.Equal([]byte("v2"), rec.Value, "a session at height 2 must bypass the stale entry")
}

func (s *CacheSuite) TestSubmitEvictsWrittenKeys() {
	ctx := context.Background()
	gw := cache.New(memory.New(ledgertest.KV{}), s.redis.Client)

	_, err := gw.Submit(ctx, ledgertest.NewKVTx(s.T(), ledgertest.KVPayload{Puts: map[string]string{"k": "v1"}}))
	s.Require().NoError(err)
	_, err = gw.Query(ctx, ledger.ReadDescriptor{Key: "k"})
	s.Require().NoError(err)

	_, err = gw.Submit(ctx, ledgertest.NewKVTx(s.T(), ledgertest.KVPayload{Puts: map[string]string{"k": "v2"}}))
	s.Require().NoError(err)

	rec, err := gw.Query(ctx, ledger.ReadDescriptor{Key: "k"})
	s.Require().NoError(err)
	s.Equal([]byte("v2"), rec.Value)
}
