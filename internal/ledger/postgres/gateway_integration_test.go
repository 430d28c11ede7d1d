//go:build integration

package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"idledger/internal/ledger"
	"idledger/internal/ledger/ledgertest"
	"idledger/internal/ledger/postgres"
	"idledger/pkg/testutil/containers"
)

type GatewaySuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
}

func TestGatewaySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
}

func (s *GatewaySuite) newGateway(t *testing.T) ledger.Gateway {
	ctx := context.Background()
	gw, err := postgres.New(ctx, s.postgres.DSN, ledgertest.KV{})
	s.Require().NoError(err)
	s.Require().NoError(s.postgres.TruncateTables(ctx, "ledger_state", "ledger_transactions"))
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

func (s *GatewaySuite) TestContract() {
	ledgertest.RunGatewaySuite(s.T(), s.newGateway)
}

func (s *GatewaySuite) TestTransactionLogIsOrdered() {
	ctx := context.Background()
	gw := s.newGateway(s.T()).(*postgres.Gateway)

	first := ledgertest.NewKVTx(s.T(), ledgertest.KVPayload{Puts: map[string]string{"a": "1"}})
	second := ledgertest.NewKVTx(s.T(), ledgertest.KVPayload{Puts: map[string]string{"b": "2"}})
	_, err := gw.Submit(ctx, first)
	s.Require().NoError(err)
	_, err = gw.Submit(ctx, second)
	s.Require().NoError(err)

	log, err := gw.Transactions(ctx, 0, 10)
	s.Require().NoError(err)
	s.Require().Len(log, 2)
	s.Equal(first.ID, log[0].Tx.ID)
	s.Equal(second.ID, log[1].Tx.ID)
	s.Equal([]ledger.Key{"b"}, log[1].Receipt.Keys)
	s.Equal(uint64(2), log[1].Receipt.Height)

	after, err := gw.Transactions(ctx, 1, 10)
	s.Require().NoError(err)
	s.Len(after, 1)
}
