//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "idledger/pkg/domain"
	audit "idledger/pkg/platform/audit"
	"idledger/pkg/platform/audit/store/postgres"
	"idledger/pkg/testutil/containers"
)

type StoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	store, err := postgres.Open(context.Background(), s.postgres.DSN)
	s.Require().NoError(err)
	s.store = store
}

func (s *StoreSuite) TearDownSuite() {
	_ = s.store.Close()
}

func (s *StoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_events"))
}

func (s *StoreSuite) TestAppendAndList() {
	ctx := context.Background()
	alice := id.Principal("0x00000000000000000000000000000000000000d1")
	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	registered := audit.Event{
		Category:  audit.CategoryCompliance,
		Timestamp: at,
		Principal: alice,
		Action:    string(audit.EventSubjectRegistered),
		RequestID: "req-1",
		TxID:      "tx-1",
		Height:    2,
	}
	revoked := audit.Event{
		Timestamp:   at.Add(time.Minute),
		Principal:   alice,
		ActorID:     "0x00000000000000000000000000000000000000b2",
		Action:      string(audit.EventCredentialRevoked),
		Fingerprint: "0xabc",
		Decision:    "revoked",
		Height:      5,
	}
	s.Require().NoError(s.store.Append(ctx, registered))
	s.Require().NoError(s.store.Append(ctx, revoked))
	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: at,
		Principal: "0x00000000000000000000000000000000000000d2",
		Action:    string(audit.EventSubjectRegistered),
	}))

	events, err := s.store.ListByPrincipal(ctx, alice)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(registered, events[0])

	revoked.Category = audit.CategorySecurity
	s.Equal(revoked, events[1])
}
