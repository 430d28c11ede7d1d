package profile_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"idledger/internal/platform/metrics"
	"idledger/internal/profile"
	"idledger/internal/profile/mocks"
	id "idledger/pkg/domain"
	"idledger/pkg/platform/circuit"
	"idledger/pkg/platform/sentinel"
)

const alice = id.Principal("0x00000000000000000000000000000000000000a1")

type ResilientSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	store   *mocks.MockStore
	metrics *metrics.Metrics
	r       *profile.Resilient
}

func TestResilientSuite(t *testing.T) {
	suite.Run(t, new(ResilientSuite))
}

func (s *ResilientSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.r = profile.NewResilient(s.store,
		profile.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		profile.WithMetrics(s.metrics),
		profile.WithBreaker(circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(1))),
		profile.WithCooldown(time.Hour),
	)
}

func (s *ResilientSuite) TestLookup() {
	ctx := context.Background()

	s.Run("returns stored profile", func() {
		want := profile.Profile{Principal: alice, DisplayName: "Alice"}
		s.store.EXPECT().Get(gomock.Any(), alice).Return(want, nil)

		got, degraded := s.r.Lookup(ctx, alice)
		s.False(degraded)
		s.Equal(want, got)
	})

	s.Run("unknown principal is empty but healthy", func() {
		s.store.EXPECT().Get(gomock.Any(), alice).Return(profile.Profile{}, sentinel.ErrNotFound)

		got, degraded := s.r.Lookup(ctx, alice)
		s.False(degraded)
		s.True(got.IsEmpty())
	})

	s.Run("store failure degrades to empty", func() {
		s.store.EXPECT().Get(gomock.Any(), alice).Return(profile.Profile{}, errors.New("connection refused"))

		got, degraded := s.r.Lookup(ctx, alice)
		s.True(degraded)
		s.True(got.IsEmpty())
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.ProfileDegraded))
	})
}

func (s *ResilientSuite) TestOpenCircuitSkipsStore() {
	ctx := context.Background()
	s.store.EXPECT().Get(gomock.Any(), alice).Return(profile.Profile{}, errors.New("timeout")).Times(2)

	s.r.Lookup(ctx, alice)
	s.r.Lookup(ctx, alice)
	s.False(s.r.Healthy())

	// Within the cooldown the store is not called again.
	_, degraded := s.r.Lookup(ctx, alice)
	s.True(degraded)
	s.Error(s.r.Save(ctx, profile.Profile{Principal: alice, DisplayName: "Alice"}))
}

func (s *ResilientSuite) TestUnreachableAtStartupDegrades() {
	ctx := context.Background()
	s.store.EXPECT().Ping(gomock.Any()).Return(errors.Join(sentinel.ErrUnavailable, errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")))

	s.False(s.r.Check(ctx))
	s.False(s.r.Healthy())

	// No Get is expected: reads degrade without touching the store.
	got, degraded := s.r.Lookup(ctx, alice)
	s.True(degraded)
	s.True(got.IsEmpty())
}

func (s *ResilientSuite) TestStoreRecoversAfterStartupOutage() {
	ctx := context.Background()
	r := profile.NewResilient(s.store,
		profile.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		profile.WithBreaker(circuit.New("test", circuit.WithSuccessThreshold(1))),
		profile.WithCooldown(time.Nanosecond),
	)
	s.store.EXPECT().Ping(gomock.Any()).Return(context.DeadlineExceeded)
	s.False(r.Check(ctx))

	want := profile.Profile{Principal: alice, DisplayName: "Alice"}
	s.store.EXPECT().Get(gomock.Any(), alice).Return(want, nil)
	time.Sleep(time.Millisecond)
	got, degraded := r.Lookup(ctx, alice)
	s.False(degraded)
	s.Equal(want, got)
	s.True(r.Healthy())
}

func (s *ResilientSuite) TestReachableAtStartup() {
	s.store.EXPECT().Ping(gomock.Any()).Return(nil)
	s.True(s.r.Check(context.Background()))
	s.True(s.r.Healthy())
}

func (s *ResilientSuite) TestSaveValidates() {
	err := s.r.Save(context.Background(), profile.Profile{DisplayName: "no principal"})
	s.Error(err)
}

func (s *ResilientSuite) TestNilResilientIsNoop() {
	var r *profile.Resilient
	got, degraded := r.Lookup(context.Background(), alice)
	s.False(degraded)
	s.True(got.IsEmpty())
	s.NoError(r.Save(context.Background(), profile.Profile{Principal: alice}))
	s.True(r.Healthy())
}
