package identity_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"idledger/internal/identity"
	"idledger/internal/profile"
	"idledger/internal/profile/mocks"
	rt "idledger/internal/registry/registrytest"
	dErrors "idledger/pkg/domain-errors"
	audit "idledger/pkg/platform/audit"
	"idledger/pkg/platform/audit/publisher"
	auditmemory "idledger/pkg/platform/audit/store/memory"
	"idledger/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	h        *rt.Harness
	profiles *profile.InMemoryStore
	audit    *publisher.Publisher
	service  *identity.Service
	ctx      context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *ServiceSuite) SetupTest() {
	s.h = rt.New(s.T())
	s.profiles = profile.NewInMemoryStore()
	s.audit = publisher.NewPublisher(auditmemory.NewInMemoryStore())
	s.service = identity.NewService(s.h.Client, s.h.Hasher,
		identity.WithLogger(discard()),
		identity.WithAuditPublisher(s.audit),
		identity.WithProfileStore(profile.NewResilient(s.profiles, profile.WithLogger(discard()))),
	)
	s.ctx = requestcontext.WithTime(context.Background(), rt.Epoch)
}

func aliceRegistration() identity.Registration {
	return identity.Registration{
		DisplayName:  "  Alice Liddell ",
		Email:        "Alice@Example.com",
		ExternalID:   "P-1234",
		Organization: "Wonderland University",
	}
}

func (s *ServiceSuite) TestRegister() {
	out, err := s.service.Register(s.ctx, rt.Alice, aliceRegistration())
	s.Require().NoError(err)

	wantEmail, _ := s.h.Hasher.Email("alice@example.com")
	wantID, _ := s.h.Hasher.ExternalID("P-1234")
	s.Equal(rt.Alice, out.Principal)
	s.Equal("Alice Liddell", out.DisplayName)
	s.Equal(wantEmail, out.EmailFingerprint)
	s.Equal(wantID, out.IDFingerprint)
	s.False(out.Verified)
	s.Equal(rt.Epoch, out.RegisteredAt)
	s.Equal(uint64(2), out.Commit.Height)

	s.Run("raw personal data never reaches the ledger", func() {
		for _, c := range s.h.Gateway.Transactions() {
			payload := strings.ToLower(string(c.Tx.Payload))
			s.NotContains(payload, "alice@example.com")
			s.NotContains(payload, "p-1234")
			s.NotContains(payload, "wonderland")
		}
	})

	s.Run("profile is stored off-ledger", func() {
		p, err := s.profiles.Get(s.ctx, rt.Alice)
		s.Require().NoError(err)
		s.Equal("Wonderland University", p.Organization)
	})

	s.Run("registration is audited", func() {
		events, err := s.audit.List(s.ctx, rt.Alice)
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(string(audit.EventSubjectRegistered), events[0].Action)
		s.Equal(audit.CategoryCompliance, events[0].Category)
	})
}

func (s *ServiceSuite) TestRegisterConflicts() {
	_, err := s.service.Register(s.ctx, rt.Alice, aliceRegistration())
	s.Require().NoError(err)

	_, err = s.service.Register(s.ctx, rt.Alice, aliceRegistration())
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyRegistered))

	reg := aliceRegistration()
	reg.ExternalID = "P-9999"
	reg.Email = " alice@example.COM"
	_, err = s.service.Register(s.ctx, rt.Bob, reg)
	s.True(dErrors.HasCode(err, dErrors.CodeDuplicateIdentity))
}

func (s *ServiceSuite) TestRegisterValidation() {
	tests := map[string]func(r *identity.Registration){
		"blank display name":  func(r *identity.Registration) { r.DisplayName = "   " },
		"display name length": func(r *identity.Registration) { r.DisplayName = strings.Repeat("é", identity.MaxDisplayNameLength+1) },
		"email without at":    func(r *identity.Registration) { r.Email = "alice.example.com" },
		"email without local": func(r *identity.Registration) { r.Email = "@example.com" },
		"email with two ats":  func(r *identity.Registration) { r.Email = "a@b@c" },
		"empty external id":   func(r *identity.Registration) { r.ExternalID = "" },
		"nul in display name": func(r *identity.Registration) { r.DisplayName = "A\x00" },
		"display name escape": func(r *identity.Registration) { r.DisplayName = "Alice\x1b[2J" },
		"broken utf-8 name":   func(r *identity.Registration) { r.DisplayName = "Al\xffce" },
		"newline in org":      func(r *identity.Registration) { r.Organization = "Registry\nOffice" },
	}
	before := s.h.Height(s.T())
	for name, mutate := range tests {
		s.Run(name, func() {
			reg := aliceRegistration()
			mutate(&reg)
			_, err := s.service.Register(s.ctx, rt.Alice, reg)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput), "got %v", err)
		})
	}
	s.Equal(before, s.h.Height(s.T()))

	_, err := s.service.Register(s.ctx, "", aliceRegistration())
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ServiceSuite) TestDisplayNameAtLimit() {
	reg := aliceRegistration()
	reg.DisplayName = strings.Repeat("é", identity.MaxDisplayNameLength)
	_, err := s.service.Register(s.ctx, rt.Alice, reg)
	s.NoError(err)
}

func (s *ServiceSuite) TestGet() {
	_, err := s.service.Register(s.ctx, rt.Alice, aliceRegistration())
	s.Require().NoError(err)

	view, err := s.service.Get(s.ctx, rt.Bob, rt.Alice)
	s.Require().NoError(err)
	s.Equal(rt.Alice, view.Principal)
	s.Require().NotNil(view.Profile)
	s.Equal("Wonderland University", view.Profile.Organization)
	s.False(view.ProfileDegraded)

	_, err = s.service.Get(s.ctx, rt.Bob, rt.Bob)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.Get(s.ctx, rt.Bob, "")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ServiceSuite) TestProfileOutageDoesNotAffectLedger() {
	ctrl := gomock.NewController(s.T())
	store := mocks.NewMockStore(ctrl)
	outage := errors.New("connection refused")
	store.EXPECT().Put(gomock.Any(), gomock.Any()).Return(outage)
	store.EXPECT().Get(gomock.Any(), rt.Alice).Return(profile.Profile{}, outage)

	service := identity.NewService(s.h.Client, s.h.Hasher,
		identity.WithLogger(discard()),
		identity.WithProfileStore(profile.NewResilient(store, profile.WithLogger(discard()))),
	)

	_, err := service.Register(s.ctx, rt.Alice, aliceRegistration())
	s.Require().NoError(err)

	view, err := service.Get(s.ctx, rt.Alice, rt.Alice)
	s.Require().NoError(err)
	s.Nil(view.Profile)
	s.True(view.ProfileDegraded)
	s.Equal("Alice Liddell", view.DisplayName)
}

func (s *ServiceSuite) TestWithoutProfileStore() {
	service := identity.NewService(s.h.Client, s.h.Hasher, identity.WithLogger(discard()))
	_, err := service.Register(s.ctx, rt.Alice, aliceRegistration())
	s.Require().NoError(err)

	view, err := service.Get(s.ctx, rt.Alice, rt.Alice)
	s.Require().NoError(err)
	s.Nil(view.Profile)
	s.False(view.ProfileDegraded)
}
