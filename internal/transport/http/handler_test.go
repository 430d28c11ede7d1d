package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"idledger/internal/credential"
	"idledger/internal/identity"
	"idledger/internal/profile"
	"idledger/internal/ratelimit"
	rt "idledger/internal/registry/registrytest"
	"idledger/internal/roles"
	"idledger/internal/verification"
	id "idledger/pkg/domain"
	"idledger/pkg/platform/httputil"
)

// tokenValidator accepts "token-<principal>".
type tokenValidator struct{}

func (tokenValidator) PrincipalFromToken(token string) (id.Principal, error) {
	p, ok := strings.CutPrefix(token, "token-")
	if !ok {
		return "", errors.New("invalid token")
	}
	return id.ParsePrincipal(p)
}

type HandlerSuite struct {
	suite.Suite
	h      *rt.Harness
	router http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.h = rt.New(s.T()).WithStaff(s.T())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	profiles := profile.NewResilient(profile.NewInMemoryStore(), profile.WithLogger(logger))

	handler := New(logger,
		roles.NewService(s.h.Client, roles.WithLogger(logger)),
		identity.NewService(s.h.Client, s.h.Hasher, identity.WithLogger(logger), identity.WithProfileStore(profiles)),
		credential.NewService(s.h.Client, s.h.Hasher, credential.WithLogger(logger)),
		verification.NewService(s.h.Client, s.h.Hasher, verification.WithLogger(logger)),
	)
	s.router = NewRouter(RouterConfig{
		Logger:    logger,
		Handler:   handler,
		Validator: tokenValidator{},
		Ledger:    s.h.Client,
		NetworkID: 5777,
		Profiles:  profiles,
		Gatherer:  prometheus.NewRegistry(),
	})
}

func (s *HandlerSuite) do(method, path string, caller id.Principal, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if caller != "" {
		req.Header.Set("Authorization", "Bearer token-"+caller.String())
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) decode(rec *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(v))
}

func (s *HandlerSuite) errorCode(rec *httptest.ResponseRecorder) string {
	var body httputil.ErrorResponse
	s.decode(rec, &body)
	return body.Error
}

func (s *HandlerSuite) TestHealthz() {
	rec := s.do(http.MethodGet, "/healthz", "", "")
	s.Require().Equal(http.StatusOK, rec.Code)

	var body HealthResponse
	s.decode(rec, &body)
	s.Equal("ok", body.Status)
	s.Equal(uint64(4), body.Height)
	s.Equal(uint64(5777), body.NetworkID)
	s.Equal("ok", body.ProfileStore)
}

func (s *HandlerSuite) TestMetricsIsPublic() {
	rec := s.do(http.MethodGet, "/metrics", "", "")
	s.Equal(http.StatusOK, rec.Code)
}

func (s *HandlerSuite) TestMissingTokenIsUnauthenticated() {
	rec := s.do(http.MethodGet, "/api/admin", "", "")
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal(`Bearer realm="idledger"`, rec.Header().Get("WWW-Authenticate"))
	s.Equal("unauthenticated", s.errorCode(rec))
}

func (s *HandlerSuite) TestRequestIDIsEchoed() {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal("req-42", rec.Header().Get("X-Request-ID"))
}

func (s *HandlerSuite) TestGetAdmin() {
	rec := s.do(http.MethodGet, "/api/admin", rt.Alice, "")
	s.Require().Equal(http.StatusOK, rec.Code)

	var body AdminResponse
	s.decode(rec, &body)
	s.Equal(rt.Admin, body.Admin)
}

func (s *HandlerSuite) TestRegisterSubject() {
	body := `{"display_name":"Alice","email":"Alice@Example.com","external_id":"NAT-1","organization":"Acme"}`

	rec := s.do(http.MethodPost, "/api/subjects", rt.Alice, body)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var created SubjectResponse
	s.decode(rec, &created)
	s.Equal(rt.Alice, created.Principal)
	s.False(created.Verified)
	s.Require().NotNil(created.Receipt)
	s.Equal(uint64(5), created.Receipt.Height)
	s.NotContains(rec.Body.String(), "Alice@Example.com")

	s.Run("repeat registration conflicts", func() {
		rec := s.do(http.MethodPost, "/api/subjects", rt.Alice, body)
		s.Equal(http.StatusConflict, rec.Code)
		s.Equal("already_registered", s.errorCode(rec))
	})

	s.Run("same email from another principal conflicts", func() {
		rec := s.do(http.MethodPost, "/api/subjects", rt.Bob,
			`{"display_name":"Bob","email":"alice@example.com","external_id":"NAT-2"}`)
		s.Equal(http.StatusConflict, rec.Code)
		s.Equal("duplicate_identity", s.errorCode(rec))
	})

	s.Run("read back with profile", func() {
		rec := s.do(http.MethodGet, "/api/subjects/"+rt.Alice.String(), rt.Bob, "")
		s.Require().Equal(http.StatusOK, rec.Code)
		var got SubjectResponse
		s.decode(rec, &got)
		s.Equal(created.EmailFingerprint, got.EmailFingerprint)
		s.Require().NotNil(got.Profile)
		s.Equal("Acme", got.Profile.Organization)
		s.False(got.ProfileDegraded)
	})
}

func (s *HandlerSuite) TestRegisterSubjectRejectsBadBodies() {
	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "empty body", body: "", code: "bad_request"},
		{name: "malformed JSON", body: `{"display_name":`, code: "bad_request"},
		{name: "unknown field", body: `{"display_name":"A","email":"a@b.co","external_id":"x","role":"admin"}`, code: "bad_request"},
		{name: "missing email", body: `{"display_name":"A","external_id":"x"}`, code: "invalid_input"},
		{name: "invalid email", body: `{"display_name":"A","email":"nope","external_id":"x"}`, code: "invalid_input"},
	}
	for _, tc := range tests {
		s.Run(tc.name, func() {
			rec := s.do(http.MethodPost, "/api/subjects", rt.Bob, tc.body)
			s.Equal(http.StatusBadRequest, rec.Code)
			s.Equal(tc.code, s.errorCode(rec))
		})
	}
	s.Equal(uint64(4), s.h.Height(s.T()))
}

func (s *HandlerSuite) TestGetUnknownSubject() {
	rec := s.do(http.MethodGet, "/api/subjects/"+rt.Mallory.String(), rt.Alice, "")
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal("not_found", s.errorCode(rec))
}

func (s *HandlerSuite) TestGrantRole() {
	s.Run("non-admin is forbidden", func() {
		rec := s.do(http.MethodPost, "/api/roles", rt.Mallory, `{"target":"`+rt.Mallory.String()+`","role":"issuer"}`)
		s.Equal(http.StatusForbidden, rec.Code)
		s.Equal("unauthorized", s.errorCode(rec))
	})

	s.Run("zero target is rejected", func() {
		rec := s.do(http.MethodPost, "/api/roles", rt.Admin, `{"target":"0x0000000000000000000000000000000000000000","role":"issuer"}`)
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Equal("invalid_target", s.errorCode(rec))
	})

	s.Run("unknown role is rejected", func() {
		rec := s.do(http.MethodPost, "/api/roles", rt.Admin, `{"target":"`+rt.Bob.String()+`","role":"root"}`)
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Equal("invalid_input", s.errorCode(rec))
	})

	s.Run("admin grants verifier", func() {
		rec := s.do(http.MethodPost, "/api/roles", rt.Admin, `{"target":"`+rt.Bob.String()+`","role":"Verifier"}`)
		s.Require().Equal(http.StatusOK, rec.Code)
		var body GrantResponse
		s.decode(rec, &body)
		s.Equal(roles.RoleVerifier, body.Role)
		s.Equal(roles.RoleNone, body.Previous)
		s.True(body.Changed)
		s.Require().NotNil(body.Receipt)
	})

	s.Run("role is readable", func() {
		rec := s.do(http.MethodGet, "/api/roles/"+rt.Bob.String(), rt.Alice, "")
		s.Require().Equal(http.StatusOK, rec.Code)
		var body RoleResponse
		s.decode(rec, &body)
		s.Equal(roles.RoleVerifier, body.Role)

		rec = s.do(http.MethodGet, "/api/roles/"+rt.Bob.String()+"/issuer", rt.Alice, "")
		s.Require().Equal(http.StatusOK, rec.Code)
		var has HasRoleResponse
		s.decode(rec, &has)
		s.False(has.HasRole)
	})
}

func (s *HandlerSuite) TestFixedRoleRoutes() {
	rec := s.do(http.MethodPost, "/api/issuers", rt.Admin, `{"target":"`+rt.Bob.String()+`"}`)
	s.Require().Equal(http.StatusOK, rec.Code)
	var body GrantResponse
	s.decode(rec, &body)
	s.Equal(roles.RoleIssuer, body.Role)

	rec = s.do(http.MethodPost, "/api/verifiers", rt.Admin, `{"target":"`+rt.Alice.String()+`"}`)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.decode(rec, &body)
	s.Equal(roles.RoleVerifier, body.Role)
}

func (s *HandlerSuite) TestTransferAdmin() {
	rec := s.do(http.MethodPost, "/api/admin/transfer", rt.Admin, `{"new_admin":"`+rt.Bob.String()+`"}`)
	s.Require().Equal(http.StatusOK, rec.Code)
	var body GrantResponse
	s.decode(rec, &body)
	s.True(body.AdminTransferred)

	rec = s.do(http.MethodGet, "/api/admin", rt.Alice, "")
	var admin AdminResponse
	s.decode(rec, &admin)
	s.Equal(rt.Bob, admin.Admin)

	rec = s.do(http.MethodPost, "/api/admin/transfer", rt.Admin, `{"new_admin":"`+rt.Alice.String()+`"}`)
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *HandlerSuite) TestCredentialLifecycle() {
	s.h.Register(s.T(), rt.Alice, "alice@example.com")

	rec := s.do(http.MethodPost, "/api/credentials", rt.Issuer, `{"subject":"`+rt.Alice.String()+`","claim":"diploma"}`)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var issued CredentialResponse
	s.decode(rec, &issued)
	s.Equal(credential.StatusIssued, issued.Status)
	s.Equal(rt.Issuer, issued.Issuer)

	digest, err := s.h.Hasher.Of([]byte("diploma"))
	s.Require().NoError(err)
	want, err := s.h.Hasher.Credential(rt.Alice, digest[:], rt.Issuer)
	s.Require().NoError(err)
	s.Equal(want, issued.Fingerprint)

	path := "/api/credentials/" + rt.Alice.String() + "/" + issued.Fingerprint.Hex()
	credBody := `{"subject":"` + rt.Alice.String() + `","fingerprint":"` + issued.Fingerprint.Hex() + `"}`

	s.Run("issuing twice conflicts", func() {
		rec := s.do(http.MethodPost, "/api/credentials", rt.Issuer, `{"subject":"`+rt.Alice.String()+`","claim":"diploma"}`)
		s.Equal(http.StatusConflict, rec.Code)
		s.Equal("already_issued", s.errorCode(rec))
	})

	s.Run("verify requires verifier", func() {
		rec := s.do(http.MethodPost, "/api/credentials/verify", rt.Mallory, credBody)
		s.Equal(http.StatusForbidden, rec.Code)
	})

	s.Run("verify marks the subject", func() {
		rec := s.do(http.MethodPost, "/api/credentials/verify", rt.Verifier, credBody)
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
		var body VerifyResponse
		s.decode(rec, &body)
		s.True(body.Valid)
		s.True(body.SubjectVerified)
		s.NotNil(body.Receipt)

		rec = s.do(http.MethodGet, "/api/subjects/"+rt.Alice.String(), rt.Alice, "")
		var subject SubjectResponse
		s.decode(rec, &subject)
		s.True(subject.Verified)
		s.Equal(rt.Verifier, subject.VerifiedBy)
	})

	s.Run("revoke by another issuer", func() {
		rec := s.do(http.MethodPost, "/api/credentials/revoke", rt.Issuer2, credBody)
		s.Require().Equal(http.StatusOK, rec.Code)
		var body CredentialResponse
		s.decode(rec, &body)
		s.Equal(credential.StatusRevoked, body.Status)
		s.Equal(rt.Issuer2, body.RevokedBy)

		rec = s.do(http.MethodPost, "/api/credentials/revoke", rt.Issuer, credBody)
		s.Equal(http.StatusConflict, rec.Code)
		s.Equal("already_revoked", s.errorCode(rec))
	})

	s.Run("status and record reflect revocation", func() {
		rec := s.do(http.MethodGet, path+"/status", rt.Bob, "")
		s.Require().Equal(http.StatusOK, rec.Code)
		var status StatusResponse
		s.decode(rec, &status)
		s.Equal(credential.StatusRevoked, status.Status)

		rec = s.do(http.MethodGet, path, rt.Bob, "")
		s.Require().Equal(http.StatusOK, rec.Code)
		var c CredentialResponse
		s.decode(rec, &c)
		s.NotNil(c.RevokedAt)
	})

	s.Run("verify after revocation is invalid", func() {
		rec := s.do(http.MethodPost, "/api/credentials/verify", rt.Verifier, credBody)
		s.Require().Equal(http.StatusOK, rec.Code)
		var body VerifyResponse
		s.decode(rec, &body)
		s.False(body.Valid)
		s.Nil(body.Receipt)
	})
}

func (s *HandlerSuite) TestCredentialRouteErrors() {
	s.Run("issue to unregistered subject", func() {
		rec := s.do(http.MethodPost, "/api/credentials", rt.Issuer, `{"subject":"`+rt.Bob.String()+`","claim":{"degree":"BSc"}}`)
		s.Equal(http.StatusNotFound, rec.Code)
	})

	s.Run("issue without claim", func() {
		rec := s.do(http.MethodPost, "/api/credentials", rt.Issuer, `{"subject":"`+rt.Bob.String()+`"}`)
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Equal("invalid_input", s.errorCode(rec))
	})

	s.Run("malformed fingerprint in path", func() {
		rec := s.do(http.MethodGet, "/api/credentials/"+rt.Alice.String()+"/0x1234", rt.Alice, "")
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("unknown credential", func() {
		rec := s.do(http.MethodGet, "/api/credentials/"+rt.Alice.String()+"/"+id.Fingerprint{1}.Hex()+"/status", rt.Alice, "")
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

type downLedger struct{}

func (downLedger) Height(context.Context) (uint64, error) {
	return 0, errors.New("connection refused")
}

func TestHealthzReportsUnavailableLedger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(RouterConfig{
		Logger:    logger,
		Handler:   New(logger, nil, nil, nil, nil),
		Validator: tokenValidator{},
		Ledger:    downLedger{},
		Gatherer:  prometheus.NewRegistry(),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, httputil.RetryAfterSeconds, rec.Header().Get("Retry-After"))
	var body httputil.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "gateway_unavailable", body.Error)
}

func TestClaimBytes(t *testing.T) {
	compact, err := claimBytes(json.RawMessage(`{"degree": "BSc",  "year": 2024}`))
	require.NoError(t, err)
	assert.Equal(t, `{"degree":"BSc","year":2024}`, string(compact))

	text, err := claimBytes(json.RawMessage(`"diploma"`))
	require.NoError(t, err)
	assert.Equal(t, "diploma", string(text))

	for _, raw := range []string{``, `null`, `""`, `{"a":`} {
		_, err := claimBytes(json.RawMessage(raw))
		assert.Error(t, err, "claim %q", raw)
	}
}

func TestAPIIsRateLimitedPerCaller(t *testing.T) {
	h := rt.New(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(RouterConfig{
		Logger:    logger,
		Handler:   New(logger, roles.NewService(h.Client), nil, nil, nil),
		Validator: tokenValidator{},
		Ledger:    h.Client,
		Gatherer:  prometheus.NewRegistry(),
		RateLimit: ratelimit.New(ratelimit.NewInMemoryStore(), 2, time.Minute, ratelimit.WithLogger(logger)).Handler,
	})

	get := func(caller id.Principal) int {
		req := httptest.NewRequest(http.MethodGet, "/api/admin", nil)
		req.Header.Set("Authorization", "Bearer token-"+caller.String())
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get(rt.Alice))
	assert.Equal(t, http.StatusOK, get(rt.Alice))
	assert.Equal(t, http.StatusTooManyRequests, get(rt.Alice))
	assert.Equal(t, http.StatusOK, get(rt.Bob))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "health checks are not throttled")
}
