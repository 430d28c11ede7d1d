// Package e2e drives the registry API end to end: real router, real
// services, in-memory ledger, signed bearer tokens.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"idledger/internal/credential"
	"idledger/internal/fingerprint"
	"idledger/internal/identity"
	jwttoken "idledger/internal/jwt_token"
	"idledger/internal/ledger"
	"idledger/internal/ledger/memory"
	"idledger/internal/platform/metrics"
	"idledger/internal/profile"
	"idledger/internal/registry"
	"idledger/internal/roles"
	httptransport "idledger/internal/transport/http"
	"idledger/internal/verification"
	id "idledger/pkg/domain"
)

const signingKey = "e2e-signing-key"

// actors maps the names used in feature files to principals.
var actors = map[string]id.Principal{
	"admin":    "0x00000000000000000000000000000000000000a1",
	"issuer":   "0x00000000000000000000000000000000000000b1",
	"issuer2":  "0x00000000000000000000000000000000000000b2",
	"verifier": "0x00000000000000000000000000000000000000c1",
	"alice":    "0x00000000000000000000000000000000000000d1",
	"bob":      "0x00000000000000000000000000000000000000d2",
	"mallory":  "0x00000000000000000000000000000000000000e1",
}

// TestContext holds one scenario's server and the last response.
type TestContext struct {
	server *httptest.Server
	tokens *jwttoken.JWTService

	caller       string
	status       int
	body         map[string]any
	fingerprints map[string]string
}

func NewTestContext() *TestContext {
	return &TestContext{tokens: jwttoken.NewJWTService(signingKey, "idledger", "idledger-api")}
}

// Start builds a fresh registry with admin as the genesis admin.
func (tc *TestContext) Start(ctx context.Context, admin string) error {
	tc.Stop()
	principal, err := tc.Principal(admin)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())
	hasher := fingerprint.New(fingerprint.SHA256)
	client := ledger.NewClient(memory.New(registry.NewMachine(hasher)), ledger.NewSessions(), ledger.WithMetrics(m))

	roleService := roles.NewService(client, roles.WithLogger(logger))
	if _, err := roleService.EnsureGenesis(ctx, principal); err != nil {
		return err
	}
	profiles := profile.NewResilient(profile.NewInMemoryStore(), profile.WithLogger(logger), profile.WithMetrics(m))

	handler := httptransport.New(logger,
		roleService,
		identity.NewService(client, hasher, identity.WithLogger(logger), identity.WithProfileStore(profiles)),
		credential.NewService(client, hasher, credential.WithLogger(logger)),
		verification.NewService(client, hasher, verification.WithLogger(logger), verification.WithMetrics(m)),
	)
	tc.server = httptest.NewServer(httptransport.NewRouter(httptransport.RouterConfig{
		Logger:    logger,
		Handler:   handler,
		Validator: tc.tokens,
		Ledger:    client,
		NetworkID: 5777,
		Profiles:  profiles,
		Gatherer:  prometheus.NewRegistry(),
	}))
	tc.caller = ""
	tc.status = 0
	tc.body = nil
	tc.fingerprints = make(map[string]string)
	return nil
}

func (tc *TestContext) Stop() {
	if tc.server != nil {
		tc.server.Close()
		tc.server = nil
	}
}

func (tc *TestContext) Principal(name string) (id.Principal, error) {
	p, ok := actors[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("unknown actor %q", name)
	}
	return p, nil
}

// ActAs makes subsequent requests carry name's token. An empty name sends
// no token.
func (tc *TestContext) ActAs(name string) error {
	if name == "" {
		tc.caller = ""
		return nil
	}
	if _, err := tc.Principal(name); err != nil {
		return err
	}
	tc.caller = strings.ToLower(name)
	return nil
}

func (tc *TestContext) POST(path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return tc.do(http.MethodPost, path, bytes.NewReader(payload))
}

func (tc *TestContext) GET(path string) error {
	return tc.do(http.MethodGet, path, nil)
}

func (tc *TestContext) do(method, path string, body io.Reader) error {
	req, err := http.NewRequest(method, tc.server.URL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tc.caller != "" {
		token, err := tc.tokens.GenerateAccessToken(actors[tc.caller], time.Hour)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := tc.server.Client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tc.status = resp.StatusCode
	tc.body = nil
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &tc.body); err != nil {
			return fmt.Errorf("decode response %q: %w", raw, err)
		}
	}
	return nil
}

func (tc *TestContext) Status() int { return tc.status }

// Field resolves a dotted path such as "receipt.height" in the last response.
func (tc *TestContext) Field(path string) (any, error) {
	var cur any = tc.body
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %q: %q is not an object", path, part)
		}
		if cur, ok = obj[part]; !ok {
			return nil, fmt.Errorf("field %q missing in %v", path, tc.body)
		}
	}
	return cur, nil
}

// Remember stores a credential fingerprint under label.
func (tc *TestContext) Remember(label, fingerprint string) {
	tc.fingerprints[label] = fingerprint
}

func (tc *TestContext) Recall(label string) (string, error) {
	fp, ok := tc.fingerprints[label]
	if !ok {
		return "", fmt.Errorf("no credential remembered as %q", label)
	}
	return fp, nil
}
