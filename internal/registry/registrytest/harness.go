// Package registrytest wires the registry machine to an in-memory ledger for
// package tests.
package registrytest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"idledger/internal/credential"
	"idledger/internal/fingerprint"
	"idledger/internal/identity"
	"idledger/internal/ledger"
	"idledger/internal/ledger/memory"
	"idledger/internal/registry"
	"idledger/internal/roles"
	id "idledger/pkg/domain"
)

const (
	Admin    id.Principal = "0x00000000000000000000000000000000000000a1"
	Issuer   id.Principal = "0x00000000000000000000000000000000000000b1"
	Issuer2  id.Principal = "0x00000000000000000000000000000000000000b2"
	Verifier id.Principal = "0x00000000000000000000000000000000000000c1"
	Alice    id.Principal = "0x00000000000000000000000000000000000000d1"
	Bob      id.Principal = "0x00000000000000000000000000000000000000d2"
	Mallory  id.Principal = "0x00000000000000000000000000000000000000e1"
)

// Epoch is the timestamp every harness transaction carries.
var Epoch = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type Harness struct {
	Gateway *memory.Gateway
	Client  *ledger.Client
	Hasher  fingerprint.Hasher
}

// New returns a ledger bootstrapped with Admin.
func New(t testing.TB) *Harness {
	t.Helper()
	hasher := fingerprint.New(fingerprint.SHA256)
	gw := memory.New(registry.NewMachine(hasher), memory.WithClock(func() time.Time { return Epoch }))
	t.Cleanup(func() { _ = gw.Close() })
	h := &Harness{
		Gateway: gw,
		Client:  ledger.NewClient(gw, ledger.NewSessions()),
		Hasher:  hasher,
	}
	_, err := h.Submit(roles.TxBootstrap, Admin, roles.BootstrapPayload{Admin: Admin})
	require.NoError(t, err)
	return h
}

// WithStaff grants Issuer, Issuer2 and Verifier their roles.
func (h *Harness) WithStaff(t testing.TB) *Harness {
	t.Helper()
	h.Grant(t, Issuer, roles.RoleIssuer)
	h.Grant(t, Issuer2, roles.RoleIssuer)
	h.Grant(t, Verifier, roles.RoleVerifier)
	return h
}

func (h *Harness) Submit(txType ledger.TxType, caller id.Principal, payload any) (ledger.Receipt, error) {
	tx, err := ledger.NewTx(txType, caller, payload, Epoch)
	if err != nil {
		return ledger.Receipt{}, err
	}
	return h.Client.Submit(context.Background(), tx)
}

func (h *Harness) Grant(t testing.TB, target id.Principal, role roles.Role) {
	t.Helper()
	_, err := h.Submit(roles.TxGrantRole, Admin, roles.GrantPayload{Target: target, Role: role})
	require.NoError(t, err)
}

// Register registers principal under email.
func (h *Harness) Register(t testing.TB, principal id.Principal, email string) {
	t.Helper()
	emailFP, err := h.Hasher.Email(email)
	require.NoError(t, err)
	idFP, err := h.Hasher.ExternalID("ext-" + principal.String())
	require.NoError(t, err)
	_, err = h.Submit(identity.TxRegisterSubject, principal, identity.RegisterPayload{
		DisplayName:      "Test Subject",
		EmailFingerprint: emailFP,
		IDFingerprint:    idFP,
	})
	require.NoError(t, err)
}

// Issue issues claim to subject as issuer and returns the credential fingerprint.
func (h *Harness) Issue(t testing.TB, issuer, subject id.Principal, claim string) id.Fingerprint {
	t.Helper()
	digest, err := h.Hasher.Of([]byte(claim))
	require.NoError(t, err)
	receipt, err := h.Submit(credential.TxIssueCredential, issuer, credential.IssuePayload{Subject: subject, ClaimDigest: digest})
	require.NoError(t, err)
	var c credential.Credential
	require.NoError(t, receipt.DecodeResult(&c))
	return c.Fingerprint
}

// State reads the committed ledger without a session floor.
func (h *Harness) State() ledger.State {
	return h.Client.View("")
}

func (h *Harness) Height(t testing.TB) uint64 {
	t.Helper()
	height, err := h.Client.Height(context.Background())
	require.NoError(t, err)
	return height
}
