package credential

import (
	"context"
	"errors"
	"time"

	"idledger/internal/fingerprint"
	"idledger/internal/identity"
	"idledger/internal/ledger"
	"idledger/internal/roles"
	id "idledger/pkg/domain"
	dErrors "idledger/pkg/domain-errors"
	"idledger/pkg/platform/sentinel"
)

// Manager holds the credential rules over one ledger State.
type Manager struct {
	st       ledger.State
	hasher   fingerprint.Hasher
	roles    *roles.Manager
	subjects *identity.Manager
}

func NewManager(st ledger.State, hasher fingerprint.Hasher) *Manager {
	return &Manager{
		st:       st,
		hasher:   hasher,
		roles:    roles.NewManager(st),
		subjects: identity.NewManager(st),
	}
}

// Fingerprint derives the credential key for a claim digest issued by issuer.
func (m *Manager) Fingerprint(subject id.Principal, claimDigest id.Fingerprint, issuer id.Principal) (id.Fingerprint, error) {
	return m.hasher.Credential(subject, claimDigest[:], issuer)
}

func (m *Manager) Issue(ctx context.Context, caller, subject id.Principal, claimDigest id.Fingerprint, at time.Time) (ledger.Outcome, error) {
	if err := m.roles.Require(ctx, caller, roles.RoleIssuer); err != nil {
		return ledger.Outcome{}, err
	}
	if subject.IsZero() {
		return ledger.Outcome{}, dErrors.New(dErrors.CodeInvalidInput, "subject is required")
	}
	if claimDigest.IsZero() {
		return ledger.Outcome{}, dErrors.New(dErrors.CodeInvalidInput, "claim digest is required")
	}
	if _, err := m.subjects.Get(ctx, subject); err != nil {
		return ledger.Outcome{}, err
	}

	fp, err := m.Fingerprint(subject, claimDigest, caller)
	if err != nil {
		return ledger.Outcome{}, err
	}
	existing, err := m.Get(ctx, subject, fp)
	switch {
	case err == nil && existing.IsIssued():
		return ledger.Outcome{}, dErrors.New(dErrors.CodeAlreadyIssued, "credential already issued")
	case err == nil:
		return ledger.Outcome{}, dErrors.New(dErrors.CodeAlreadyRevoked, "credential was revoked and cannot be reissued")
	case !dErrors.HasCode(err, dErrors.CodeNotFound):
		return ledger.Outcome{}, err
	}

	c := Credential{
		Subject:     subject,
		Fingerprint: fp,
		Status:      StatusIssued,
		Issuer:      caller,
		IssuedAt:    at.UTC(),
	}
	if err := ledger.PutJSON(ctx, m.st, credentialKey(subject, fp), c); err != nil {
		return ledger.Outcome{}, err
	}
	return ledger.Result(c, ledger.NewEvent(EventCredentialIssued,
		"subject", subject.String(),
		"fingerprint", fp.Hex(),
		"issuer", caller.String(),
	))
}

// Revoke moves an issued credential to Revoked. Any issuer may revoke any
// issuer's credential.
func (m *Manager) Revoke(ctx context.Context, caller, subject id.Principal, fp id.Fingerprint, at time.Time) (ledger.Outcome, error) {
	if err := m.roles.Require(ctx, caller, roles.RoleIssuer); err != nil {
		return ledger.Outcome{}, err
	}
	if subject.IsZero() {
		return ledger.Outcome{}, dErrors.New(dErrors.CodeInvalidInput, "subject is required")
	}
	c, err := m.Get(ctx, subject, fp)
	if err != nil {
		return ledger.Outcome{}, err
	}
	if !c.IsIssued() {
		return ledger.Outcome{}, dErrors.New(dErrors.CodeAlreadyRevoked, "credential already revoked")
	}

	revokedAt := at.UTC()
	c.Status = StatusRevoked
	c.RevokedAt = &revokedAt
	c.RevokedBy = caller
	if err := ledger.PutJSON(ctx, m.st, credentialKey(subject, fp), c); err != nil {
		return ledger.Outcome{}, err
	}
	return ledger.Result(c, ledger.NewEvent(EventCredentialRevoked,
		"subject", subject.String(),
		"fingerprint", fp.Hex(),
		"issuer", c.Issuer.String(),
		"revoked_by", caller.String(),
	))
}

func (m *Manager) Get(ctx context.Context, subject id.Principal, fp id.Fingerprint) (*Credential, error) {
	var c Credential
	err := ledger.GetJSON(ctx, m.st, credentialKey(subject, fp), &c)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "credential not found")
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (m *Manager) Status(ctx context.Context, subject id.Principal, fp id.Fingerprint) (Status, error) {
	c, err := m.Get(ctx, subject, fp)
	if err != nil {
		return "", err
	}
	return c.Status, nil
}

func (m *Manager) Apply(ctx context.Context, tx ledger.Tx) (ledger.Outcome, error) {
	switch tx.Type {
	case TxIssueCredential:
		var p IssuePayload
		if err := ledger.DecodePayload(tx, &p); err != nil {
			return ledger.Outcome{}, err
		}
		return m.Issue(ctx, tx.Caller, p.Subject, p.ClaimDigest, tx.Timestamp)
	case TxRevokeCredential:
		var p RevokePayload
		if err := ledger.DecodePayload(tx, &p); err != nil {
			return ledger.Outcome{}, err
		}
		return m.Revoke(ctx, tx.Caller, p.Subject, p.Fingerprint, tx.Timestamp)
	}
	return ledger.Outcome{}, dErrors.New(dErrors.CodeInvalidInput, "unsupported transaction type: "+string(tx.Type))
}
