package credential

import (
	"time"

	"idledger/internal/ledger"
	id "idledger/pkg/domain"
)

// MaxClaimBytes bounds the claim payload accepted for issuance.
const MaxClaimBytes = 64 << 10

type Status string

const (
	StatusIssued  Status = "issued"
	StatusRevoked Status = "revoked"
)

// Credential is the ledger record keyed by (subject, fingerprint). Revoked
// records stay in place; Revoked is terminal.
type Credential struct {
	Subject     id.Principal   `json:"subject"`
	Fingerprint id.Fingerprint `json:"fingerprint"`
	Status      Status         `json:"status"`
	Issuer      id.Principal   `json:"issuer"`
	IssuedAt    time.Time      `json:"issued_at"`
	RevokedAt   *time.Time     `json:"revoked_at,omitempty"`
	RevokedBy   id.Principal   `json:"revoked_by,omitempty"`
}

func (c Credential) IsIssued() bool { return c.Status == StatusIssued }

// Committed is a credential as left by a committed transaction.
type Committed struct {
	Credential
	Commit ledger.Commit `json:"-"`
}

const (
	TxIssueCredential  ledger.TxType = "issue_credential"
	TxRevokeCredential ledger.TxType = "revoke_credential"
)

const (
	EventCredentialIssued  = "credential_issued"
	EventCredentialRevoked = "credential_revoked"
)

// IssuePayload carries the claim's digest, not the claim. The fingerprint
// is derived inside the commit from subject, digest and the caller.
type IssuePayload struct {
	Subject     id.Principal   `json:"subject"`
	ClaimDigest id.Fingerprint `json:"claim_digest"`
}

type RevokePayload struct {
	Subject     id.Principal   `json:"subject"`
	Fingerprint id.Fingerprint `json:"fingerprint"`
}

func credentialKey(subject id.Principal, fp id.Fingerprint) ledger.Key {
	return ledger.Key("credential/" + subject.String() + "/" + fp.Hex())
}
