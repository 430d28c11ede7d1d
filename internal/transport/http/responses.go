package httptransport

import (
	"time"

	"idledger/internal/credential"
	"idledger/internal/identity"
	"idledger/internal/ledger"
	"idledger/internal/profile"
	"idledger/internal/roles"
	"idledger/internal/verification"
	id "idledger/pkg/domain"
)

// ReceiptResponse tells the caller where its transaction landed.
type ReceiptResponse struct {
	TxID        string    `json:"tx_id"`
	Height      uint64    `json:"height"`
	CommittedAt time.Time `json:"committed_at"`
}

func toReceipt(c ledger.Commit) *ReceiptResponse {
	return &ReceiptResponse{TxID: c.TxID.String(), Height: c.Height, CommittedAt: c.CommittedAt}
}

type SubjectResponse struct {
	Principal        id.Principal     `json:"principal"`
	DisplayName      string           `json:"display_name"`
	EmailFingerprint id.Fingerprint   `json:"email_fingerprint"`
	IDFingerprint    id.Fingerprint   `json:"id_fingerprint"`
	Verified         bool             `json:"verified"`
	RegisteredAt     time.Time        `json:"registered_at"`
	VerifiedAt       *time.Time       `json:"verified_at,omitempty"`
	VerifiedBy       id.Principal     `json:"verified_by,omitempty"`
	Profile          *ProfileResponse `json:"profile,omitempty"`
	ProfileDegraded  bool             `json:"profile_degraded,omitempty"`
	Receipt          *ReceiptResponse `json:"receipt,omitempty"`
}

type ProfileResponse struct {
	DisplayName  string `json:"display_name"`
	Organization string `json:"organization,omitempty"`
}

func toSubject(s identity.Subject) SubjectResponse {
	return SubjectResponse{
		Principal:        s.Principal,
		DisplayName:      s.DisplayName,
		EmailFingerprint: s.EmailFingerprint,
		IDFingerprint:    s.IDFingerprint,
		Verified:         s.Verified,
		RegisteredAt:     s.RegisteredAt,
		VerifiedAt:       s.VerifiedAt,
		VerifiedBy:       s.VerifiedBy,
	}
}

func toProfile(p *profile.Profile) *ProfileResponse {
	if p == nil {
		return nil
	}
	return &ProfileResponse{DisplayName: p.DisplayName, Organization: p.Organization}
}

type RoleResponse struct {
	Principal id.Principal `json:"principal"`
	Role      roles.Role   `json:"role"`
}

type HasRoleResponse struct {
	Principal id.Principal `json:"principal"`
	Role      roles.Role   `json:"role"`
	HasRole   bool         `json:"has_role"`
}

type AdminResponse struct {
	Admin id.Principal `json:"admin"`
}

type GrantResponse struct {
	Target           id.Principal     `json:"target"`
	Role             roles.Role       `json:"role"`
	Previous         roles.Role       `json:"previous"`
	Changed          bool             `json:"changed"`
	AdminTransferred bool             `json:"admin_transferred"`
	Receipt          *ReceiptResponse `json:"receipt"`
}

func toGrant(r *roles.GrantResult) GrantResponse {
	return GrantResponse{
		Target:           r.Target,
		Role:             r.Role,
		Previous:         r.Previous,
		Changed:          r.Changed,
		AdminTransferred: r.AdminTransferred,
		Receipt:          toReceipt(r.Commit),
	}
}

type CredentialResponse struct {
	Subject     id.Principal      `json:"subject"`
	Fingerprint id.Fingerprint    `json:"fingerprint"`
	Status      credential.Status `json:"status"`
	Issuer      id.Principal      `json:"issuer"`
	IssuedAt    time.Time         `json:"issued_at"`
	RevokedAt   *time.Time        `json:"revoked_at,omitempty"`
	RevokedBy   id.Principal      `json:"revoked_by,omitempty"`
	Receipt     *ReceiptResponse  `json:"receipt,omitempty"`
}

func toCredential(c credential.Credential) CredentialResponse {
	return CredentialResponse{
		Subject:     c.Subject,
		Fingerprint: c.Fingerprint,
		Status:      c.Status,
		Issuer:      c.Issuer,
		IssuedAt:    c.IssuedAt,
		RevokedAt:   c.RevokedAt,
		RevokedBy:   c.RevokedBy,
	}
}

type StatusResponse struct {
	Subject     id.Principal      `json:"subject"`
	Fingerprint id.Fingerprint    `json:"fingerprint"`
	Status      credential.Status `json:"status"`
}

type VerifyResponse struct {
	Subject         id.Principal      `json:"subject"`
	Fingerprint     id.Fingerprint    `json:"fingerprint"`
	Valid           bool              `json:"valid"`
	Status          credential.Status `json:"status,omitempty"`
	SubjectVerified bool              `json:"subject_verified"`
	Receipt         *ReceiptResponse  `json:"receipt,omitempty"`
}

func toVerify(r *verification.Result) VerifyResponse {
	resp := VerifyResponse{
		Subject:         r.Subject,
		Fingerprint:     r.Fingerprint,
		Valid:           r.Valid,
		Status:          r.Status,
		SubjectVerified: r.SubjectVerified,
	}
	if r.Commit != nil {
		resp.Receipt = toReceipt(*r.Commit)
	}
	return resp
}

type HealthResponse struct {
	Status       string `json:"status"`
	Height       uint64 `json:"height"`
	NetworkID    uint64 `json:"network_id"`
	ProfileStore string `json:"profile_store,omitempty"`
}
