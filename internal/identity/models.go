package identity

import (
	"strings"
	"time"

	"idledger/internal/ledger"
	"idledger/internal/profile"
	id "idledger/pkg/domain"
	dErrors "idledger/pkg/domain-errors"
)

const MaxDisplayNameLength = 128

// Subject is a registered identity. Only Verified and the verification
// metadata ever change after registration.
type Subject struct {
	Principal        id.Principal   `json:"principal"`
	DisplayName      string         `json:"display_name"`
	EmailFingerprint id.Fingerprint `json:"email_fingerprint"`
	IDFingerprint    id.Fingerprint `json:"id_fingerprint"`
	Verified         bool           `json:"verified"`
	RegisteredAt     time.Time      `json:"registered_at"`
	VerifiedAt       *time.Time     `json:"verified_at,omitempty"`
	VerifiedBy       id.Principal   `json:"verified_by,omitempty"`
}

// SubjectView is a Subject enriched with off-ledger display fields.
type SubjectView struct {
	Subject
	Profile         *profile.Profile `json:"profile,omitempty"`
	ProfileDegraded bool             `json:"profile_degraded,omitempty"`
}

// Registration is the caller's input. Email and ExternalID never leave the
// service: only their fingerprints are submitted.
type Registration struct {
	DisplayName  string
	Email        string
	ExternalID   string
	Organization string
}

func (r *Registration) Validate() error {
	r.DisplayName = strings.TrimSpace(r.DisplayName)
	r.Email = strings.TrimSpace(r.Email)
	r.ExternalID = strings.TrimSpace(r.ExternalID)
	r.Organization = strings.TrimSpace(r.Organization)

	if err := validateDisplayName(r.DisplayName); err != nil {
		return err
	}
	local, domain, ok := strings.Cut(r.Email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return dErrors.New(dErrors.CodeInvalidInput, "email must have the form local@domain")
	}
	if r.ExternalID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "external id is required")
	}
	return profile.CheckText("organization", r.Organization, profile.MaxOrganizationLength)
}

func validateDisplayName(name string) error {
	if name == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "display name is required")
	}
	return profile.CheckText("display name", name, MaxDisplayNameLength)
}

const TxRegisterSubject ledger.TxType = "register_subject"

const (
	EventSubjectRegistered = "subject_registered"
	EventSubjectVerified   = "subject_verified"
)

// RegisterPayload is what reaches the ledger: the registering principal is
// the transaction caller.
type RegisterPayload struct {
	DisplayName      string         `json:"display_name"`
	EmailFingerprint id.Fingerprint `json:"email_fingerprint"`
	IDFingerprint    id.Fingerprint `json:"id_fingerprint"`
}

func subjectKey(p id.Principal) ledger.Key {
	return ledger.Key("subject/" + p.String())
}

func emailKey(fp id.Fingerprint) ledger.Key {
	return ledger.Key("email/" + fp.Hex())
}

// Registered is a committed registration.
type Registered struct {
	Subject
	Commit ledger.Commit `json:"-"`
}
