package httptransport

import (
	"bytes"
	"encoding/json"
	"strings"

	"idledger/internal/credential"
	"idledger/internal/roles"
	id "idledger/pkg/domain"
	dErrors "idledger/pkg/domain-errors"
)

type RegisterSubjectRequest struct {
	DisplayName  string `json:"display_name"`
	Email        string `json:"email"`
	ExternalID   string `json:"external_id"`
	Organization string `json:"organization,omitempty"`
}

// Validate checks presence only; the identity service owns the format rules.
func (r *RegisterSubjectRequest) Validate() error {
	if strings.TrimSpace(r.DisplayName) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "display_name is required")
	}
	if strings.TrimSpace(r.Email) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "email is required")
	}
	if strings.TrimSpace(r.ExternalID) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "external_id is required")
	}
	return nil
}

type GrantRoleRequest struct {
	Target string `json:"target"`
	Role   string `json:"role"`

	target id.Principal
	role   roles.Role
}

func (r *GrantRoleRequest) Validate() error {
	var err error
	if r.target, err = id.ParseTarget(r.Target); err != nil {
		return err
	}
	r.role, err = roles.ParseRole(r.Role)
	return err
}

// TargetRequest names the principal of a fixed-role grant.
type TargetRequest struct {
	Target string `json:"target"`

	target id.Principal
}

func (r *TargetRequest) Validate() error {
	var err error
	r.target, err = id.ParseTarget(r.Target)
	return err
}

type TransferAdminRequest struct {
	NewAdmin string `json:"new_admin"`

	newAdmin id.Principal
}

func (r *TransferAdminRequest) Validate() error {
	var err error
	r.newAdmin, err = id.ParseTarget(r.NewAdmin)
	return err
}

// IssueCredentialRequest carries the claim as any JSON value. A JSON string
// is hashed as its text; anything else as its compact encoding, so
// insignificant whitespace does not change the fingerprint.
type IssueCredentialRequest struct {
	Subject string          `json:"subject"`
	Claim   json.RawMessage `json:"claim"`

	subject id.Principal
	claim   []byte
}

func (r *IssueCredentialRequest) Validate() error {
	var err error
	if r.subject, err = id.ParsePrincipal(r.Subject); err != nil {
		return err
	}
	r.claim, err = claimBytes(r.Claim)
	return err
}

func claimBytes(raw json.RawMessage) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "claim is required")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "claim is not valid JSON")
		}
		if s == "" {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "claim is required")
		}
		return []byte(s), nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "claim is not valid JSON")
	}
	if buf.Len() > credential.MaxClaimBytes {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "claim payload too large")
	}
	return buf.Bytes(), nil
}

// CredentialRequest addresses one credential for revoke and verify.
type CredentialRequest struct {
	Subject     string `json:"subject"`
	Fingerprint string `json:"fingerprint"`

	subject     id.Principal
	fingerprint id.Fingerprint
}

func (r *CredentialRequest) Validate() error {
	var err error
	if r.subject, err = id.ParsePrincipal(r.Subject); err != nil {
		return err
	}
	r.fingerprint, err = id.ParseFingerprint(r.Fingerprint)
	return err
}
