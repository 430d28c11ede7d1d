// Package profile keeps non-sensitive display fields off the ledger.
//
// The store is never authoritative. Callers read and write it through
// Resilient, which degrades to an empty profile instead of failing or
// blocking a ledger operation.
package profile

import (
	"context"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	id "idledger/pkg/domain"
	dErrors "idledger/pkg/domain-errors"
)

const (
	MaxDisplayNameLength  = 128
	MaxOrganizationLength = 128
)

type Profile struct {
	Principal    id.Principal `json:"principal"`
	DisplayName  string       `json:"display_name"`
	Organization string       `json:"organization,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func (p Profile) IsEmpty() bool {
	return p.DisplayName == "" && p.Organization == ""
}

// Validate normalises display fields in place.
func (p *Profile) Validate() error {
	if p.Principal.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "profile principal is required")
	}
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	p.Organization = strings.TrimSpace(p.Organization)
	if err := CheckText("display name", p.DisplayName, MaxDisplayNameLength); err != nil {
		return err
	}
	return CheckText("organization", p.Organization, MaxOrganizationLength)
}

// CheckText accepts printable UTF-8 of at most maxRunes runes. Control
// characters, NUL included, are rejected: no backend can store them alike.
func CheckText(field, s string, maxRunes int) error {
	if !utf8.ValidString(s) {
		return dErrors.New(dErrors.CodeInvalidInput, field+" is not valid UTF-8")
	}
	if utf8.RuneCountInString(s) > maxRunes {
		return dErrors.New(dErrors.CodeInvalidInput, field+" too long")
	}
	if strings.IndexFunc(s, unicode.IsControl) >= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, field+" contains control characters")
	}
	return nil
}

// Store persists profiles. Get returns sentinel.ErrNotFound for unknown
// principals.
type Store interface {
	Put(ctx context.Context, p Profile) error
	Get(ctx context.Context, principal id.Principal) (Profile, error)
	Ping(ctx context.Context) error
}

//go:generate mockgen -destination=mocks/mocks.go -package=mocks idledger/internal/profile Store
