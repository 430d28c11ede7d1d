package domain

import (
	"strings"

	dErrors "idledger/pkg/domain-errors"
)

// MaxPrincipalLength bounds principal identifiers accepted at trust boundaries.
const MaxPrincipalLength = 256

const zeroAddress = "0x0000000000000000000000000000000000000000"

// Principal identifies an acting party: admin, issuer, verifier or subject owner.
// It is opaque to the registry. Hex addresses ("0x" + 40 hex digits) are
// canonicalised to lower case so checksum casing never creates two principals.
type Principal string

// ParsePrincipal validates and canonicalises a principal at a trust boundary.
// The zero principal is rejected with CodeInvalidInput; use ParseTarget where
// the zero principal must be reported as an invalid target instead.
func ParsePrincipal(s string) (Principal, error) {
	p, err := canonicalPrincipal(s)
	if err != nil {
		return "", err
	}
	if p.IsZero() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "principal is required")
	}
	return p, nil
}

// ParseTarget parses the target of a role grant. Malformed input is
// CodeInvalidInput; the zero principal is CodeInvalidTarget.
func ParseTarget(s string) (Principal, error) {
	p, err := canonicalPrincipal(s)
	if err != nil {
		return "", err
	}
	if p.IsZero() {
		return "", dErrors.New(dErrors.CodeInvalidTarget, "target must not be the zero principal")
	}
	return p, nil
}

func canonicalPrincipal(s string) (Principal, error) {
	s = strings.TrimSpace(s)
	if len(s) > MaxPrincipalLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "principal too long")
	}
	for _, r := range s {
		if !isPrincipalRune(r) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "principal contains invalid characters")
		}
	}
	if isHexAddress(s) {
		s = strings.ToLower(s)
	}
	return Principal(s), nil
}

// UnmarshalText canonicalises principals decoded from transaction payloads
// and stored records, so keys derived from them match ParsePrincipal. The
// zero principal is accepted here; the operation decides what it means.
func (p *Principal) UnmarshalText(text []byte) error {
	canonical, err := canonicalPrincipal(string(text))
	if err != nil {
		return err
	}
	*p = canonical
	return nil
}

// IsZero reports whether p is empty or the all-zero address.
func (p Principal) IsZero() bool {
	return p == "" || strings.EqualFold(string(p), zeroAddress)
}

func (p Principal) String() string { return string(p) }

func isPrincipalRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case strings.ContainsRune("._:@+/=-", r):
		return true
	}
	return false
}

func isHexAddress(s string) bool {
	if len(s) != 42 || (s[:2] != "0x" && s[:2] != "0X") {
		return false
	}
	return isHex(s[2:])
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
