// Package fingerprint derives the fixed-length digests the registry stores in
// place of personal data and uses as credential keys.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"
	"strings"

	"golang.org/x/crypto/sha3"

	id "idledger/pkg/domain"
	dErrors "idledger/pkg/domain-errors"
)

// Algorithm names a supported 256-bit digest.
type Algorithm string

const (
	SHA256    Algorithm = "sha256"
	Keccak256 Algorithm = "keccak256"
)

// ParseAlgorithm resolves a configured algorithm name. Empty means SHA256.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", SHA256:
		return SHA256, nil
	case Keccak256:
		return Keccak256, nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "unsupported fingerprint algorithm: "+s)
}

// Hasher computes fingerprints with one algorithm. The zero value uses SHA256.
type Hasher struct {
	alg Algorithm
}

func New(alg Algorithm) Hasher {
	return Hasher{alg: alg}
}

func (h Hasher) Algorithm() Algorithm {
	if h.alg == "" {
		return SHA256
	}
	return h.alg
}

func (h Hasher) newHash() hash.Hash {
	if h.alg == Keccak256 {
		return sha3.NewLegacyKeccak256()
	}
	return sha256.New()
}

// Of digests a single non-empty payload.
func (h Hasher) Of(payload []byte) (id.Fingerprint, error) {
	var fp id.Fingerprint
	if len(payload) == 0 {
		return fp, dErrors.New(dErrors.CodeInvalidInput, "payload is required")
	}
	d := h.newHash()
	d.Write(payload)
	copy(fp[:], d.Sum(nil))
	return fp, nil
}

// Bind digests the concatenation of parts. Each part is prefixed with its
// 8-byte big-endian length so bytes cannot move across part boundaries.
// Every part must be non-empty.
func (h Hasher) Bind(parts ...[]byte) (id.Fingerprint, error) {
	var fp id.Fingerprint
	if len(parts) == 0 {
		return fp, dErrors.New(dErrors.CodeInvalidInput, "payload is required")
	}
	d := h.newHash()
	var prefix [8]byte
	for _, p := range parts {
		if len(p) == 0 {
			return fp, dErrors.New(dErrors.CodeInvalidInput, "payload part is required")
		}
		binary.BigEndian.PutUint64(prefix[:], uint64(len(p)))
		d.Write(prefix[:])
		d.Write(p)
	}
	copy(fp[:], d.Sum(nil))
	return fp, nil
}

// Email fingerprints an address after trimming and lower-casing it, so the
// duplicate-identity check is not defeated by casing.
func (h Hasher) Email(email string) (id.Fingerprint, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return id.Fingerprint{}, dErrors.New(dErrors.CodeInvalidInput, "email is required")
	}
	return h.Of([]byte(normalized))
}

// ExternalID fingerprints a government or external identifier.
func (h Hasher) ExternalID(externalID string) (id.Fingerprint, error) {
	trimmed := strings.TrimSpace(externalID)
	if trimmed == "" {
		return id.Fingerprint{}, dErrors.New(dErrors.CodeInvalidInput, "external id is required")
	}
	return h.Of([]byte(trimmed))
}

// Credential binds a claim to its subject and issuer.
func (h Hasher) Credential(subject id.Principal, claim []byte, issuer id.Principal) (id.Fingerprint, error) {
	if len(claim) == 0 {
		return id.Fingerprint{}, dErrors.New(dErrors.CodeInvalidInput, "claim payload is required")
	}
	return h.Bind([]byte(subject), claim, []byte(issuer))
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
