package domain

import (
	"encoding/hex"
	"strings"

	dErrors "idledger/pkg/domain-errors"
)

// FingerprintSize is the digest length in bytes (256 bits).
const FingerprintSize = 32

// Fingerprint is a fixed-length content digest used as a lookup key in place
// of raw personal data.
type Fingerprint [FingerprintSize]byte

// ParseFingerprint accepts 64 hex digits with or without a "0x" prefix.
func ParseFingerprint(s string) (Fingerprint, error) {
	var fp Fingerprint
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != hex.EncodedLen(FingerprintSize) || !isHex(s) {
		return fp, dErrors.New(dErrors.CodeInvalidInput, "malformed fingerprint")
	}
	if _, err := hex.Decode(fp[:], []byte(s)); err != nil {
		return fp, dErrors.New(dErrors.CodeInvalidInput, "malformed fingerprint")
	}
	return fp, nil
}

// Hex returns the "0x"-prefixed lower-case encoding.
func (f Fingerprint) Hex() string {
	return "0x" + hex.EncodeToString(f[:])
}

func (f Fingerprint) String() string { return f.Hex() }

func (f Fingerprint) IsZero() bool { return f == Fingerprint{} }

func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.Hex()), nil
}

func (f *Fingerprint) UnmarshalText(b []byte) error {
	parsed, err := ParseFingerprint(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
