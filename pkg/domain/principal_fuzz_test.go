package domain

import (
	"testing"
)

// FuzzParsePrincipal checks parsing never panics and accepted principals are
// stable under a second parse.
func FuzzParsePrincipal(f *testing.F) {
	f.Add("")
	f.Add("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1")
	f.Add("0x0000000000000000000000000000000000000000")
	f.Add("'; DROP TABLE subjects;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		p, err := ParsePrincipal(input)
		if err != nil {
			return
		}
		if p.IsZero() {
			t.Fatalf("zero principal accepted for %q", input)
		}
		again, err := ParsePrincipal(string(p))
		if err != nil {
			t.Fatalf("canonical principal %q failed to re-parse: %v", p, err)
		}
		if again != p {
			t.Fatalf("canonicalisation not idempotent: %q -> %q", p, again)
		}
	})
}

func FuzzParseFingerprint(f *testing.F) {
	f.Add(sampleHex)
	f.Add("0x" + sampleHex)
	f.Add("not-a-fingerprint")

	f.Fuzz(func(t *testing.T, input string) {
		fp, err := ParseFingerprint(input)
		if err != nil {
			return
		}
		again, err := ParseFingerprint(fp.Hex())
		if err != nil || again != fp {
			t.Fatalf("fingerprint %s did not round-trip", fp.Hex())
		}
	})
}
