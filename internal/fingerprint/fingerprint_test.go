package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "idledger/pkg/domain"
	dErrors "idledger/pkg/domain-errors"
)

func TestOf_KnownVectors(t *testing.T) {
	fp, err := New(SHA256).Of([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "0xba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", fp.Hex())

	fp, err = New(Keccak256).Of([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "0x4e03657aea45a94fc7d47ba826c8d667c0d1e6e33a64a036ec44f58fa12d6c45", fp.Hex())
}

func TestOf_RejectsEmptyPayload(t *testing.T) {
	_, err := Hasher{}.Of(nil)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestZeroHasherDefaultsToSHA256(t *testing.T) {
	var h Hasher
	assert.Equal(t, SHA256, h.Algorithm())

	a, err := h.Of([]byte("payload"))
	require.NoError(t, err)
	b, err := New(SHA256).Of([]byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBind_PartBoundariesMatter(t *testing.T) {
	h := New(SHA256)

	a, err := h.Bind([]byte("ab"), []byte("c"))
	require.NoError(t, err)
	b, err := h.Bind([]byte("a"), []byte("bc"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	again, err := h.Bind([]byte("ab"), []byte("c"))
	require.NoError(t, err)
	assert.Equal(t, a, again)
}

func TestCredential_BindsSubjectAndIssuer(t *testing.T) {
	h := New(SHA256)
	claim := []byte(`{"degree":"BSc"}`)

	base, err := h.Credential("subject-1", claim, "issuer-1")
	require.NoError(t, err)

	otherSubject, err := h.Credential("subject-2", claim, "issuer-1")
	require.NoError(t, err)
	otherIssuer, err := h.Credential("subject-1", claim, "issuer-2")
	require.NoError(t, err)

	assert.NotEqual(t, base, otherSubject, "fingerprint must not replay across subjects")
	assert.NotEqual(t, base, otherIssuer, "fingerprint must bind the issuer")

	_, err = h.Credential("subject-1", nil, "issuer-1")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestEmail_NormalisesBeforeHashing(t *testing.T) {
	h := New(SHA256)

	a, err := h.Email("Alice@Example.com ")
	require.NoError(t, err)
	b, err := h.Email("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = h.Email("   ")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestExternalID(t *testing.T) {
	h := New(SHA256)

	fp, err := h.ExternalID(" 900101-5555 ")
	require.NoError(t, err)
	want, err := h.Of([]byte("900101-5555"))
	require.NoError(t, err)
	assert.Equal(t, want, fp)

	_, err = h.ExternalID("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestParseAlgorithm(t *testing.T) {
	alg, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, SHA256, alg)

	alg, err = ParseAlgorithm("KECCAK256")
	require.NoError(t, err)
	assert.Equal(t, Keccak256, alg)

	_, err = ParseAlgorithm("md5")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestDistinctPayloadsDoNotCollide(t *testing.T) {
	h := New(SHA256)
	seen := map[id.Fingerprint]string{}
	for _, p := range []string{"a", "b", "alice@example.com", "bob@example.com", "900101-5555", "900101-5556"} {
		fp, err := h.Of([]byte(p))
		require.NoError(t, err)
		prev, dup := seen[fp]
		require.False(t, dup, "%q collides with %q", p, prev)
		seen[fp] = p
	}
}
