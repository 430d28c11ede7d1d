package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	base := New(CodeNotFound, "subject not found")
	wrapped := fmt.Errorf("lookup: %w", base)

	assert.True(t, HasCode(base, CodeNotFound))
	assert.True(t, HasCode(wrapped, CodeNotFound))
	assert.False(t, HasCode(wrapped, CodeAlreadyIssued))
	assert.False(t, HasCode(errors.New("plain"), CodeNotFound))
}

func TestIsMatchesByCode(t *testing.T) {
	err := Wrap(errors.New("dial tcp: refused"), CodeGatewayUnavailable, "ledger unavailable")

	assert.ErrorIs(t, err, New(CodeGatewayUnavailable, ""))
	assert.NotErrorIs(t, err, New(CodeInternal, ""))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("serialization failure")
	err := Wrap(cause, CodeGatewayUnavailable, "ledger unavailable")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "ledger unavailable", MessageOf(err))
	assert.Contains(t, err.Error(), "serialization failure")
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeDuplicateIdentity, CodeOf(New(CodeDuplicateIdentity, "dup")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, "internal error", MessageOf(errors.New("boom")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(CodeGatewayUnavailable, "ledger unavailable")))
	assert.False(t, IsRetryable(New(CodeAlreadyIssued, "already issued")))
	assert.False(t, IsRetryable(New(CodeUnauthorized, "unauthorized")))
}
