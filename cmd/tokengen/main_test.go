package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "idledger/internal/jwt_token"
	id "idledger/pkg/domain"
)

func TestRootCmdMintsValidToken(t *testing.T) {
	t.Setenv("IDLEDGER_JWT_SIGNING_KEY", "test-key")
	t.Setenv("IDLEDGER_ENV", "")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"0x00000000000000000000000000000000000000A1", "--ttl", "5m"})
	require.NoError(t, cmd.Execute())

	principal, err := jwttoken.NewJWTService("test-key", "idledger", "idledger-api").
		PrincipalFromToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, id.Principal("0x00000000000000000000000000000000000000a1"), principal)
}

func TestRootCmdRejectsBadPrincipal(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"not a principal"})
	assert.Error(t, cmd.Execute())
}
