// Command tokengen mints a bearer token for a principal, signed with the
// server's IDLEDGER_JWT_* settings.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	jwttoken "idledger/internal/jwt_token"
	"idledger/internal/platform/config"
	id "idledger/pkg/domain"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:          "tokengen <principal>",
		Short:        "Mint an idledger bearer token",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			principal, err := id.ParsePrincipal(args[0])
			if err != nil {
				return err
			}
			auth, err := config.AuthFromEnv()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = auth.TokenTTL
			}
			token, err := jwttoken.NewJWTService(auth.JWTSigningKey, auth.JWTIssuer, auth.JWTAudience).
				GenerateAccessToken(principal, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default IDLEDGER_TOKEN_TTL)")
	return cmd
}
