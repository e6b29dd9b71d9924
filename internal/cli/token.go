package cli

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"crmsync/internal/auth"
)

func newTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		secret  string
		issuer  string
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a control-surface bearer token from the shared secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(secret) == "" {
				return errors.New("--secret or CRMSYNC_AUTH_JWT_SECRET is required")
			}
			if role != auth.RoleOperator && role != auth.RoleViewer {
				return errors.New("role must be operator or viewer")
			}
			j := auth.JWT{Secret: []byte(secret), Issuer: issuer, TokenTTL: ttl}
			tok, exp, err := j.Sign(auth.Claims{
				Role:             role,
				RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
			})
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), map[string]any{"token": tok, "expires_at": exp})
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("CRMSYNC_AUTH_JWT_SECRET"), "HS256 secret shared with the service")
	cmd.Flags().StringVar(&issuer, "issuer", "crmsync", "token issuer")
	cmd.Flags().StringVar(&subject, "subject", envOr("USER", "operator"), "token subject")
	cmd.Flags().StringVar(&role, "role", auth.RoleOperator, "operator|viewer")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
