package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/keygate/keygate/internal/service"
)

func newTokenCmd() *cobra.Command {
	var (
		subject string
		email   string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator token for the management API",
		Long: `Sign an HS256 bearer token with auth.jwt_secret for calling the key
management endpoints. When no secret is configured and stdin is a terminal,
the secret is read without echo.`,
		Example: `  keygate token --subject ops
  curl -H "Authorization: Bearer $(keygate token --subject ops)" localhost:8080/api/v1/keys`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if ttl <= 0 {
				d, err := cfg.JWTExpiry()
				if err != nil {
					return err
				}
				ttl = d
			}

			secret := cfg.Auth.JWTSecret
			if secret == "" {
				s, err := readSecret()
				if err != nil {
					return err
				}
				secret = s
			}

			token, err := service.NewAuthService(secret, cfg.Auth.Issuer).
				IssueJWT(cmd.Context(), subject, email, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Operator identity to embed in the token (required)")
	cmd.Flags().StringVar(&email, "email", "", "Operator email")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default auth.jwt_expiry)")
	cmd.MarkFlagRequired("subject")

	return cmd
}

// readSecret prompts for the signing secret on an interactive terminal.
func readSecret() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("auth.jwt_secret is not configured (set KEYGATE_AUTH_JWT_SECRET)")
	}
	fmt.Fprint(os.Stderr, "JWT secret: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	secret := strings.TrimSpace(string(b))
	if secret == "" {
		return "", errors.New("empty secret")
	}
	return secret, nil
}
