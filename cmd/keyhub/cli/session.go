package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetdb/keyhub/internal/model"
	"github.com/faucetdb/keyhub/internal/service"
)

// localProvider marks users created from the command line rather than an
// OAuth callback.
const localProvider = "local"

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage sign-in sessions",
	}
	cmd.AddCommand(newSessionIssueCmd())
	return cmd
}

func newSessionIssueCmd() *cobra.Command {
	var (
		email string
		name  string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Create a local user and print a session token for it",
		Long: `Upsert a local user identified by --email and print a session token usable as a
Bearer token against the API. The printed user ID works with 'key --user' and
mcp.user_id.

The token is signed with auth.jwt_secret, so a server only accepts it when it
runs with the same secret. 'serve --dev' without a secret prints its own token
instead.`,
		Example: `  keyhub session issue --email ops@example.com
  curl -H "Authorization: Bearer $TOKEN" localhost:8080/api/v1/keys`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !strings.Contains(email, "@") {
				return fmt.Errorf("invalid email address: %q", email)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is required to sign session tokens")
			}
			if ttl <= 0 {
				ttl = cfg.SessionTTL()
			}
			sessions, err := service.NewSessionService(cfg.Auth.JWTSecret, ttl)
			if err != nil {
				return err
			}

			gen, err := newGenerator(cfg)
			if err != nil {
				return err
			}
			st, err := openStore(cfg, gen, false)
			if err != nil {
				return err
			}
			defer st.Close()

			if name == "" {
				name = email
			}
			u := &model.User{Provider: localProvider, Subject: email, Email: email, Name: name}
			if err := st.UpsertUser(cmd.Context(), u); err != nil {
				return fmt.Errorf("save user: %w", err)
			}
			token, _, err := sessions.IssueFor(u, ttl)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "  User:    %s (%s)\n", u.ID, u.Email)
			fmt.Fprintf(out, "  Expires: %s\n", time.Now().Add(ttl).Format(time.RFC3339))
			fmt.Fprintf(out, "  Token:   %s\n", token)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email of the local user (required)")
	cmd.Flags().StringVar(&name, "name", "", "Display name (default: email)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default: auth.session_ttl)")
	cmd.MarkFlagRequired("email")

	return cmd
}
