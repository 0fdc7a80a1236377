package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/faucetdb/keyhub/internal/model"
	"github.com/faucetdb/keyhub/internal/secret"
	"github.com/faucetdb/keyhub/internal/service"
)

// cliSessionID scopes the principal used by key commands. CLI output never
// consults visibility state.
const cliSessionID = "cli"

// userID holds the --user persistent flag of the key command.
var userID string

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long: `Create, list, rename, regenerate and delete the API keys of one user.

Key commands act as the user given by --user (or mcp.user_id). Create a user
and a session token with 'keyhub session issue'.`,
	}

	cmd.PersistentFlags().StringVar(&userID, "user", "", "ID of the user whose keys to manage (default: mcp.user_id)")

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyShowCmd())
	cmd.AddCommand(newKeyRenameCmd())
	cmd.AddCommand(newKeyLimitCmd())
	cmd.AddCommand(newKeyRegenerateCmd())
	cmd.AddCommand(newKeyDeleteCmd())
	cmd.AddCommand(newKeyMaskCmd())

	return cmd
}

// keyRun opens the store, resolves the acting user and calls fn.
func keyRun(cmd *cobra.Command, fn func(ctx context.Context, keys *service.KeyService, p *model.Principal) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, logCloser := newLogger(cfg.Logging, false)
	defer logCloser.Close()

	gen, err := newGenerator(cfg)
	if err != nil {
		return err
	}
	st, err := openStore(cfg, gen, false)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	uid := userID
	if uid == "" {
		uid = cfg.MCP.UserID
	}
	p, err := principalFor(ctx, st, uid, cliSessionID)
	if err != nil {
		return err
	}
	return fn(ctx, keyServiceFor(cfg, st, logger), p)
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new API key",
		Long:  "Generate a new API key. The raw secret is printed once; use 'key show --reveal' to see it again.",
		Example: `  keyhub key create development --user 0190f1a4-...
  keyhub key create "CI pipeline" --limit 5000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in service.CreateKeyInput
			in.Name = args[0]
			if cmd.Flags().Changed("limit") {
				in.RequestLimit = &limit
			}
			return keyRun(cmd, func(ctx context.Context, keys *service.KeyService, p *model.Principal) error {
				k, err := keys.CreateKey(ctx, p, in)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "API key created:")
				fmt.Fprintln(out)
				printKey(out, k, k.Secret)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Request limit (default: keys.default_limit)")

	return cmd
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return keyRun(cmd, func(ctx context.Context, keys *service.KeyService, p *model.Principal) error {
				list, err := keys.ListKeys(ctx, p)
				if err != nil {
					return err
				}
				return printKeyList(cmd.OutOrStdout(), list, keys, jsonOutput)
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

type keyRow struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Key          string `json:"key"`
	Usage        int64  `json:"usage"`
	RequestLimit int    `json:"request_limit"`
	CreatedAt    string `json:"created_at"`
}

func printKeyList(out io.Writer, list []model.APIKey, keys *service.KeyService, jsonOutput bool) error {
	rows := make([]keyRow, len(list))
	for i, k := range list {
		rows[i] = keyRow{
			ID:           k.ID,
			Name:         k.Name,
			Key:          keys.MaskKey(k.Secret),
			Usage:        k.Usage,
			RequestLimit: k.RequestLimit,
			CreatedAt:    k.CreatedAt.Format("2006-01-02 15:04"),
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(out, "No API keys yet. Use 'keyhub key create <name>' to create one.")
		return nil
	}

	fmt.Fprintf(out, "%-36s  %-24s  %-12s  %-16s  %s\n", "ID", "NAME", "USAGE", "CREATED", "KEY")
	for _, r := range rows {
		usage := fmt.Sprintf("%d/%d", r.Usage, r.RequestLimit)
		fmt.Fprintf(out, "%-36s  %-24s  %-12s  %-16s  %s\n", r.ID, r.Name, usage, r.CreatedAt, r.Key)
	}
	return nil
}

// ---------- key show ----------

func newKeyShowCmd() *cobra.Command {
	var reveal, copyKey bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one API key",
		Long:  "Show a key with its secret masked. --reveal prints the raw secret; --copy puts it on the clipboard without printing it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return keyRun(cmd, func(ctx context.Context, keys *service.KeyService, p *model.Principal) error {
				k, err := keys.GetKey(ctx, p, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				display := keys.MaskKey(k.Secret)
				if reveal {
					display = k.Secret
				}
				printKey(out, k, display)
				if copyKey {
					if err := clipboard.WriteAll(k.Secret); err != nil {
						return fmt.Errorf("copy to clipboard: %w", err)
					}
					fmt.Fprintln(out)
					fmt.Fprintln(out, "  Secret copied to clipboard.")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print the raw secret")
	cmd.Flags().BoolVar(&copyKey, "copy", false, "Copy the raw secret to the clipboard")

	return cmd
}

// ---------- key rename ----------

func newKeyRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename an API key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return keyRun(cmd, func(ctx context.Context, keys *service.KeyService, p *model.Principal) error {
				k, err := keys.RenameKey(ctx, p, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", k.ID, k.Name)
				return nil
			})
		},
	}
}

// ---------- key limit ----------

func newKeyLimitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "limit <id> <requests>",
		Short: "Set the request limit of an API key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("request limit must be a whole number, got %q", args[1])
			}
			return keyRun(cmd, func(ctx context.Context, keys *service.KeyService, p *model.Principal) error {
				k, err := keys.SetLimit(ctx, p, args[0], limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Request limit of %s set to %d\n", k.ID, k.RequestLimit)
				return nil
			})
		},
	}
}

// ---------- key regenerate ----------

func newKeyRegenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <id>",
		Short: "Replace the secret of an API key",
		Long:  "Generate a new secret for a key. The old secret stops matching immediately; the new one is printed once.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return keyRun(cmd, func(ctx context.Context, keys *service.KeyService, p *model.Principal) error {
				k, err := keys.RegenerateKey(ctx, p, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "API key regenerated:")
				fmt.Fprintln(out)
				printKey(out, k, k.Secret)
				return nil
			})
		},
	}
}

// ---------- key delete ----------

func newKeyDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Permanently delete an API key",
		Long:    "Delete a key. This cannot be undone. Asks for confirmation on a terminal; pass --yes otherwise.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return keyRun(cmd, func(ctx context.Context, keys *service.KeyService, p *model.Principal) error {
				k, err := keys.GetKey(ctx, p, args[0])
				if err != nil {
					return err
				}
				if !yes {
					ok, err := confirm(cmd, fmt.Sprintf("Delete API key %q (%s)? This cannot be undone.", k.Name, k.ID))
					if err != nil {
						return err
					}
					if !ok {
						fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
						return nil
					}
				}
				if err := keys.DeleteKey(ctx, p, k.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted API key %q\n", k.Name)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Delete without asking")

	return cmd
}

// isTerminal reports whether stdin is interactive. Replaced in tests.
var isTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }

// confirm asks a yes/no question on an interactive terminal. Without a
// terminal it refuses, so scripts must pass --yes.
func confirm(cmd *cobra.Command, question string) (bool, error) {
	if !isTerminal() {
		return false, fmt.Errorf("refusing to delete without confirmation: pass --yes when not running in a terminal")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", question)
	answer, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// ---------- key mask ----------

func newKeyMaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mask <secret>",
		Short: "Print the masked form of a secret",
		Args:  cobra.ExactArgs(1),
		// Masking needs neither a store nor a user.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), secret.Mask(args[0]))
			return nil
		},
	}
}

func printKey(out io.Writer, k *model.APIKey, display string) {
	fmt.Fprintf(out, "  ID:      %s\n", k.ID)
	fmt.Fprintf(out, "  Name:    %s\n", k.Name)
	fmt.Fprintf(out, "  Key:     %s\n", display)
	fmt.Fprintf(out, "  Usage:   %d/%d\n", k.Usage, k.RequestLimit)
	fmt.Fprintf(out, "  Created: %s\n", k.CreatedAt.Format("2006-01-02 15:04:05 MST"))
}
