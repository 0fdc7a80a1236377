package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	kmcp "github.com/faucetdb/keyhub/internal/mcp"
)

// mcpSessionID scopes the principal MCP tools act as.
const mcpSessionID = "mcp"

func newMCPCmd() *cobra.Command {
	var (
		transport string
		addr      string
		user      string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes one user's API keys
as tools for AI agents. Supports stdio (default) and streamable HTTP transports.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for direct integration with desktop MCP clients. Logs go to stderr.`,
		Example: `  keyhub mcp --user 0190f1a4-...                    # stdio mode
  keyhub mcp --transport http --addr :3001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if transport == "" {
				transport = cfg.MCP.Transport
			}
			if user == "" {
				user = cfg.MCP.UserID
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

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			p, err := principalFor(ctx, st, user, mcpSessionID)
			if err != nil {
				return err
			}
			mcpSrv := kmcp.NewMCPServer(keyServiceFor(cfg, st, logger), p, versionString(), logger)

			switch transport {
			case "stdio":
				return mcpSrv.ServeStdio()
			case "http":
				return mcpSrv.ServeHTTP(ctx, addr)
			default:
				return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
			}
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "", "Transport mode: stdio or http (default: mcp.transport)")
	cmd.Flags().StringVar(&addr, "addr", ":3001", "HTTP listen address (only used with --transport http)")
	cmd.Flags().StringVar(&user, "user", "", "ID of the user the tools act as (default: mcp.user_id)")

	return cmd
}
