package cli

import (
	"context"
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/faucetdb/keyhub/internal/config"
)

var (
	cfgFile    string
	appVersion string // set in Execute, reported by serve, mcp and openapi

	// v holds the settings for one command invocation. newRootCmd replaces
	// it so repeated executions in tests start clean.
	v = viper.New()
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.ExecuteContext(context.Background())
}

func newRootCmd(version, commit, date string) *cobra.Command {
	v = viper.New()
	cfgFile, dataDir = "", ""

	cmd := &cobra.Command{
		Use:   "keyhub",
		Short: "Issue and manage API keys",
		Long: `keyhub: create, rename, regenerate, mask and delete API keys for signed-in users.

keyhub serves a JSON API and an HTML dashboard behind Google or GitHub sign-in,
stores keys in SQLite, Postgres, MySQL or SQL Server, and exposes the same
operations on the command line and as MCP tools for AI agents.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./keyhub.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite store (default: ~/.keyhub)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newOpenAPICmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// initConfig loads .env, then the discovered config file and KEYHUB_*
// overrides into v. Flags bound to v win over all of them.
func initConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return config.Prepare(v, config.Discover(cfgFile, resolveDataDir()))
}
