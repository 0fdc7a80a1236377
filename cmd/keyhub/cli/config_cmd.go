package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/faucetdb/keyhub/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage keyhub configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		path  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default keyhub.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
			}
			if err := config.WriteDefaultConfig(path); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created %s\n", path)
			fmt.Fprintln(out, "Set KEYHUB_AUTH_JWT_SECRET and your OAuth client credentials, then run 'keyhub serve'.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")
	cmd.Flags().StringVar(&path, "path", config.FileName, "Where to write the file")

	return cmd
}

// ---------- config show ----------

const redacted = "********"

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if f := config.Discover(cfgFile, resolveDataDir()); f != "" {
				fmt.Fprintf(out, "# Config file: %s\n", f)
			} else {
				fmt.Fprintln(out, "# Config file: (none found, using defaults)")
			}

			for _, s := range []*string{
				&cfg.Auth.JWTSecret,
				&cfg.Auth.Google.ClientSecret,
				&cfg.Auth.GitHub.ClientSecret,
			} {
				if *s != "" {
					*s = redacted
				}
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = out.Write(data)
			return err
		},
	}
}
