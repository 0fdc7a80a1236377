package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/faucetdb/keyhub/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		baseURL    string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI document for the key API",
		Long:  `Generate the OpenAPI 3.1 document served at /openapi.json, without starting a server.`,
		Example: `  keyhub openapi
  keyhub openapi --base-url https://keys.example.com -o openapi.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if baseURL == "" {
				baseURL = cfg.Auth.BaseURL
			}
			doc := openapi.Generate(openapi.Options{
				BaseURL:    baseURL,
				Version:    versionString(),
				CookieName: cfg.Auth.CookieName,
			})
			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("encode openapi document: %w", err)
			}
			data = append(data, '\n')

			if outputFile == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(outputFile, data, 0644); err != nil {
				return fmt.Errorf("write %s: %w", outputFile, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", outputFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "Server URL in the document (default: auth.base_url)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the document to a file instead of stdout")

	return cmd
}
