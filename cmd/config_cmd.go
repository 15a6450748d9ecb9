package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/autoprice/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long:  "Prints config.yaml merged with AUTOPRICE_* environment variables and defaults. Secrets are masked.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, err := marshalConfig(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for the engine and the HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		_, err := cmd.OutOrStdout().Write([]byte("config ok\n"))
		return err
	},
}

// marshalConfig renders c as YAML with credentials masked.
func marshalConfig(c *config.Config) ([]byte, error) {
	masked := *c
	masked.Store.DatabaseURL = maskSecret(c.Store.DatabaseURL, c.Store.Driver == "postgres")
	masked.Market.Token = maskSecret(c.Market.Token, true)
	masked.Monitoring.WebhookURL = maskSecret(c.Monitoring.WebhookURL, true)

	out, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, eris.Wrap(err, "config: marshal yaml")
	}
	return out, nil
}

func maskSecret(s string, secret bool) string {
	if !secret || s == "" {
		return s
	}
	return "****"
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
