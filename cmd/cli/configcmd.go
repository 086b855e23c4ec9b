package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anstrom/ipprism/internal/config"
)

var configForce bool

// configCmd groups configuration helpers.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and create configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init [PATH]",
	Short: "Write a configuration file with default values",
	Long: `Write the default configuration to PATH (default ./config.yaml). API keys
are better kept in the environment or a .env file than in this file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "config.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the active configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		source := getConfigFilePath()
		if source == "" {
			source = "defaults and environment"
		}
		_, _ = fmt.Fprintf(out, "Configuration OK (%s)\n", source)
		_, _ = fmt.Fprintf(out, "  Database:       %s@%s:%d/%s\n",
			cfg.Database.Username, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
		_, _ = fmt.Fprintf(out, "  Primary key:    %t\n", cfg.Reputation.Primary.APIKey != "")
		_, _ = fmt.Fprintf(out, "  Secondary key:  %t\n", cfg.Reputation.Secondary.APIKey != "")
		_, _ = fmt.Fprintf(out, "  Cache TTL:      %s\n", cfg.CacheTTL())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
}
