package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/skiff/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved configuration",
	Long: `Display the configuration after loading the config file, applying SKIFF_*
environment overrides and defaults, and resolving every path.

Examples:
  skiff config
  skiff --config site.yml config`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if file := viper.ConfigFileUsed(); file != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", file)
	}

	return writeConfig(cmd.OutOrStdout(), cfg)
}

func writeConfig(w io.Writer, cfg *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}

	return enc.Close()
}
