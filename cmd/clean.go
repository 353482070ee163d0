package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/conneroisu/skiff/internal/config"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove dist and the staging directories",
	Long: `Remove everything a build writes: dist, the staging directory and the
backup of the previous dist left by an interrupted publish.

Examples:
  skiff clean
  skiff clean --dry-run          # Only print what would be removed`,
	RunE: runClean,
}

var cleanDryRun bool

func init() {
	rootCmd.AddCommand(cleanCmd)
	cleanCmd.Flags().BoolVarP(&cleanDryRun, "dry-run", "n", false, "Print the directories without removing them")
	cleanCmd.Flags().String("dist", "", "Output directory (default dist)")
}

func runClean(cmd *cobra.Command, _ []string) error {
	if err := bindFlags(cmd, map[string]string{"dist": "build.dist"}); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	return clean(cmd.OutOrStdout(), cfg, cleanDryRun)
}

// clean removes the directories a build writes and reports each one found.
func clean(w io.Writer, cfg *config.Config, dryRun bool) error {
	dirs := []string{cfg.Build.Dist, cfg.Build.StagingDir, cfg.Build.Dist + ".prev"}
	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		if dryRun {
			fmt.Fprintf(w, "would remove %s\n", dir)
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}
		fmt.Fprintf(w, "removed %s\n", dir)
	}

	return nil
}
