package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/skiff/internal/build"
	"github.com/conneroisu/skiff/internal/progress"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Build the application once into dist",
	Long: `Run one build cycle: every asset declared in the HTML manifest is processed,
hooks run, and the result is published into dist in a single step. A failed
build leaves the previous dist untouched.

Examples:
  skiff build                       # Debug build into dist
  skiff build --release             # Optimized build
  skiff build --dist public --no-hash
  skiff build --public-url /app/    # Serve from a sub path`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	addBuildFlags(buildCmd)
}

func runBuild(cmd *cobra.Command, _ []string) error {
	cfg, err := loadBuildConfig(cmd, nil)
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	b := build.New(cfg,
		build.WithLogger(logger),
		build.WithProgress(progress.NewLoggerSink(logger)),
	)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := b.Build(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Built %d artifacts into %s in %s\n", len(res.Artifacts), cfg.Build.Dist, res.Duration.Round(time.Millisecond))
	for _, a := range res.Artifacts {
		fmt.Fprintf(out, "  %s\n", a)
	}

	return nil
}
