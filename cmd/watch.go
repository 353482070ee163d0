package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/skiff/internal/build"
	"github.com/conneroisu/skiff/internal/config"
	skifferrors "github.com/conneroisu/skiff/internal/errors"
	"github.com/conneroisu/skiff/internal/logging"
	"github.com/conneroisu/skiff/internal/metrics"
	"github.com/conneroisu/skiff/internal/progress"
	"github.com/conneroisu/skiff/internal/shutdown"
	"github.com/conneroisu/skiff/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Rebuild whenever a watched file changes",
	Long: `Build once, then watch the configured paths and rebuild after every burst
of changes. Files written by the build itself never trigger a rebuild.

Examples:
  skiff watch                    # Watch the manifest directory
  skiff watch --debounce 500ms   # Wait longer for editors writing in bursts`,
	RunE: runWatch,
}

var watchBindings = map[string]string{
	"debounce": "watch.debounce",
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addBuildFlags(watchCmd)
	watchCmd.Flags().Duration("debounce", 0, "Quiet period after the last change before building")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadBuildConfig(cmd, watchBindings)
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	return watch(cmd.Context(), cfg, logger, newLogReporter(logger), metrics.NopRecorder{})
}

// watch runs the watch loop until interrupted.
func watch(ctx context.Context, cfg *config.Config, logger logging.Logger, reporter watcher.Reporter, rec metrics.Recorder) error {
	fw, err := watcher.NewFileWatcher(watcher.NoEditorTempFilter, watcher.NoGitFilter)
	if err != nil {
		return err
	}
	defer fw.Close()

	for _, path := range cfg.Watch.Paths {
		if err := fw.AddRecursive(path); err != nil {
			return err
		}
		logger.Info(ctx, "Watching", "path", path)
	}

	ignores := &watcher.IgnoreList{}
	b := build.New(cfg,
		build.WithLogger(logger),
		build.WithProgress(progress.NewLoggerSink(logger)),
		build.WithIgnorer(ignores),
		build.WithMetrics(rec),
	)
	coord := watcher.NewCoordinator(b, fw,
		watcher.WithReporter(reporter),
		watcher.WithIgnoreList(ignores),
		watcher.WithIgnored(cfg.Watch.Ignore...),
		watcher.WithDebounce(cfg.Watch.Debounce),
		watcher.WithLogger(logger),
		watcher.WithMetrics(rec),
	)

	sig := shutdown.New()
	stop := shutdown.NotifyOnInterrupt(sig)
	defer stop()

	err = coord.Run(ctx, sig)
	stats := coord.Stats()
	logger.Info(ctx, "Stopped watching", "builds", stats.Builds, "failures", stats.Failures)

	return err
}

// logReporter prints the outcome of each watch cycle.
type logReporter struct {
	logger logging.Logger
	errs   *skifferrors.ErrorHandler
}

func newLogReporter(logger logging.Logger) *logReporter {
	return &logReporter{logger: logger, errs: skifferrors.NewErrorHandler(logger)}
}

func (r *logReporter) BuildComplete(res *build.Result) {
	r.logger.Info(context.Background(), "Published",
		"html", res.HTMLPath,
		"artifacts", len(res.Artifacts),
		"duration", fmt.Sprint(res.Duration.Round(time.Millisecond)))
}

func (r *logReporter) BuildFailed(err error) {
	r.errs.Handle(context.Background(), err)
	r.logger.Info(context.Background(), "Waiting for changes to retry")
}

// reporters fans each outcome out to several reporters.
type reporters []watcher.Reporter

func (rs reporters) BuildComplete(res *build.Result) {
	for _, r := range rs {
		r.BuildComplete(res)
	}
}

func (rs reporters) BuildFailed(err error) {
	for _, r := range rs {
		r.BuildFailed(err)
	}
}
