package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/conneroisu/skiff/internal/metrics"
	"github.com/conneroisu/skiff/internal/server"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Rebuild on change and serve dist with live reload",
	Long: `Run the watch loop and serve dist on a local development server. Browsers
reload after every successful build and show the error after a failed one.
Unknown paths fall back to the HTML document for client-side routing.

Examples:
  skiff serve                       # http://127.0.0.1:8080
  skiff serve --port 3000 --open
  skiff serve --address 0.0.0.0     # Reachable from other devices`,
	RunE: runServe,
}

var serveBindings = map[string]string{
	"debounce": "watch.debounce",
	"address":  "serve.address",
	"port":     "serve.port",
	"open":     "serve.open",
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addBuildFlags(serveCmd)

	serveCmd.Flags().Duration("debounce", 0, "Quiet period after the last change before building")
	serveCmd.Flags().String("address", "", "Address to bind to (default 127.0.0.1)")
	serveCmd.Flags().IntP("port", "p", 0, "Port to serve on (default 8080)")
	serveCmd.Flags().Bool("open", false, "Open the browser once the server is up")
	serveCmd.Flags().Bool("no-reload", false, "Do not inject the live reload script")
	serveCmd.Flags().Bool("no-spa", false, "Return 404 instead of the HTML document for unknown paths")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadBuildConfig(cmd, serveBindings)
	if err != nil {
		return err
	}
	if off, _ := cmd.Flags().GetBool("no-reload"); off {
		cfg.Serve.AutoReload = false
	}
	if off, _ := cmd.Flags().GetBool("no-spa"); off {
		cfg.Serve.SPA = false
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewPrometheusRecorder(reg)

	srv := server.New(cfg, server.WithLogger(logger), server.WithGatherer(reg))
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go func() {
		// a listen failure ends the watch loop too
		if err := <-serveErr; err != nil {
			serveErr <- err
			cancel()
		}
	}()

	watchErr := watch(ctx, cfg, logger, reporters{newLogReporter(logger), srv}, rec)

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, err, "Server shutdown incomplete")
	}

	select {
	case err := <-serveErr:
		return err
	default:
	}
	if errors.Is(watchErr, context.Canceled) {
		return nil
	}

	return watchErr
}
