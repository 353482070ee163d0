// Package cmd provides the command-line interface for skiff.
//
// Configuration System:
//
//	Configuration is read from several sources with clear precedence:
//	1. Command-line flags (--config, --dist, --port, etc.) - highest priority
//	2. Individual environment variables (SKIFF_BUILD_DIST, SKIFF_SERVE_PORT, etc.)
//	3. The configuration file (.skiff.yml, --config or SKIFF_CONFIG_FILE)
//	4. Built-in defaults - lowest priority
//
//	A .env file in the working directory (or --env-file) is loaded into the
//	process environment first, so it can carry SKIFF_* overrides.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/skiff/internal/config"
	"github.com/conneroisu/skiff/internal/logging"
)

var (
	cfgFile  string
	envFile  string
	logLevel = levelValue{level: logging.LevelInfo}
	logDir   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "skiff",
	Short: "Build and serve web applications from an HTML manifest",
	Long: `skiff builds a web application from a single HTML file. Tags marked with
data-skiff declare assets (stylesheets, scripts, files, Rust crates) that are
processed by pipelines and published into dist together with the rewritten HTML.

Quick Start:
  skiff build                     Build once into dist
  skiff watch                     Rebuild on every change
  skiff serve                     Rebuild and serve with live reload
  skiff assets                    List the assets declared in the manifest`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .skiff.yml, can also use SKIFF_CONFIG_FILE env var)")
	flags.StringVar(&envFile, "env-file", "", "dotenv file loaded before configuration (default is .env if present)")
	flags.VarP(&logLevel, "log-level", "l", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.StringVar(&logDir, "log-dir", "", "also write logs to a dated file in this directory")

	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", flags.Lookup("log-format"))
}

// initConfig loads the dotenv file and points viper at the configuration
// file. A missing default config file is not an error.
func initConfig() {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to load %s: %v\n", envFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("SKIFF_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".skiff")
	}

	config.SetDefaults(viper.GetViper())
	viper.SetEnvPrefix("SKIFF")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// loadConfig reads the config file, if any, and resolves the configuration.
func loadConfig() (*config.Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return config.Load()
}

// newLogger builds the process logger from the resolved configuration. The
// returned function closes the log file, if one was opened.
func newLogger(cfg *config.Config) (logging.Logger, func(), error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	lc := &logging.LoggerConfig{Level: level, Format: cfg.Log.Format, Output: os.Stderr}
	stderr := logging.NewLogger(lc)
	if logDir == "" {
		return stderr, func() {}, nil
	}

	file, err := logging.NewFileLogger(lc, logDir)
	if err != nil {
		return nil, nil, err
	}

	return logging.NewMultiLogger(stderr, file), func() { _ = file.Close() }, nil
}
