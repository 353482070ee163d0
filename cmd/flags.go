package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/skiff/internal/config"
	"github.com/conneroisu/skiff/internal/logging"
)

// levelValue is a pflag.Value that rejects unknown log levels at parse time.
type levelValue struct {
	level logging.LogLevel
}

var _ pflag.Value = (*levelValue)(nil)

func (v *levelValue) String() string { return strings.ToLower(v.level.String()) }

func (v *levelValue) Set(s string) error {
	level, err := logging.ParseLevel(s)
	if err != nil {
		return err
	}
	v.level = level

	return nil
}

func (v *levelValue) Type() string { return "level" }

// addBuildFlags adds the flags shared by build, watch and serve.
func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("release", false, "Build in release mode (enables optimization)")
	cmd.Flags().String("dist", "", "Output directory (default dist)")
	cmd.Flags().String("public-url", "", "Base URL published asset references start with")
	cmd.Flags().Bool("no-hash", false, "Do not content-hash output file names")
	cmd.Flags().IntP("jobs", "j", 0, "Maximum concurrent pipelines (0 = unlimited)")
}

var buildBindings = map[string]string{
	"release":    "build.release",
	"dist":       "build.dist",
	"public-url": "build.public_url",
	"jobs":       "build.jobs",
}

// bindFlags binds the command's flags to their configuration keys. Binding
// happens when a command runs because build, watch and serve share keys.
func bindFlags(cmd *cobra.Command, bindings map[string]string) error {
	for name, key := range bindings {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}

	return nil
}

// loadBuildConfig binds the build flags and loads the configuration.
func loadBuildConfig(cmd *cobra.Command, extra map[string]string) (*config.Config, error) {
	if err := bindFlags(cmd, buildBindings); err != nil {
		return nil, err
	}
	if err := bindFlags(cmd, extra); err != nil {
		return nil, err
	}
	if noHash, _ := cmd.Flags().GetBool("no-hash"); noHash {
		viper.Set("build.hash", false)
	}

	return loadConfig()
}
