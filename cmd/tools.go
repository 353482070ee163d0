package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/skiff/internal/tools"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Show the external tools pipelines run",
	Long: `Resolve every external tool (sass, tailwindcss, cargo, wasm-bindgen,
wasm-opt) the way a build would and print its path and version. Tools only
needed by asset kinds you do not use may be missing.`,
	RunE: runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	return listTools(ctx, cmd.OutOrStdout(), tools.NewCache(cfg.Tools))
}

func listTools(ctx context.Context, w io.Writer, cache *tools.Cache) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tVERSION\tPATH")
	for _, name := range cache.Names() {
		tool, err := cache.Resolve(name)
		if err != nil {
			fmt.Fprintf(tw, "%s\t-\tnot found\n", name)
			continue
		}
		v, err := tool.Version(ctx)
		if err != nil {
			v = "unknown"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, v, tool.Path)
	}

	return tw.Flush()
}
