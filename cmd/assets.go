package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/skiff/internal/config"
	"github.com/conneroisu/skiff/internal/dom"
	"github.com/conneroisu/skiff/internal/pipelines"
)

var assetsCmd = &cobra.Command{
	Use:     "assets",
	Aliases: []string{"ls"},
	Short:   "List the assets declared in the HTML manifest",
	Long: `Scan the HTML manifest and list every data-skiff tag a pipeline will
process, in document order, with the ID it is assigned during a build.

Examples:
  skiff assets
  skiff assets --format json`,
	RunE: runAssets,
}

var assetsFormat string

func init() {
	rootCmd.AddCommand(assetsCmd)
	assetsCmd.Flags().StringVarP(&assetsFormat, "format", "f", "table", "Output format (table, json)")
}

type assetRow struct {
	ID      int    `json:"id"`
	Kind    string `json:"kind"`
	Role    string `json:"role"`
	Element string `json:"element"`
	Href    string `json:"href,omitempty"`
}

func runAssets(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	return listAssets(cmd.OutOrStdout(), cfg, pipelines.DefaultRegistry(), assetsFormat)
}

func listAssets(w io.Writer, cfg *config.Config, reg *pipelines.Registry, format string) error {
	doc, err := dom.ParseFile(cfg.Build.Target)
	if err != nil {
		return err
	}

	var rows []assetRow
	for _, tag := range doc.Assets(reg.Has) {
		href := tag.Attrs["href"]
		if tag.Element == "script" {
			href = tag.Attrs["src"]
		}
		rows = append(rows, assetRow{
			ID:      tag.ID,
			Kind:    kindName(tag.Role),
			Role:    tag.Role,
			Element: tag.Element,
			Href:    href,
		})
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "table":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tELEMENT\tHREF")
		for _, r := range rows {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.ID, r.Kind, r.Element, r.Href)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported format: %s (supported: table, json)", format)
	}
}

var acronyms = map[string]string{"css": "CSS", "js": "JS", "scss": "SCSS"}

// kindName turns a role such as "tailwind-css" into "Tailwind CSS".
func kindName(role string) string {
	title := cases.Title(language.English)
	words := strings.Split(role, "-")
	for i, word := range words {
		if a, ok := acronyms[word]; ok {
			words[i] = a
			continue
		}
		words[i] = title.String(word)
	}

	return strings.Join(words, " ")
}
