package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/yawon3/pocali-backend/internal/card"
)

var catalogJSON bool

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Print the image catalog",
	Long: `Assemble the catalog from the configured storage backend and print it,
newest unique id first. Files whose names don't parse are left out, as they
are from /api/images.

Examples:
  pocali catalog
  pocali catalog --json > images.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := openCatalog(cfg)
		if err != nil {
			return err
		}
		images, err := cat.Images(cmd.Context())
		if err != nil {
			return fmt.Errorf("list %s: %w", cat.Backend(), err)
		}
		if catalogJSON {
			return writeCatalogJSON(cmd.OutOrStdout(), images)
		}
		return writeCatalogTable(cmd.OutOrStdout(), images)
	},
}

func init() {
	catalogCmd.Flags().BoolVar(&catalogJSON, "json", false, "print the catalog as JSON")
	rootCmd.AddCommand(catalogCmd)
}

func writeCatalogJSON(w io.Writer, images []card.Metadata) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(images)
}

func writeCatalogTable(w io.Writer, images []card.Metadata) error {
	header := color.New(color.Bold)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header.Fprintln(tw, "ID\tGROUP\tMEMBER\tCATEGORY\tTITLE\tVERSION\tFOLDER")
	for _, m := range images {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			m.UniqueID, m.Group, m.Member, m.Category, dash(m.Title), dash(m.Version), dash(m.SourceCategory))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := color.New(color.Faint).Fprintf(w, "%d cards\n", len(images))
	return err
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
