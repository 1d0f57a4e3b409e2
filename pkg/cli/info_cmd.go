package cli

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"cmipcat/internal/api"
	"cmipcat/internal/store"
)

func newInfoCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show metadata of the persisted catalog build",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			info, err := a.Info(cmd.Context())
			if err != nil {
				return err
			}
			if g.output == "json" {
				return printJSON(g.stdout, api.Info{
					BuildID:      info.BuildID,
					BuiltAt:      info.BuiltAt,
					ArchiveRoot:  info.ArchiveRoot,
					VersionOrder: string(info.VersionOrder),
					EntryCount:   info.EntryCount,
				})
			}
			return printDetail(g.stdout, [][2]string{
				{"Catalog", g.cfg.CatalogPath},
				{"Build ID", info.BuildID},
				{"Built at", info.BuiltAt.Format(time.RFC3339)},
				{"Archive root", info.ArchiveRoot},
				{"Version order", string(info.VersionOrder)},
				{"Entries", strconv.Itoa(info.EntryCount)},
			})
		},
	}
}

func newExportCmd(g *globals) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Write the persisted catalog to a Parquet or CSV file",
		Long: `Export every catalog entry in catalog order. The format follows --format, or
the file extension when --format is omitted (.csv for CSV, Parquet otherwise).`,
		Example: `  cmipcat export catalog.parquet
  cmipcat export entries.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dst := args[0]
			f, err := store.ParseExportFormat(format, dst)
			if err != nil {
				return err
			}
			a, err := g.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			if err := a.Export(cmd.Context(), dst, f); err != nil {
				return err
			}
			if g.output == "json" {
				return printJSON(g.stdout, map[string]string{"status": "ok", "path": dst, "format": string(f)})
			}
			return printDetail(g.stdout, [][2]string{{"Exported", dst}, {"Format", string(f)}})
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Export format (parquet, csv)")
	return cmd
}
