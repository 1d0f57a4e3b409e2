package cli

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cmipcat/internal/builder"
	"cmipcat/internal/domain"
)

func newBuildCmd(g *globals) *cobra.Command {
	var groups []string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Scan the archive and replace the persisted catalog",
		Long: `Walk every configured modeling group below each organization directory of
the archive root, record each data file with the metadata encoded in its
directory and file name, keep the newest version of every file, and replace
the persisted catalog with the result.`,
		Example: `  cmipcat build --archive-root /data/cmip5 --catalog cmip5.sqlite
  cmipcat build --groups NOAA-GFDL,NCAR --version-order natural
  cmipcat build --groups '*'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("groups") {
				g.cfg.ModelingGroups = groups
				if len(groups) == 1 && strings.TrimSpace(groups[0]) == "*" {
					g.cfg.ModelingGroups = nil
				}
			}

			a, err := g.openAppForBuild(cmd)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			table, stats, err := a.Build(cmd.Context())
			if err != nil {
				return err
			}
			return printBuildSummary(g, table.Info, stats)
		},
	}
	cmd.Flags().StringSliceVar(&groups, "groups", nil, "Modeling groups to scan ('*' for every group)")
	return cmd
}

func printBuildSummary(g *globals, info domain.BuildInfo, stats builder.Stats) error {
	if g.output == "json" {
		return printJSON(g.stdout, map[string]any{
			"build_id":            info.BuildID,
			"catalog":             g.cfg.CatalogPath,
			"archive_root":        info.ArchiveRoot,
			"version_order":       info.VersionOrder,
			"entries":             info.EntryCount,
			"files_recorded":      stats.FilesRecorded,
			"duplicates_dropped":  stats.DuplicatesDropped,
			"dirs_visited":        stats.DirsVisited,
			"dirs_unrecognized":   stats.DirsUnrecognized,
			"short_filenames":     stats.ShortFilenames,
			"order_disagreements": stats.OrderDisagreements,
			"rule_matches":        stats.RuleMatches,
			"elapsed_seconds":     stats.Elapsed.Seconds(),
		})
	}
	itoa := strconv.Itoa
	return printDetail(g.stdout, [][2]string{
		{"Build ID", info.BuildID},
		{"Catalog", g.cfg.CatalogPath},
		{"Archive root", info.ArchiveRoot},
		{"Version order", string(info.VersionOrder)},
		{"Entries", itoa(info.EntryCount)},
		{"Files recorded", itoa(stats.FilesRecorded)},
		{"Duplicates dropped", itoa(stats.DuplicatesDropped)},
		{"Directories visited", itoa(stats.DirsVisited)},
		{"Unrecognized directories", itoa(stats.DirsUnrecognized)},
		{"Short filenames", itoa(stats.ShortFilenames)},
		{"Order disagreements", itoa(stats.OrderDisagreements)},
		{"Elapsed", stats.Elapsed.Round(time.Millisecond).String()},
	})
}
