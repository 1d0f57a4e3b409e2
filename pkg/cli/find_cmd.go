package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"cmipcat/internal/api"
	"cmipcat/internal/domain"
	"cmipcat/internal/query"
)

// queryFlags binds one flag per queryable field.
type queryFlags struct {
	fs *pflag.FlagSet
}

func addQueryFlags(cmd *cobra.Command) *queryFlags {
	fs := pflag.NewFlagSet("query", pflag.ContinueOnError)
	for _, f := range query.Fields() {
		fs.String(f, "", "Match entries whose "+f+" equals this value")
	}
	cmd.Flags().AddFlagSet(fs)
	return &queryFlags{fs: fs}
}

// Query returns the constraints given on the command line. Flags left unset
// impose nothing.
func (qf *queryFlags) Query() domain.Query {
	m := make(map[string]string)
	qf.fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			m[f.Name] = f.Value.String()
		}
	})
	return domain.QueryFromMap(m)
}

func newFindCmd(g *globals) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "find",
		Short: "List catalog entries matching field constraints",
		Example: `  # Every monthly surface air temperature file of one model
  cmipcat find --model GFDL-CM3 --varname tas --frequency mon

  # JSON for scripting
  cmipcat find --experiment rcp45 --realm ocean -o json`,
		Args: cobra.NoArgs,
	}
	qf := addQueryFlags(cmd)
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of entries to print (0 for all)")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		a, err := g.openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		entries, err := a.Find(cmd.Context(), qf.Query())
		if err != nil {
			return err
		}
		if limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}

		if g.output == "json" {
			out := make([]api.Entry, len(entries))
			for i, e := range entries {
				out[i] = api.EntryFromDomain(e)
			}
			return printJSON(g.stdout, out)
		}
		rows := make([][]string, len(entries))
		for i, e := range entries {
			rows[i] = []string{
				orDash(e.Model), orDash(e.Experiment), e.Realm, e.Frequency,
				orDash(e.Ensemble), orDash(e.Varname), e.Version, e.FilePath,
			}
		}
		return printTable(g.stdout,
			[]string{"model", "experiment", "realm", "frequency", "ensemble", "varname", "version", "file"},
			rows)
	}
	return cmd
}

func newFilesCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "List the distinct file paths matching field constraints, sorted",
		Example: `  cmipcat files --model GFDL-CM3 --experiment rcp45 --varname tas --ensemble r1i1p1`,
		Args:  cobra.NoArgs,
	}
	qf := addQueryFlags(cmd)

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		a, err := g.openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		files, err := a.Files(cmd.Context(), qf.Query())
		if err != nil {
			return err
		}
		if g.output == "json" {
			if files == nil {
				files = []string{}
			}
			return printJSON(g.stdout, files)
		}
		for _, f := range files {
			if _, err := fmt.Fprintln(g.stdout, f); err != nil {
				return err
			}
		}
		return nil
	}
	return cmd
}

func newValuesCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:       "values <field>",
		Short:     "List the distinct values of a field across the catalog",
		Long:      "List the distinct values of one of: " + strings.Join(query.Fields(), ", ") + ".",
		Example:   `  cmipcat values model`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: query.Fields(),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			values, err := a.Values(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if g.output == "json" {
				return printJSON(g.stdout, api.Values{Field: args[0], Values: values})
			}
			for _, v := range values {
				if _, err := fmt.Fprintln(g.stdout, v); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
