package cli

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"cmipcat/internal/dataset"
	"cmipcat/internal/domain"
	"cmipcat/internal/ensemble"
	"cmipcat/internal/varattrs"
)

func newOpenCmd(g *globals) *cobra.Command {
	var (
		req       ensemble.Request
		out       string
		withAttrs bool
	)

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Load one variable across ensemble members and summarize it",
		Long: `Resolve a model, experiment, frequency and variable to catalog files, read
each ensemble member (joining its time chunks), and stack the members along a
new "ens" dimension. The variable must live in a single realm unless --realm
pins one down.`,
		Example: `  cmipcat open --model GFDL-CM3 --experiment rcp45 --frequency mon --varname tas
  cmipcat open --model GFDL-CM3 --experiment rcp45 --frequency mon --varname tos \
      --realm ocean --out tos_ens.nc --attrs`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			ctx := cmd.Context()
			plan, err := a.Plan(ctx, req)
			if err != nil {
				return err
			}
			ds, err := a.Open(ctx, req)
			if err != nil {
				return err
			}

			var attrs map[string]any
			if withAttrs {
				attrs, err = a.Attrs(req.Varname, &plan.Realm)
				var nf *domain.NotFoundError
				switch {
				case errors.As(err, &nf):
					g.logger.Warn("no variable attributes", "varname", req.Varname, "realm", plan.Realm, "error", err)
				case err != nil:
					return err
				}
				if v := ds.Var(req.Varname); v != nil && len(attrs) > 0 {
					if v.Attrs == nil {
						v.Attrs = make(map[string]any, len(attrs))
					}
					maps.Copy(v.Attrs, attrs)
				}
			}

			if out != "" {
				if err := dataset.WriteNetCDF(out, ds); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
				g.logger.Info("ensemble written", "path", out)
			}
			return printDatasetSummary(g, plan, ds, attrs)
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.Model, "model", "", "Model (required)")
	f.StringVar(&req.Experiment, "experiment", "", "Experiment (required)")
	f.StringVar(&req.Frequency, "frequency", "", "Frequency (required)")
	f.StringVar(&req.Varname, "varname", "", "Variable name (required)")
	f.StringVar(&req.Realm, "realm", "", "Realm, needed when the variable exists in several")
	f.StringVar(&req.Ensemble, "ensemble", "", "Load a single ensemble member")
	f.StringVar(&out, "out", "", "Write the stacked dataset to this NetCDF file")
	f.BoolVar(&withAttrs, "attrs", false, "Attach attributes from the variable table")
	for _, name := range []string{"model", "experiment", "frequency", "varname"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

type dimSummary struct {
	Name string `json:"name"`
	Len  int    `json:"len"`
}

type varSummary struct {
	Name  string   `json:"name"`
	Dims  []string `json:"dims"`
	Shape []int    `json:"shape"`
}

type datasetSummary struct {
	Realm      string            `json:"realm"`
	Members    []string          `json:"members"`
	Dims       []dimSummary      `json:"dims"`
	Variables  []varSummary      `json:"variables"`
	Files      int               `json:"files"`
	Attributes map[string]any    `json:"attributes,omitempty"`
	Plan       []ensemble.Member `json:"plan"`
}

func summarize(plan *ensemble.Plan, ds *dataset.Dataset, attrs map[string]any) datasetSummary {
	s := datasetSummary{
		Realm:      plan.Realm,
		Members:    ds.Labels[ensemble.EnsDim],
		Attributes: attrs,
		Plan:       plan.Members,
	}
	for _, m := range plan.Members {
		s.Files += len(m.Files)
	}
	for _, d := range ds.Dims {
		s.Dims = append(s.Dims, dimSummary{Name: d.Name, Len: d.Len})
	}
	for _, v := range ds.Variables {
		s.Variables = append(s.Variables, varSummary{Name: v.Name, Dims: v.Dims, Shape: v.Shape})
	}
	return s
}

func printDatasetSummary(g *globals, plan *ensemble.Plan, ds *dataset.Dataset, attrs map[string]any) error {
	s := summarize(plan, ds, attrs)
	if g.output == "json" {
		return printJSON(g.stdout, s)
	}

	dims := make([]string, len(s.Dims))
	for i, d := range s.Dims {
		dims[i] = fmt.Sprintf("%s=%d", d.Name, d.Len)
	}
	if err := printDetail(g.stdout, [][2]string{
		{"Realm", s.Realm},
		{"Members", strings.Join(s.Members, " ")},
		{"Files", fmt.Sprint(s.Files)},
		{"Dimensions", strings.Join(dims, " ")},
	}); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(g.stdout)

	rows := make([][]string, len(s.Variables))
	for i, v := range s.Variables {
		rows[i] = []string{v.Name, "(" + strings.Join(v.Dims, ", ") + ")", fmt.Sprint(v.Shape)}
	}
	if err := printTable(g.stdout, []string{"variable", "dims", "shape"}, rows); err != nil {
		return err
	}

	if len(attrs) > 0 {
		_, _ = fmt.Fprintln(g.stdout)
		return printAttrs(g, attrs)
	}
	return nil
}

func printAttrs(g *globals, attrs map[string]any) error {
	keys := slices.Sorted(maps.Keys(attrs))
	pairs := make([][2]string, len(keys))
	for i, k := range keys {
		pairs[i] = [2]string{k, fmt.Sprint(attrs[k])}
	}
	return printDetail(g.stdout, pairs)
}

func newAttrsCmd(g *globals) *cobra.Command {
	var realm string

	cmd := &cobra.Command{
		Use:   "attrs <varname>",
		Short: "Show a variable's attributes from the variable table",
		Long: `Look the variable up in the YAML variable table. Without --realm every realm
is searched and the last realm in file order that defines the variable wins.`,
		Example: `  cmipcat attrs tas
  cmipcat attrs tos --realm ocean -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rp *string
			if cmd.Flags().Changed("realm") {
				rp = &realm
			}
			attrs, err := varattrs.Lookup(g.cfg.VariablesFile, args[0], rp)
			if err != nil {
				return err
			}
			if g.output == "json" {
				return printJSON(g.stdout, attrs)
			}
			return printAttrs(g, attrs)
		},
	}
	cmd.Flags().StringVar(&realm, "realm", "", "Restrict the lookup to one realm")
	return cmd
}
