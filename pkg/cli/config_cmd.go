package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"cmipcat/internal/domain"
	"cmipcat/internal/store"
)

func newConfigCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration profiles",
	}

	cmd.AddCommand(newConfigShowCmd(g))
	cmd.AddCommand(newConfigSetProfileCmd(g))
	cmd.AddCommand(newConfigUseProfileCmd(g))

	return cmd
}

func newConfigShowCmd(g *globals) *cobra.Command {
	var effective bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display the profile file, or the effective settings with --effective",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if effective {
				eff, err := effectiveSettings(g)
				if err != nil {
					return err
				}
				if g.output == "json" {
					return printJSON(g.stdout, eff)
				}
				return printYAML(g, eff)
			}

			cfg, err := LoadUserConfig()
			if err != nil {
				return err
			}
			if g.output == "json" {
				return printJSON(g.stdout, cfg)
			}
			_, _ = fmt.Fprintf(g.stdout, "# %s\n", ConfigPath())
			return printYAML(g, cfg)
		},
	}
	cmd.Flags().BoolVar(&effective, "effective", false, "Show the settings after applying env, profile and flags")
	return cmd
}

// effectiveSettings reports the resolved configuration together with the
// backend the catalog path selects and where each overridable value came
// from.
func effectiveSettings(g *globals) (map[string]any, error) {
	backend, err := store.ParseBackend(g.cfg.Backend)
	if err != nil {
		return nil, err
	}
	info, statErr := os.Stat(g.cfg.CatalogPath)
	return map[string]any{
		"config_file":      ConfigPath(),
		"profile":          g.profileName,
		"archive_root":     g.cfg.ArchiveRoot,
		"catalog":          g.cfg.CatalogPath,
		"catalog_exists":   statErr == nil && info.Mode().IsRegular(),
		"backend":          string(backend),
		"resolved_backend": string(backend.Resolve(g.cfg.CatalogPath)),
		"modeling_groups":  g.cfg.ModelingGroups,
		"data_extension":   g.cfg.DataExtension,
		"version_order":    g.cfg.VersionOrder,
		"variables":        g.cfg.VariablesFile,
		"load_workers":     g.cfg.LoadWorkers,
		"listen_addr":      g.cfg.ListenAddr,
		"schedule":         g.cfg.Schedule,
		"output":           g.output,
		"sources":          g.sources,
	}, nil
}

func printYAML(g *globals, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = g.stdout.Write(data)
	return err
}

func newConfigSetProfileCmd(g *globals) *cobra.Command {
	var (
		name   string
		values Profile
	)

	cmd := &cobra.Command{
		Use:   "set-profile",
		Short: "Create or update a configuration profile",
		Example: `  cmipcat config set-profile --name glade --default-catalog /glade/work/cmip5.sqlite \
      --default-archive-root /glade2/collections/cmip/cmip5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			f := cmd.Flags()
			cfg, err := LoadUserConfig()
			if err != nil {
				return err
			}

			p := cfg.Profiles[name]
			if f.Changed("default-catalog") {
				p.Catalog = values.Catalog
			}
			if f.Changed("default-archive-root") {
				p.ArchiveRoot = values.ArchiveRoot
			}
			if f.Changed("default-backend") {
				p.Backend = values.Backend
			}
			if f.Changed("default-variables") {
				p.Variables = values.Variables
			}
			if f.Changed("default-output") {
				p.Output = values.Output
			}
			if err := p.validate(); err != nil {
				return err
			}
			cfg.Profiles[name] = p

			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			if g.output == "json" {
				return printJSON(g.stdout, map[string]string{
					"status":  "ok",
					"profile": name,
					"path":    ConfigPath(),
				})
			}
			_, _ = fmt.Fprintf(g.stdout, "Profile %q saved to %s\n", name, ConfigPath())
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Profile name (required)")
	cmd.Flags().StringVar(&values.Catalog, "default-catalog", "", "Catalog file")
	cmd.Flags().StringVar(&values.ArchiveRoot, "default-archive-root", "", "Archive root")
	cmd.Flags().StringVar(&values.Backend, "default-backend", "", "Catalog backend")
	cmd.Flags().StringVar(&values.Variables, "default-variables", "", "Variable attribute table")
	cmd.Flags().StringVar(&values.Output, "default-output", "", "Default output format")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newConfigUseProfileCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "use-profile <name>",
		Short: "Set the active configuration profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				return err
			}
			name := args[0]
			if _, ok := cfg.Profiles[name]; !ok {
				return domain.ErrNotFound("profile %q not found in %s", name, ConfigPath())
			}
			cfg.CurrentProfile = name
			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			if g.output == "json" {
				return printJSON(g.stdout, map[string]string{
					"status":         "ok",
					"active_profile": name,
				})
			}
			_, _ = fmt.Fprintf(g.stdout, "Active profile set to %q\n", name)
			return nil
		},
	}
}
