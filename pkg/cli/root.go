// Package cli implements the cmipcat command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"cmipcat/internal/app"
	"cmipcat/internal/config"
	"cmipcat/internal/domain"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	return run(os.Args[1:], os.Stdout, os.Stderr)
}

func run(args []string, stdout, stderr io.Writer) int {
	rootCmd, g := newRootCmd(stdout, stderr)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		if g.output == "json" {
			_ = printJSON(stdout, errorObject(err))
		} else {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// errorObject is the JSON form of a failed command.
func errorObject(err error) map[string]any {
	obj := map[string]any{"error": err.Error(), "code": errorCode(err)}
	var ambiguous *domain.AmbiguousError
	if errors.As(err, &ambiguous) {
		obj["field"] = ambiguous.Field
		obj["candidates"] = ambiguous.Candidates
	}
	return obj
}

func errorCode(err error) string {
	var (
		notFound   *domain.NotFoundError
		validation *domain.ValidationError
		ambiguous  *domain.AmbiguousError
	)
	switch {
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &validation):
		return "invalid_argument"
	case errors.As(err, &ambiguous):
		return "ambiguous"
	default:
		return "internal"
	}
}

// globals holds the persistent flags and what PersistentPreRunE resolves
// from them.
type globals struct {
	output       string
	profile      string
	envFile      string
	catalog      string
	archiveRoot  string
	backend      string
	versionOrder string
	variables    string
	logLevel     string

	// profileName and sources describe where the resolved settings came from.
	profileName string
	sources     map[string]string

	stdout io.Writer
	stderr io.Writer
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) (*cobra.Command, *globals) {
	g := &globals{stdout: stdout, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:   "cmipcat",
		Short: "Catalog and load CMIP archive data",
		Long: `cmipcat scans a CMIP archive tree into a queryable catalog of data files,
answers queries against it and loads multi-member ensemble datasets.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.resolve(cmd)
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&g.output, "output", "o", "", "Output format (table, json); defaults to table on a terminal, json otherwise")
	pf.StringVarP(&g.profile, "profile", "p", "", "Config profile to use")
	pf.StringVar(&g.envFile, "env-file", ".env", "Environment file to load before reading CMIPCAT_* variables")
	pf.StringVarP(&g.catalog, "catalog", "c", "", "Catalog file (.sqlite or .duckdb)")
	pf.StringVar(&g.archiveRoot, "archive-root", "", "Archive root directory")
	pf.StringVar(&g.backend, "backend", "", "Catalog backend (auto, sqlite, duckdb)")
	pf.StringVar(&g.versionOrder, "version-order", "", "Version ordering for builds (lexical, natural)")
	pf.StringVar(&g.variables, "variables", "", "Variable attribute table (YAML)")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newBuildCmd(g))
	rootCmd.AddCommand(newFindCmd(g))
	rootCmd.AddCommand(newFilesCmd(g))
	rootCmd.AddCommand(newValuesCmd(g))
	rootCmd.AddCommand(newOpenCmd(g))
	rootCmd.AddCommand(newAttrsCmd(g))
	rootCmd.AddCommand(newInfoCmd(g))
	rootCmd.AddCommand(newExportCmd(g))
	rootCmd.AddCommand(newServeCmd(g))
	rootCmd.AddCommand(newScheduleCmd(g))
	rootCmd.AddCommand(newConfigCmd(g))
	rootCmd.AddCommand(newVersionCmd(g))
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd, g
}

// resolve applies precedence flag > env > profile > default and sets up
// logging.
func (g *globals) resolve(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(g.envFile); err != nil {
		return err
	}

	ucfg, err := LoadUserConfig()
	if err != nil {
		return err
	}
	name, p, err := ucfg.ActiveProfile(g.profile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	g.profileName = name
	g.sources = map[string]string{
		"catalog":      settingSource(flags.Changed("catalog"), "CMIPCAT_CATALOG_PATH", p.Catalog),
		"archive_root": settingSource(flags.Changed("archive-root"), "CMIPCAT_ARCHIVE_ROOT", p.ArchiveRoot),
		"backend":      settingSource(flags.Changed("backend"), "CMIPCAT_BACKEND", p.Backend),
		"variables":    settingSource(flags.Changed("variables"), "CMIPCAT_VARIABLES_FILE", p.Variables),
		"output":       settingSource(flags.Changed("output"), "CMIPCAT_OUTPUT", p.Output),
	}

	// Profile values act as defaults beneath the environment.
	for key, val := range p.env() {
		if val != "" && os.Getenv(key) == "" {
			if err := os.Setenv(key, val); err != nil {
				return err
			}
		}
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	if flags.Changed("catalog") {
		cfg.CatalogPath = g.catalog
	}
	if flags.Changed("archive-root") {
		cfg.ArchiveRoot = g.archiveRoot
	}
	if flags.Changed("backend") {
		cfg.Backend = strings.ToLower(strings.TrimSpace(g.backend))
	}
	if flags.Changed("version-order") {
		order, err := domain.ParseVersionOrder(g.versionOrder)
		if err != nil {
			return err
		}
		cfg.VersionOrder = order
	}
	if flags.Changed("variables") {
		cfg.VariablesFile = g.variables
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = g.logLevel
	}

	if !flags.Changed("output") {
		switch {
		case os.Getenv("CMIPCAT_OUTPUT") != "":
			g.output = os.Getenv("CMIPCAT_OUTPUT")
		case p.Output != "":
			g.output = p.Output
		default:
			g.output = defaultOutputFormat(g.stdout)
		}
	}
	if err := validateOutputFormat(g.output); err != nil {
		return err
	}

	g.cfg = cfg
	g.logger = newLogger(g.stderr, cfg)
	for _, w := range cfg.Warnings {
		g.logger.Warn(w)
	}
	return nil
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openApp wires the application for one command over a read-only catalog.
func (g *globals) openApp(cmd *cobra.Command) (*app.App, error) {
	return app.New(cmd.Context(), app.Deps{Cfg: g.cfg, Logger: g.logger})
}

// openAppForBuild opens the catalog for writing, creating it when absent.
func (g *globals) openAppForBuild(cmd *cobra.Command) (*app.App, error) {
	return app.New(cmd.Context(), app.Deps{Cfg: g.cfg, Logger: g.logger, Writable: true})
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Generate shell completion scripts",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
}
