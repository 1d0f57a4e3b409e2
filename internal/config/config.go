// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"cmipcat/internal/domain"
)

// DefaultModelingGroups are the CMIP5 modeling-group directories scanned
// below each organization.
var DefaultModelingGroups = []string{
	"BCC", "BNU", "CCCma", "CMCC", "CNRM-CERFACS", "CSIRO-BOM",
	"CSIRO-QCCCE", "FIO", "ICHEC", "INM", "INPE", "IPSL",
	"LASG-CESS", "LASG-IAP", "MIROC", "MOHC", "MPI-M", "MRI",
	"NASA-GISS", "NCC", "NIMR-KMA", "NOAA-GFDL",
	"NSF-DOE-NCAR", "UNSW",
}

// Defaults.
const (
	DefaultArchiveRoot   = "/glade2/collections/cmip/cmip5"
	DefaultCatalogPath   = "cmipcat.sqlite"
	DefaultVariablesFile = "cmip5_variables.yml"
	DefaultSchedule      = "@daily"
)

// Config holds the settings shared by the CLI, the HTTP API and the
// scheduler.
type Config struct {
	ArchiveRoot    string   // archive root holding one directory per organization
	CatalogPath    string   // persisted catalog file
	Backend        string   // auto, sqlite or duckdb
	ModelingGroups []string // group directories scanned below each organization
	DataExtension  string   // data file suffix (default ".nc")
	VersionOrder   domain.VersionOrder
	VariablesFile  string // YAML variable attribute table
	LoadWorkers    int    // ensemble members read concurrently

	ListenAddr         string
	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string

	Schedule string // cron spec for scheduled rebuilds

	LogLevel  string // debug, info, warn, error
	LogFormat string // text or json

	// Warnings collects non-fatal problems found while loading. They are
	// logged by the caller once the logger exists.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadFromEnv loads configuration from environment variables, applying
// defaults for anything unset.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ArchiveRoot:   os.Getenv("CMIPCAT_ARCHIVE_ROOT"),
		CatalogPath:   os.Getenv("CMIPCAT_CATALOG_PATH"),
		Backend:       strings.ToLower(strings.TrimSpace(os.Getenv("CMIPCAT_BACKEND"))),
		DataExtension: os.Getenv("CMIPCAT_DATA_EXT"),
		VariablesFile: os.Getenv("CMIPCAT_VARIABLES_FILE"),
		ListenAddr:    os.Getenv("LISTEN_ADDR"),
		Schedule:      os.Getenv("CMIPCAT_SCHEDULE"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		LogFormat:     strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT"))),
	}

	order, err := domain.ParseVersionOrder(os.Getenv("CMIPCAT_VERSION_ORDER"))
	if err != nil {
		return nil, fmt.Errorf("CMIPCAT_VERSION_ORDER: %w", err)
	}
	cfg.VersionOrder = order

	allGroups := false
	if v := os.Getenv("CMIPCAT_MODELING_GROUPS"); v != "" {
		if strings.TrimSpace(v) == "*" {
			allGroups = true
		} else {
			cfg.ModelingGroups = splitList(v)
		}
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitList(v)
	}
	cfg.LoadWorkers = cfg.intEnv("CMIPCAT_LOAD_WORKERS")
	cfg.RateLimitBurst = cfg.intEnv("RATE_LIMIT_BURST")
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring RATE_LIMIT_RPS=%q: not a number", v))
		}
	}

	switch cfg.Backend {
	case "":
		cfg.Backend = "auto"
	case "auto", "sqlite", "duckdb":
	default:
		return nil, domain.ErrValidation("CMIPCAT_BACKEND must be auto, sqlite or duckdb, got %q", cfg.Backend)
	}
	switch cfg.LogFormat {
	case "":
		cfg.LogFormat = "text"
	case "text", "json":
	default:
		return nil, domain.ErrValidation("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	if cfg.ArchiveRoot == "" {
		cfg.ArchiveRoot = DefaultArchiveRoot
	}
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = DefaultCatalogPath
	}
	if len(cfg.ModelingGroups) == 0 && !allGroups {
		cfg.ModelingGroups = append([]string(nil), DefaultModelingGroups...)
	}
	if cfg.DataExtension == "" {
		cfg.DataExtension = ".nc"
	}
	if cfg.VariablesFile == "" {
		cfg.VariablesFile = DefaultVariablesFile
	}
	if cfg.LoadWorkers <= 0 {
		cfg.LoadWorkers = 4
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

func (c *Config) intEnv(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring %s=%q: not an integer", key, v))
		return 0
	}
	return n
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// unquote removes one pair of matching surrounding quotes.
func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
