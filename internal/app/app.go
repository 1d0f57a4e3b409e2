// Package app wires configuration, storage, the query engine and the
// ensemble loader into the operations exposed by the CLI and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cmipcat/internal/api"
	"cmipcat/internal/builder"
	"cmipcat/internal/config"
	"cmipcat/internal/dataset"
	"cmipcat/internal/domain"
	"cmipcat/internal/ensemble"
	"cmipcat/internal/middleware"
	"cmipcat/internal/query"
	"cmipcat/internal/scheduler"
	"cmipcat/internal/store"
	"cmipcat/internal/varattrs"
)

// Deps holds what the caller must provide.
type Deps struct {
	Cfg    *config.Config
	Logger *slog.Logger
	// Reader overrides the NetCDF dataset reader.
	Reader dataset.Reader
	// Writable opens the catalog for builds, creating it when absent.
	// Otherwise the catalog must already exist and is opened read-only.
	Writable bool
}

// App is the fully wired application.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	Store  store.Store
	Engine *query.Engine
	Loader *ensemble.Loader
}

// New opens the catalog store and wires the query engine and loader. The
// catalog is indexed lazily on the first query. A read-only App fails with
// domain.ErrNoCatalog when nothing has been built at the configured path.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg, logger := deps.Cfg, deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backend, err := store.ParseBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}
	open := store.OpenReadOnly
	if deps.Writable {
		open = store.Create
	}
	st, err := open(ctx, cfg.CatalogPath, backend, logger.With("component", "store"))
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", cfg.CatalogPath, err)
	}

	reader := deps.Reader
	if reader == nil {
		reader = dataset.NewNetCDFReader()
	}
	eng := query.NewEngine(st, logger.With("component", "query"))
	loader := ensemble.NewLoader(eng, reader, logger.With("component", "ensemble")).WithWorkers(cfg.LoadWorkers)

	return &App{cfg: cfg, logger: logger, Store: st, Engine: eng, Loader: loader}, nil
}

// Close releases the store.
func (a *App) Close() error { return a.Store.Close() }

// Build scans the archive, replaces the persisted catalog and refreshes the
// in-process index.
func (a *App) Build(ctx context.Context) (*domain.CatalogTable, builder.Stats, error) {
	b := builder.New(builder.Options{
		ArchiveRoot:    a.cfg.ArchiveRoot,
		ModelingGroups: a.cfg.ModelingGroups,
		DataExtension:  a.cfg.DataExtension,
		VersionOrder:   a.cfg.VersionOrder,
	}, a.logger.With("component", "builder"))

	table, stats, err := b.Build(ctx)
	if err != nil {
		return nil, stats, err
	}
	if err := a.Store.Save(ctx, table); err != nil {
		return nil, stats, fmt.Errorf("save catalog: %w", err)
	}
	a.Engine.Replace(table)
	return table, stats, nil
}

// Find returns the entries matching q in catalog order.
func (a *App) Find(ctx context.Context, q domain.Query) ([]domain.CatalogEntry, error) {
	return a.Engine.FindEntries(ctx, q)
}

// Files returns the sorted, distinct file paths matching q.
func (a *App) Files(ctx context.Context, q domain.Query) ([]string, error) {
	return a.Engine.FindFiles(ctx, q)
}

// Values returns the distinct values of a queryable field.
func (a *App) Values(ctx context.Context, field string) ([]string, error) {
	return a.Engine.Values(ctx, field)
}

// Plan resolves an ensemble request without reading data.
func (a *App) Plan(ctx context.Context, req ensemble.Request) (*ensemble.Plan, error) {
	return a.Loader.Plan(ctx, req)
}

// Open loads an ensemble dataset.
func (a *App) Open(ctx context.Context, req ensemble.Request) (*dataset.Dataset, error) {
	return a.Loader.Open(ctx, req)
}

// Attrs looks up variable attributes in the configured table, re-reading the
// file on every call.
func (a *App) Attrs(varname string, realm *string) (varattrs.Attrs, error) {
	return varattrs.Lookup(a.cfg.VariablesFile, varname, realm)
}

// Info returns the metadata of the persisted build.
func (a *App) Info(ctx context.Context) (*domain.BuildInfo, error) {
	return a.Store.Info(ctx)
}

// Export writes the persisted catalog to dst.
func (a *App) Export(ctx context.Context, dst string, format store.ExportFormat) error {
	return a.Store.Export(ctx, dst, format)
}

// Scheduler returns a stopped scheduler running Build on the configured
// spec.
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	return scheduler.New(a.cfg.Schedule, func(ctx context.Context) error {
		_, _, err := a.Build(ctx)
		return err
	}, a.logger.With("component", "scheduler"))
}

// Handler returns the HTTP API with its middleware stack.
func (a *App) Handler(limiter *middleware.RateLimiter) http.Handler {
	h := api.NewHandler(a.Engine, a.Loader, a.Attrs, a.logger.With("component", "api"))
	return api.NewRouter(h, api.RouterOptions{
		RateLimiter:    limiter,
		AllowedOrigins: a.cfg.CORSAllowedOrigins,
		Logger:         a.logger.With("component", "http"),
	})
}

// Serve runs the HTTP API until ctx is cancelled, then shuts down
// gracefully.
func (a *App) Serve(ctx context.Context) error {
	limiter := middleware.NewRateLimiter(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst)
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go limiter.RunSweeper(sweepCtx, time.Minute, 10*time.Minute)

	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           a.Handler(limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP API listening", "addr", a.cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
