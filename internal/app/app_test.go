package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmipcat/internal/config"
	"cmipcat/internal/dataset"
	"cmipcat/internal/domain"
	"cmipcat/internal/ensemble"
	"cmipcat/internal/store"
)

const group = "output1/NOAA-GFDL/GFDL-CM3/rcp45/mon/atmos/Amon"

// writeArchive lays out two ensemble members of tas, each split into two
// monthly files, plus an older version of one file that must be dropped.
func writeArchive(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	write := func(rel string, v float64) {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, dataset.WriteNetCDF(p, &dataset.Dataset{
			Dims: []dataset.Dim{{Name: "time", Len: 1}, {Name: "lat", Len: 2}},
			Variables: []*dataset.Variable{{
				Name: "tas", Dims: []string{"time", "lat"}, Shape: []int{1, 2},
				Data: []float64{v, v + 0.5},
			}},
		}))
	}
	for _, ens := range []string{"r1i1p1", "r2i1p1"} {
		write(group+"/"+ens+"/v2/tas/tas_Amon_GFDL-CM3_rcp45_"+ens+"_200601-200601.nc", 1)
		write(group+"/"+ens+"/v2/tas/tas_Amon_GFDL-CM3_rcp45_"+ens+"_200602-200602.nc", 2)
	}
	write(group+"/r1i1p1/v1/tas/tas_Amon_GFDL-CM3_rcp45_r1i1p1_200601-200601.nc", -1)
	return root
}

func newTestApp(t *testing.T, catalog string) *App {
	t.Helper()
	vars := filepath.Join(t.TempDir(), "vars.yml")
	require.NoError(t, os.WriteFile(vars, []byte("atmos:\n  tas:\n    units: K\n"), 0o644))

	a, err := New(context.Background(), Deps{
		Cfg: &config.Config{
			ArchiveRoot:        writeArchive(t),
			CatalogPath:        filepath.Join(t.TempDir(), catalog),
			Backend:            "auto",
			ModelingGroups:     []string{"NOAA-GFDL"},
			VersionOrder:       domain.VersionOrderLexical,
			VariablesFile:      vars,
			LoadWorkers:        2,
			CORSAllowedOrigins: []string{"*"},
			Schedule:           "@daily",
		},
		Logger:   slog.New(slog.DiscardHandler),
		Writable: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

var tasReq = ensemble.Request{Model: "GFDL-CM3", Experiment: "rcp45", Frequency: "mon", Varname: "tas"}

func TestApp_EndToEnd(t *testing.T) {
	for _, catalog := range []string{"catalog.sqlite", "catalog.duckdb"} {
		t.Run(catalog, func(t *testing.T) {
			ctx := context.Background()
			a := newTestApp(t, catalog)

			_, err := a.Info(ctx)
			var nf *domain.NotFoundError
			require.ErrorAs(t, err, &nf)

			table, stats, err := a.Build(ctx)
			require.NoError(t, err)
			assert.Equal(t, 4, table.Len())
			assert.Equal(t, 1, stats.DuplicatesDropped)

			info, err := a.Info(ctx)
			require.NoError(t, err)
			assert.Equal(t, table.Info.BuildID, info.BuildID)

			files, err := a.Files(ctx, domain.Query{Ensemble: domain.StrPtr("r1i1p1")})
			require.NoError(t, err)
			require.Len(t, files, 2)
			for _, f := range files {
				assert.Contains(t, f, "/v2/")
			}

			entries, err := a.Find(ctx, domain.Query{Varname: domain.StrPtr("tas")})
			require.NoError(t, err)
			assert.Len(t, entries, 4)

			ds, err := a.Open(ctx, tasReq)
			require.NoError(t, err)
			assert.Equal(t, []int{2, 2, 2}, ds.Var("tas").Shape)
			assert.Equal(t, []string{"r1i1p1", "r2i1p1"}, ds.Labels[ensemble.EnsDim])

			attrs, err := a.Attrs("tas", nil)
			require.NoError(t, err)
			assert.Equal(t, "K", attrs["units"])

			dst := filepath.Join(t.TempDir(), "catalog.csv")
			require.NoError(t, a.Export(ctx, dst, store.FormatCSV))
			data, err := os.ReadFile(dst)
			require.NoError(t, err)
			assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 5)
		})
	}
}

func TestApp_ReopenReadsPersistedCatalog(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, "catalog.sqlite")
	_, _, err := a.Build(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := New(ctx, Deps{Cfg: a.cfg, Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)
	defer b.Close() //nolint:errcheck

	plan, err := b.Plan(ctx, tasReq)
	require.NoError(t, err)
	assert.Equal(t, "atmos", plan.Realm)
	assert.Len(t, plan.Members, 2)

	_, _, err = b.Build(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")
}

func TestApp_QueryOnMissingCatalogLeavesNoFile(t *testing.T) {
	for _, catalog := range []string{"catalog.sqlite", "catalog.duckdb"} {
		t.Run(catalog, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "typo")
			path := filepath.Join(dir, catalog)

			_, err := New(context.Background(), Deps{
				Cfg:    &config.Config{CatalogPath: path, Backend: "auto"},
				Logger: slog.New(slog.DiscardHandler),
			})
			var nf *domain.NotFoundError
			require.ErrorAs(t, err, &nf)

			assert.NoFileExists(t, path)
			assert.NoDirExists(t, dir)
		})
	}
}

func TestApp_SchedulerRebuilds(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, "catalog.sqlite")

	s, err := a.Scheduler()
	require.NoError(t, err)
	require.NoError(t, s.RunNow(ctx))

	files, err := a.Files(ctx, domain.Query{})
	require.NoError(t, err)
	assert.Len(t, files, 4)
}

func TestApp_Handler(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, "catalog.sqlite")
	_, _, err := a.Build(ctx)
	require.NoError(t, err)

	srv := httptest.NewServer(a.Handler(nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/files?ensemble=r2i1p1")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Files []string `json:"files"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Files, 2)
}
