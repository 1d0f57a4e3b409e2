package store

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"cmipcat/internal/domain"
)

var catalogNames = []string{"catalog.sqlite", "catalog.duckdb"}

// savedCatalog writes sampleTable to a fresh catalog file and closes the
// writer.
func savedCatalog(t *testing.T, name string) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), name)
	w, err := Create(ctx, path, BackendAuto, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.NoError(t, w.Save(ctx, sampleTable()))
	require.NoError(t, w.Close())
	return path
}

func TestOpenReadOnly_MissingCatalogCreatesNothing(t *testing.T) {
	ctx := context.Background()

	for _, name := range catalogNames {
		t.Run(name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "not-built")
			path := filepath.Join(dir, name)

			_, err := OpenReadOnly(ctx, path, BackendAuto, slog.New(slog.DiscardHandler))
			var nf *domain.NotFoundError
			require.ErrorAs(t, err, &nf)
			assert.Contains(t, nf.Message, path)

			assert.NoFileExists(t, path)
			assert.NoDirExists(t, dir)
		})
	}
}

func TestOpenReadOnly_ForeignFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.sqlite")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := OpenReadOnly(ctx, path, BackendAuto, slog.New(slog.DiscardHandler))
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, fi.Size())
}

func TestOpenReadOnly_ReadsButRejectsSave(t *testing.T) {
	ctx := context.Background()

	for _, name := range catalogNames {
		t.Run(name, func(t *testing.T) {
			path := savedCatalog(t, name)
			s, err := OpenReadOnly(ctx, path, BackendAuto, slog.New(slog.DiscardHandler))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })

			got, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, sampleTable().Entries, got.Entries)

			err = s.Save(ctx, sampleTable())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "read-only")

			dst := filepath.Join(t.TempDir(), "catalog.csv")
			require.NoError(t, s.Export(ctx, dst, FormatCSV))
			assert.FileExists(t, dst)
		})
	}
}

func TestOpenReadOnly_CreatedButNeverSaved(t *testing.T) {
	ctx := context.Background()

	for _, name := range catalogNames {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			w, err := Create(ctx, path, BackendAuto, slog.New(slog.DiscardHandler))
			require.NoError(t, err)
			require.NoError(t, w.Close())

			s, err := OpenReadOnly(ctx, path, BackendAuto, slog.New(slog.DiscardHandler))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })

			_, err = s.Info(ctx)
			var nf *domain.NotFoundError
			require.ErrorAs(t, err, &nf)
		})
	}
}

const readerCatalogEnv = "CMIPCAT_TEST_READER_CATALOG"

// TestStore_ConcurrentReaderProcesses opens one catalog read-only from this
// process and from two child processes at the same time. The children are
// this test binary re-run with readerCatalogEnv set.
func TestStore_ConcurrentReaderProcesses(t *testing.T) {
	if path := os.Getenv(readerCatalogEnv); path != "" {
		readCatalogAndHold(t, path)
		return
	}
	if testing.Short() {
		t.Skip("spawns child processes")
	}

	for _, name := range catalogNames {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			path := savedCatalog(t, name)

			held, err := OpenReadOnly(ctx, path, BackendAuto, slog.New(slog.DiscardHandler))
			require.NoError(t, err)
			t.Cleanup(func() { _ = held.Close() })

			var g errgroup.Group
			for range 2 {
				g.Go(func() error {
					cmd := exec.CommandContext(t.Context(), os.Args[0],
						"-test.run=^TestStore_ConcurrentReaderProcesses$", "-test.count=1")
					cmd.Env = append(os.Environ(), readerCatalogEnv+"="+path)
					out, err := cmd.CombinedOutput()
					if err != nil {
						t.Logf("reader output:\n%s", out)
					}
					return err
				})
			}
			require.NoError(t, g.Wait())

			got, err := held.Load(ctx)
			require.NoError(t, err)
			assert.Len(t, got.Entries, 3)
		})
	}
}

func readCatalogAndHold(t *testing.T, path string) {
	ctx := context.Background()
	s, err := OpenReadOnly(ctx, path, BackendAuto, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got.Entries, 3)

	// Keep the handle open so the sibling reader overlaps with this one.
	time.Sleep(200 * time.Millisecond)
}
