package query

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"cmipcat/internal/domain"
)

// Engine serves queries against the persisted catalog. The table is loaded
// and indexed on first use and swapped wholesale by Reload or Replace.
type Engine struct {
	store  domain.CatalogStore
	logger *slog.Logger

	mu  sync.RWMutex
	idx *Index
}

var _ domain.EntryFinder = (*Engine)(nil)

// NewEngine creates an Engine reading from store.
func NewEngine(store domain.CatalogStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger}
}

// Index returns the current index, loading it if needed.
func (e *Engine) Index(ctx context.Context) (*Index, error) {
	e.mu.RLock()
	idx := e.idx
	e.mu.RUnlock()
	if idx != nil {
		return idx, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.idx != nil {
		return e.idx, nil
	}
	idx, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	e.idx = idx
	return idx, nil
}

// Reload re-reads the store and swaps in a fresh index. On error the
// previous index stays in place.
func (e *Engine) Reload(ctx context.Context) error {
	idx, err := e.load(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.idx = idx
	e.mu.Unlock()
	return nil
}

// Replace indexes a freshly built table without a store round trip.
func (e *Engine) Replace(t *domain.CatalogTable) {
	idx := NewIndex(t)
	e.mu.Lock()
	e.idx = idx
	e.mu.Unlock()
}

func (e *Engine) load(ctx context.Context) (*Index, error) {
	start := time.Now()
	t, err := e.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	idx := NewIndex(t)
	e.logger.Info("catalog indexed", "entries", t.Len(), "build_id", t.Info.BuildID, "elapsed", time.Since(start))
	return idx, nil
}

// Info returns the metadata of the indexed build.
func (e *Engine) Info(ctx context.Context) (domain.BuildInfo, error) {
	idx, err := e.Index(ctx)
	if err != nil {
		return domain.BuildInfo{}, err
	}
	return idx.Info(), nil
}

// Values returns the distinct values of a queryable field, sorted.
func (e *Engine) Values(ctx context.Context, field string) ([]string, error) {
	if !slices.Contains(indexedFields, field) {
		return nil, domain.ErrValidation("unknown field %q: expected one of %s", field, strings.Join(indexedFields, ", "))
	}
	idx, err := e.Index(ctx)
	if err != nil {
		return nil, err
	}
	return idx.Values(field), nil
}

// FindEntries implements domain.EntryFinder.
func (e *Engine) FindEntries(ctx context.Context, q domain.Query) ([]domain.CatalogEntry, error) {
	idx, err := e.Index(ctx)
	if err != nil {
		return nil, err
	}
	return idx.FindEntries(q), nil
}

// FindFiles implements domain.EntryFinder.
func (e *Engine) FindFiles(ctx context.Context, q domain.Query) ([]string, error) {
	idx, err := e.Index(ctx)
	if err != nil {
		return nil, err
	}
	return idx.FindFiles(q), nil
}
