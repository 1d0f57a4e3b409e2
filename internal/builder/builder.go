// Package builder scans a CMIP archive tree and produces a deduplicated
// catalog table.
package builder

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cmipcat/internal/domain"
	"cmipcat/internal/layout"
)

// DefaultDataExtension is the suffix identifying data files.
const DefaultDataExtension = ".nc"

// filenameFields is the number of leading underscore-separated tokens that
// carry metadata in a data file name.
const filenameFields = 5

// Options configures a build.
type Options struct {
	// ArchiveRoot holds one directory per organization (e.g. output1).
	ArchiveRoot string
	// ModelingGroups restricts the scan to these group directories below
	// each organization. Empty scans every group.
	ModelingGroups []string
	// DataExtension selects data files; defaults to DefaultDataExtension.
	DataExtension string
	// VersionOrder ranks versions of the same file; defaults to lexical.
	VersionOrder domain.VersionOrder
}

// Stats summarizes a build.
type Stats struct {
	DirsVisited        int
	DirsMatched        int
	DirsUnrecognized   int
	ShortFilenames     int
	FilesRecorded      int
	DuplicatesDropped  int
	OrderDisagreements int
	RuleMatches        map[string]int
	Elapsed            time.Duration
}

// Builder scans an archive. A Builder is not safe for concurrent use; run
// one build per destination at a time.
type Builder struct {
	opts    Options
	matcher *layout.Matcher
	logger  *slog.Logger
}

// New creates a Builder.
func New(opts Options, logger *slog.Logger) *Builder {
	if opts.DataExtension == "" {
		opts.DataExtension = DefaultDataExtension
	}
	if opts.VersionOrder == "" {
		opts.VersionOrder = domain.VersionOrderLexical
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{opts: opts, matcher: layout.NewMatcher(), logger: logger}
}

// Build walks the archive and returns the resolved catalog table. Layout and
// filename problems are logged and skipped; only an unreadable archive root
// or a cancelled context fail the build.
func (b *Builder) Build(ctx context.Context) (*domain.CatalogTable, Stats, error) {
	start := time.Now()
	stats := Stats{RuleMatches: make(map[string]int)}

	root, err := filepath.Abs(b.opts.ArchiveRoot)
	if err != nil {
		return nil, stats, fmt.Errorf("resolve archive root: %w", err)
	}
	orgs, err := listDirs(root)
	if err != nil {
		return nil, stats, fmt.Errorf("read archive root: %w", err)
	}

	res := newResolver(b.opts.VersionOrder)
	for _, org := range orgs {
		groups := b.opts.ModelingGroups
		if len(groups) == 0 {
			if groups, err = listDirs(filepath.Join(root, org)); err != nil {
				b.logger.Warn("skipping organization", "path", filepath.Join(root, org), "error", err)
				continue
			}
		}
		for _, group := range groups {
			groupRoot := filepath.Join(root, org, group)
			if fi, err := os.Stat(groupRoot); err != nil || !fi.IsDir() {
				continue
			}
			b.logger.Info("scanning", "path", groupRoot)
			err := walkDirs(ctx, groupRoot, b.opts.DataExtension, b.logger, func(dir string, files []string) {
				b.scanDir(dir, files, res, &stats)
			})
			if err != nil {
				return nil, stats, err
			}
		}
	}

	entries, dropped := res.entries()
	stats.DuplicatesDropped = dropped
	stats.OrderDisagreements = res.reportDisagreements(b.logger)
	stats.Elapsed = time.Since(start)

	table := &domain.CatalogTable{
		Info: domain.BuildInfo{
			BuildID:      domain.NewID(),
			BuiltAt:      time.Now().UTC(),
			ArchiveRoot:  root,
			VersionOrder: b.opts.VersionOrder,
			EntryCount:   len(entries),
		},
		Entries: entries,
	}
	b.logger.Info("build complete",
		"entries", len(entries),
		"files", stats.FilesRecorded,
		"duplicates_dropped", stats.DuplicatesDropped,
		"dirs_unrecognized", stats.DirsUnrecognized,
		"elapsed", stats.Elapsed)
	return table, stats, nil
}

// scanDir records every data file of one directory.
func (b *Builder) scanDir(dir string, files []string, res *resolver, stats *Stats) {
	stats.DirsVisited++
	if len(files) == 0 {
		return
	}

	m, ok := b.matcher.MatchPath(dir)
	if !ok {
		stats.DirsUnrecognized++
		b.logger.Warn("unrecognized layout, skipping directory", "dir", dir)
		return
	}
	stats.DirsMatched++
	stats.RuleMatches[m.Rule]++

	b.logger.Info("adding files",
		"count", len(files),
		"model", m.Model,
		"experiment", m.Experiment,
		"realm", m.Realm,
		"frequency", m.Frequency)

	for _, name := range files {
		e, short := newEntry(dir, name, b.opts.DataExtension, m)
		if short {
			stats.ShortFilenames++
			b.logger.Warn("short filename, recording partial entry", "file", filepath.Join(dir, name))
		}
		stats.FilesRecorded++
		res.add(e)
	}
}

// newEntry combines directory metadata with the fields encoded in the file
// name. Filename tokens override the directory-derived model and
// experiment. short reports a name with fewer tokens than expected.
func newEntry(dir, name, ext string, m layout.Match) (e domain.CatalogEntry, short bool) {
	e = domain.CatalogEntry{
		Version:      m.Version,
		Realm:        m.Realm,
		Frequency:    m.Frequency,
		FileBasename: name,
		FilePath:     filepath.Join(dir, name),
		Model:        domain.StrPtr(m.Model),
		Experiment:   domain.StrPtr(m.Experiment),
	}

	tokens := strings.Split(strings.TrimSuffix(name, ext), "_")
	targets := []**string{&e.Varname, &e.RealmFreqTag, &e.Model, &e.Experiment, &e.Ensemble}
	for i, dst := range targets {
		if i >= len(tokens) {
			break
		}
		*dst = domain.StrPtr(tokens[i])
	}
	return e, len(tokens) < filenameFields
}

// walkDirs visits dir and its subdirectories top-down, passing each
// directory's data files sorted by name. Unreadable subdirectories are
// logged and skipped.
func walkDirs(ctx context.Context, dir, ext string, logger *slog.Logger, fn func(dir string, files []string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("skipping unreadable directory", "dir", dir, "error", err)
		return nil
	}

	var files, subdirs []string
	for _, ent := range ents {
		switch {
		case ent.IsDir():
			subdirs = append(subdirs, ent.Name())
		case strings.HasSuffix(ent.Name(), ext):
			files = append(files, ent.Name())
		}
	}
	// os.ReadDir already sorts by name.
	fn(dir, files)

	for _, sub := range subdirs {
		if err := walkDirs(ctx, filepath.Join(dir, sub), ext, logger, fn); err != nil {
			return err
		}
	}
	return nil
}

// listDirs returns the names of the subdirectories of dir, sorted.
// Symlinks to directories count as directories; broken links are skipped.
func listDirs(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, ent := range ents {
		switch {
		case ent.IsDir():
			out = append(out, ent.Name())
		case ent.Type()&fs.ModeSymlink != 0:
			if fi, err := os.Stat(filepath.Join(dir, ent.Name())); err == nil && fi.IsDir() {
				out = append(out, ent.Name())
			}
		}
	}
	return out, nil
}

// resolver keeps the newest candidate per file basename as entries stream
// in. Keeping a later candidate on equal versions makes the result the same
// as a stable sort by version followed by keep-last per basename.
type resolver struct {
	order domain.VersionOrder
	seq   int
	best  map[string]candidate
	total int

	// natural tracks the winner under numeric-aware ordering so that a
	// lexical build can report basenames where the two orders disagree.
	natural map[string]candidate
}

type candidate struct {
	entry domain.CatalogEntry
	seq   int
}

func newResolver(order domain.VersionOrder) *resolver {
	r := &resolver{order: order, best: make(map[string]candidate)}
	if order == domain.VersionOrderLexical {
		r.natural = make(map[string]candidate)
	}
	return r
}

func (r *resolver) add(e domain.CatalogEntry) {
	c := candidate{entry: e, seq: r.seq}
	r.seq++
	r.total++
	keep(r.best, c, r.order)
	if r.natural != nil {
		keep(r.natural, c, domain.VersionOrderNatural)
	}
}

func keep(m map[string]candidate, c candidate, order domain.VersionOrder) {
	prev, ok := m[c.entry.FileBasename]
	if !ok || order.Compare(c.entry.Version, prev.entry.Version) >= 0 {
		m[c.entry.FileBasename] = c
	}
}

// entries returns the survivors ordered by version, then by the order they
// were observed, plus the number of candidates dropped.
func (r *resolver) entries() ([]domain.CatalogEntry, int) {
	cands := make([]candidate, 0, len(r.best))
	for _, c := range r.best {
		cands = append(cands, c)
	}
	sort.Slice(cands, func(i, j int) bool {
		if c := r.order.Compare(cands[i].entry.Version, cands[j].entry.Version); c != 0 {
			return c < 0
		}
		return cands[i].seq < cands[j].seq
	})
	out := make([]domain.CatalogEntry, len(cands))
	for i, c := range cands {
		out[i] = c.entry
	}
	return out, r.total - len(out)
}

// reportDisagreements logs every basename whose lexical winner differs from
// its natural-order winner and returns how many there were.
func (r *resolver) reportDisagreements(logger *slog.Logger) int {
	if r.natural == nil {
		return 0
	}
	names := make([]string, 0)
	for name, c := range r.best {
		if n := r.natural[name]; n.seq != c.seq {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		logger.Warn("version order disagreement",
			"file", name,
			"lexical_version", r.best[name].entry.Version,
			"natural_version", r.natural[name].entry.Version)
	}
	return len(names)
}
