// Package query answers conjunctive equality queries over a catalog table.
package query

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"cmipcat/internal/domain"
)

// indexedFields are the columns a Query can constrain.
var indexedFields = []string{
	domain.FieldModel,
	domain.FieldExperiment,
	domain.FieldRealm,
	domain.FieldFrequency,
	domain.FieldEnsemble,
	domain.FieldVarname,
}

// Fields returns the names of the queryable fields.
func Fields() []string { return slices.Clone(indexedFields) }

// Index is an immutable inverted index over one catalog table:
// field -> value -> bitmap of row numbers. Absent values are not indexed.
type Index struct {
	table    *domain.CatalogTable
	postings map[string]map[string]*roaring.Bitmap
}

// NewIndex indexes t. The table must not be modified afterwards.
func NewIndex(t *domain.CatalogTable) *Index {
	idx := &Index{
		table:    t,
		postings: make(map[string]map[string]*roaring.Bitmap, len(indexedFields)),
	}
	for _, f := range indexedFields {
		idx.postings[f] = make(map[string]*roaring.Bitmap)
	}

	for i := range t.Entries {
		e := &t.Entries[i]
		for _, f := range indexedFields {
			v, ok := e.Field(f)
			if !ok {
				continue
			}
			bm, ok := idx.postings[f][v]
			if !ok {
				bm = roaring.New()
				idx.postings[f][v] = bm
			}
			bm.Add(uint32(i))
		}
	}
	for _, values := range idx.postings {
		for _, bm := range values {
			bm.RunOptimize()
		}
	}
	return idx
}

// Info returns the metadata of the indexed build.
func (idx *Index) Info() domain.BuildInfo { return idx.table.Info }

// Len returns the number of indexed rows.
func (idx *Index) Len() int { return len(idx.table.Entries) }

// match returns the row numbers satisfying q, or nil for an unconstrained
// query.
func (idx *Index) match(q domain.Query) *roaring.Bitmap {
	cs := q.Constraints()
	if len(cs) == 0 {
		return nil
	}
	sets := make([]*roaring.Bitmap, 0, len(cs))
	for _, c := range cs {
		bm, ok := idx.postings[c[0]][c[1]]
		if !ok {
			return roaring.New()
		}
		sets = append(sets, bm)
	}
	if len(sets) == 1 {
		return sets[0]
	}
	return roaring.FastAnd(sets...)
}

// FindEntries returns the rows matching every constraint of q in table
// order. An empty result is not an error.
func (idx *Index) FindEntries(q domain.Query) []domain.CatalogEntry {
	bm := idx.match(q)
	if bm == nil {
		return slices.Clone(idx.table.Entries)
	}
	out := make([]domain.CatalogEntry, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, idx.table.Entries[it.Next()])
	}
	return out
}

// FindFiles returns the file paths of the matching rows, sorted and
// without duplicates.
func (idx *Index) FindFiles(q domain.Query) []string {
	entries := idx.FindEntries(q)
	paths := make([]string, len(entries))
	for i := range entries {
		paths[i] = entries[i].FilePath
	}
	slices.Sort(paths)
	return slices.Compact(paths)
}

// Values returns the distinct values of field across the whole table,
// sorted. Unknown fields yield nil.
func (idx *Index) Values(field string) []string {
	values, ok := idx.postings[field]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(values))
	for v := range values {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Distinct returns the distinct present values of field among entries in
// order of first appearance.
func Distinct(entries []domain.CatalogEntry, field string) []string {
	seen := make(map[string]struct{})
	var out []string
	for i := range entries {
		v, ok := entries[i].Field(field)
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
