package domain

import "time"

// CatalogEntry is one row of the catalog: a single data file found in the
// archive. Filename-derived fields are nil when the file name did not carry
// enough underscore-separated tokens to supply them.
type CatalogEntry struct {
	Version      string
	Realm        string
	Frequency    string
	FileBasename string
	FilePath     string

	Varname      *string
	RealmFreqTag *string
	Model        *string
	Experiment   *string
	Ensemble     *string
}

// Field returns the value of a queryable field by its column name.
// The second result is false when the field is absent on this entry.
func (e *CatalogEntry) Field(name string) (string, bool) {
	switch name {
	case FieldVersion:
		return e.Version, true
	case FieldRealm:
		return e.Realm, true
	case FieldFrequency:
		return e.Frequency, true
	case FieldFileBasename:
		return e.FileBasename, true
	case FieldFilePath:
		return e.FilePath, true
	case FieldVarname:
		return deref(e.Varname)
	case FieldRealmFreqTag:
		return deref(e.RealmFreqTag)
	case FieldModel:
		return deref(e.Model)
	case FieldExperiment:
		return deref(e.Experiment)
	case FieldEnsemble:
		return deref(e.Ensemble)
	}
	return "", false
}

func deref(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	return *s, true
}

// Column names shared by the store schema, the query index and the API.
const (
	FieldVersion      = "version"
	FieldRealm        = "realm"
	FieldFrequency    = "frequency"
	FieldFileBasename = "file_basename"
	FieldFilePath     = "file_path"
	FieldVarname      = "varname"
	FieldRealmFreqTag = "realm_freq_tag"
	FieldModel        = "model"
	FieldExperiment   = "experiment"
	FieldEnsemble     = "ensemble"
)

// BuildInfo describes the build that produced a catalog table.
type BuildInfo struct {
	BuildID      string
	BuiltAt      time.Time
	ArchiveRoot  string
	VersionOrder VersionOrder
	EntryCount   int
}

// CatalogTable is the ordered, deduplicated set of entries produced by one
// build. It is replaced wholesale by the next build and never updated.
type CatalogTable struct {
	Info    BuildInfo
	Entries []CatalogEntry
}

// Len returns the number of entries.
func (t *CatalogTable) Len() int { return len(t.Entries) }

// StrPtr returns a pointer to s.
func StrPtr(s string) *string { return &s }
