// Package api serves the catalog over a read-only HTTP API.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"cmipcat/internal/domain"
	"cmipcat/internal/ensemble"
	"cmipcat/internal/varattrs"
)

// Catalog answers catalog queries. Implemented by query.Engine.
type Catalog interface {
	domain.EntryFinder
	Info(ctx context.Context) (domain.BuildInfo, error)
	Values(ctx context.Context, field string) ([]string, error)
}

// Planner resolves ensemble requests. Implemented by ensemble.Loader.
type Planner interface {
	Plan(ctx context.Context, req ensemble.Request) (*ensemble.Plan, error)
}

// VariableLookup returns the attributes of a variable, optionally scoped to
// a realm.
type VariableLookup func(varname string, realm *string) (varattrs.Attrs, error)

// Handler implements the API endpoints.
type Handler struct {
	catalog Catalog
	planner Planner
	lookup  VariableLookup
	logger  *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(catalog Catalog, planner Planner, lookup VariableLookup, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{catalog: catalog, planner: planner, lookup: lookup, logger: logger}
}

// Entry is the JSON form of a catalog entry. Absent filename fields are
// omitted.
type Entry struct {
	Version      string  `json:"version"`
	Realm        string  `json:"realm"`
	Frequency    string  `json:"frequency"`
	FileBasename string  `json:"file_basename"`
	FilePath     string  `json:"file_path"`
	Varname      *string `json:"varname,omitempty"`
	RealmFreqTag *string `json:"realm_freq_tag,omitempty"`
	Model        *string `json:"model,omitempty"`
	Experiment   *string `json:"experiment,omitempty"`
	Ensemble     *string `json:"ensemble,omitempty"`
}

// EntryFromDomain converts a catalog entry to its JSON form.
func EntryFromDomain(e domain.CatalogEntry) Entry {
	return Entry{
		Version:      e.Version,
		Realm:        e.Realm,
		Frequency:    e.Frequency,
		FileBasename: e.FileBasename,
		FilePath:     e.FilePath,
		Varname:      e.Varname,
		RealmFreqTag: e.RealmFreqTag,
		Model:        e.Model,
		Experiment:   e.Experiment,
		Ensemble:     e.Ensemble,
	}
}

// Info is the JSON form of the build metadata.
type Info struct {
	BuildID      string    `json:"build_id"`
	BuiltAt      time.Time `json:"built_at"`
	ArchiveRoot  string    `json:"archive_root"`
	VersionOrder string    `json:"version_order"`
	EntryCount   int       `json:"entry_count"`
}

// EntriesPage is one page of entries.
type EntriesPage struct {
	Entries       []Entry `json:"entries"`
	NextPageToken string  `json:"next_page_token,omitempty"`
}

// Files lists the paths matching a query.
type Files struct {
	Files []string `json:"files"`
}

// Values lists the distinct values of one field.
type Values struct {
	Field  string   `json:"field"`
	Values []string `json:"values"`
}

// Variable holds the attributes of one variable.
type Variable struct {
	Varname    string        `json:"varname"`
	Realm      *string       `json:"realm,omitempty"`
	Attributes varattrs.Attrs `json:"attributes"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) info(w http.ResponseWriter, r *http.Request) {
	bi, err := h.catalog.Info(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Info{
		BuildID:      bi.BuildID,
		BuiltAt:      bi.BuiltAt,
		ArchiveRoot:  bi.ArchiveRoot,
		VersionOrder: string(bi.VersionOrder),
		EntryCount:   bi.EntryCount,
	})
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entries, err := h.catalog.FindEntries(r.Context(), queryFromRequest(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	window, next := domain.Paginate(entries, page)
	out := EntriesPage{Entries: make([]Entry, len(window)), NextPageToken: next}
	for i, e := range window {
		out.Entries[i] = EntryFromDomain(e)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.catalog.FindFiles(r.Context(), queryFromRequest(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if files == nil {
		files = []string{}
	}
	writeJSON(w, http.StatusOK, Files{Files: files})
}

func (h *Handler) listValues(w http.ResponseWriter, r *http.Request) {
	field := chi.URLParam(r, "field")
	values, err := h.catalog.Values(r.Context(), field)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if values == nil {
		values = []string{}
	}
	writeJSON(w, http.StatusOK, Values{Field: field, Values: values})
}

func (h *Handler) getVariable(w http.ResponseWriter, r *http.Request) {
	varname := chi.URLParam(r, "varname")
	var realm *string
	if v := r.URL.Query().Get(domain.FieldRealm); v != "" {
		realm = &v
	}
	attrs, err := h.lookup(varname, realm)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Variable{Varname: varname, Realm: realm, Attributes: attrs})
}

func (h *Handler) planEnsemble(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	plan, err := h.planner.Plan(r.Context(), ensemble.Request{
		Model:      q.Get(domain.FieldModel),
		Experiment: q.Get(domain.FieldExperiment),
		Frequency:  q.Get(domain.FieldFrequency),
		Varname:    q.Get(domain.FieldVarname),
		Realm:      q.Get(domain.FieldRealm),
		Ensemble:   q.Get(domain.FieldEnsemble),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// queryFromRequest reads the queryable fields from the URL query string.
func queryFromRequest(r *http.Request) domain.Query {
	params := make(map[string]string)
	for key, vals := range r.URL.Query() {
		if len(vals) > 0 {
			params[key] = vals[0]
		}
	}
	return domain.QueryFromMap(params)
}

// pageFromQuery extracts a PageRequest from optional max_results/page_token params.
func pageFromQuery(r *http.Request) (domain.PageRequest, error) {
	q := r.URL.Query()
	p := domain.PageRequest{PageToken: q.Get("page_token")}
	if v := q.Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, domain.ErrValidation("max_results must be a non-negative integer, got %q", v)
		}
		p.MaxResults = n
	}
	return p, nil
}
