// Package ensemble assembles multi-member datasets from catalog queries.
package ensemble

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"cmipcat/internal/dataset"
	"cmipcat/internal/domain"
	"cmipcat/internal/query"
)

// EnsDim is the dimension ensemble members are stacked along.
const EnsDim = "ens"

const defaultWorkers = 4

// Request selects one variable of one model run across ensemble members.
// Realm and Ensemble are optional.
type Request struct {
	Model      string
	Experiment string
	Frequency  string
	Varname    string
	Realm      string
	Ensemble   string
}

// normalized returns r with surrounding whitespace removed from every
// field. Validation and the catalog query both see these values.
func (r Request) normalized() Request {
	for _, f := range []*string{&r.Model, &r.Experiment, &r.Frequency, &r.Varname, &r.Realm, &r.Ensemble} {
		*f = strings.TrimSpace(*f)
	}
	return r
}

func (r Request) validate() error {
	r = r.normalized()
	var missing []string
	for _, f := range []struct{ name, val string }{
		{domain.FieldModel, r.Model},
		{domain.FieldExperiment, r.Experiment},
		{domain.FieldFrequency, r.Frequency},
		{domain.FieldVarname, r.Varname},
	} {
		if f.val == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return domain.ErrValidation("missing required parameter(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

// Query converts the request to a catalog query.
func (r Request) Query() domain.Query {
	r = r.normalized()
	opt := func(s string) *string {
		if s == "" {
			return nil
		}
		return domain.StrPtr(s)
	}
	return domain.Query{
		Model:      domain.StrPtr(r.Model),
		Experiment: domain.StrPtr(r.Experiment),
		Frequency:  domain.StrPtr(r.Frequency),
		Varname:    domain.StrPtr(r.Varname),
		Realm:      opt(r.Realm),
		Ensemble:   opt(r.Ensemble),
	}
}

// Member is one ensemble member and the files holding its time chunks.
type Member struct {
	Ensemble string   `json:"ensemble"`
	Files    []string `json:"files"`
}

// Plan is what Open would load.
type Plan struct {
	Realm   string   `json:"realm"`
	Members []Member `json:"members"`
}

// Labels returns the member identifiers in plan order.
func (p *Plan) Labels() []string {
	out := make([]string, len(p.Members))
	for i, m := range p.Members {
		out[i] = m.Ensemble
	}
	return out
}

// Loader resolves requests against the catalog and reads members through a
// dataset.Reader.
type Loader struct {
	finder  domain.EntryFinder
	reader  dataset.Reader
	logger  *slog.Logger
	workers int
}

// NewLoader creates a Loader.
func NewLoader(finder domain.EntryFinder, reader dataset.Reader, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{finder: finder, reader: reader, logger: logger, workers: defaultWorkers}
}

// WithWorkers bounds how many members are read at once.
func (l *Loader) WithWorkers(n int) *Loader {
	if n > 0 {
		l.workers = n
	}
	return l
}

// Plan resolves req to a realm and a list of members without reading data.
func (l *Loader) Plan(ctx context.Context, req Request) (*Plan, error) {
	req = req.normalized()
	if err := req.validate(); err != nil {
		return nil, err
	}
	q := req.Query()
	entries, err := l.finder.FindEntries(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, domain.ErrNotFound("no catalog entries match %s", q)
	}

	realms := query.Distinct(entries, domain.FieldRealm)
	if len(realms) > 1 {
		return nil, domain.ErrAmbiguousRealm(req.Varname, realms)
	}

	files := make(map[string][]string)
	for i := range entries {
		if entries[i].Ensemble == nil {
			continue
		}
		ens := *entries[i].Ensemble
		files[ens] = append(files[ens], entries[i].FilePath)
	}

	plan := &Plan{Realm: realms[0]}
	for _, ens := range query.Distinct(entries, domain.FieldEnsemble) {
		paths := files[ens]
		slices.Sort(paths)
		plan.Members = append(plan.Members, Member{Ensemble: ens, Files: slices.Compact(paths)})
	}
	if len(plan.Members) == 0 {
		return nil, domain.ErrNotFound("no ensemble members among entries matching %s", q)
	}
	return plan, nil
}

// Open loads every member of req and stacks them along EnsDim, labelled by
// ensemble identifier in order of first appearance in the catalog.
func (l *Loader) Open(ctx context.Context, req Request) (*dataset.Dataset, error) {
	req = req.normalized()
	plan, err := l.Plan(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	members := make([]*dataset.Dataset, len(plan.Members))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, m := range plan.Members {
		g.Go(func() error {
			ds, err := l.reader.OpenMulti(gctx, m.Files)
			if err != nil {
				return err
			}
			members[i] = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ds, err := dataset.Concat(members, EnsDim, plan.Labels())
	if err != nil {
		return nil, err
	}
	l.logger.Info("ensemble loaded",
		"model", req.Model,
		"experiment", req.Experiment,
		"varname", req.Varname,
		"realm", plan.Realm,
		"members", len(members),
		"elapsed", time.Since(start))
	return ds, nil
}
