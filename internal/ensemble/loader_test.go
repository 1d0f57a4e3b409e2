package ensemble

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmipcat/internal/dataset"
	"cmipcat/internal/domain"
	"cmipcat/internal/query"
)

type indexFinder struct{ idx *query.Index }

func (f indexFinder) FindEntries(_ context.Context, q domain.Query) ([]domain.CatalogEntry, error) {
	return f.idx.FindEntries(q), nil
}

func (f indexFinder) FindFiles(_ context.Context, q domain.Query) ([]string, error) {
	return f.idx.FindFiles(q), nil
}

func row(realm, varname, ens, file string) domain.CatalogEntry {
	return domain.CatalogEntry{
		Version: "v1", Realm: realm, Frequency: "mon",
		FileBasename: file, FilePath: "/archive/" + realm + "/" + file,
		Varname: domain.StrPtr(varname), RealmFreqTag: domain.StrPtr("Amon"),
		Model: domain.StrPtr("M"), Experiment: domain.StrPtr("E"),
		Ensemble: domain.StrPtr(ens),
	}
}

func finder(entries ...domain.CatalogEntry) indexFinder {
	return indexFinder{query.NewIndex(&domain.CatalogTable{Entries: entries})}
}

// fakeReader returns a one-variable dataset whose single value is the
// number of files it was given.
type fakeReader struct {
	mu    sync.Mutex
	calls [][]string
	fail  string
}

func (r *fakeReader) Open(ctx context.Context, path string) (*dataset.Dataset, error) {
	return r.OpenMulti(ctx, []string{path})
}

func (r *fakeReader) OpenMulti(_ context.Context, paths []string) (*dataset.Dataset, error) {
	r.mu.Lock()
	r.calls = append(r.calls, paths)
	r.mu.Unlock()
	for _, p := range paths {
		if r.fail != "" && strings.Contains(p, r.fail) {
			return nil, errors.New("corrupt file " + filepath.Base(p))
		}
	}
	return &dataset.Dataset{
		Dims: []dataset.Dim{{Name: "time", Len: 1}},
		Variables: []*dataset.Variable{
			{Name: "tas", Dims: []string{"time"}, Shape: []int{1}, Data: []float64{float64(len(paths))}},
		},
		Sources: paths,
	}, nil
}

var tasReq = Request{Model: "M", Experiment: "E", Frequency: "mon", Varname: "tas"}

func newLoader(f domain.EntryFinder, r dataset.Reader) *Loader {
	return NewLoader(f, r, slog.New(slog.DiscardHandler)).WithWorkers(2)
}

func TestOpen_StacksMembersInFirstAppearanceOrder(t *testing.T) {
	f := finder(
		row("atmos", "tas", "r2i1p1", "tas_r2_b.nc"),
		row("atmos", "tas", "r1i1p1", "tas_r1_a.nc"),
		row("atmos", "tas", "r2i1p1", "tas_r2_a.nc"),
		row("atmos", "pr", "r1i1p1", "pr_r1_a.nc"),
	)
	r := &fakeReader{}

	ds, err := newLoader(f, r).Open(context.Background(), tasReq)
	require.NoError(t, err)

	assert.Equal(t, []string{"r2i1p1", "r1i1p1"}, ds.Labels[EnsDim])
	tas := ds.Var("tas")
	require.NotNil(t, tas)
	assert.Equal(t, []string{EnsDim, "time"}, tas.Dims)
	assert.Equal(t, []float64{2, 1}, tas.Data)
	assert.Equal(t, []string{
		"/archive/atmos/tas_r2_a.nc", "/archive/atmos/tas_r2_b.nc", "/archive/atmos/tas_r1_a.nc",
	}, ds.Sources)
	assert.Len(t, r.calls, 2)
}

func TestOpen_AmbiguousRealm(t *testing.T) {
	f := finder(
		row("atmos", "tas", "r1i1p1", "tas_a.nc"),
		row("ocean", "tas", "r1i1p1", "tas_o.nc"),
	)
	l := newLoader(f, &fakeReader{})

	_, err := l.Open(context.Background(), tasReq)
	var amb *domain.AmbiguousError
	require.ErrorAs(t, err, &amb)
	assert.Equal(t, "realm", amb.Field)
	assert.Equal(t, []string{"atmos", "ocean"}, amb.Candidates)
	assert.Contains(t, amb.Error(), "atmos")
	assert.Contains(t, amb.Error(), "ocean")

	req := tasReq
	req.Realm = "atmos"
	ds, err := l.Open(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1i1p1"}, ds.Labels[EnsDim])
}

func TestOpen_NotFoundEchoesQuery(t *testing.T) {
	l := newLoader(finder(row("atmos", "tas", "r1i1p1", "tas.nc")), &fakeReader{})

	req := Request{Model: "NoSuchModel", Experiment: "E", Frequency: "mon", Varname: "tas", Ensemble: "r9i1p1"}
	_, err := l.Open(context.Background(), req)

	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	for _, want := range []string{
		"model=NoSuchModel", "experiment=E", "realm=<any>", "frequency=mon", "varname=tas", "ensemble=r9i1p1",
	} {
		assert.Contains(t, nf.Message, want)
	}
}

func TestOpen_Validation(t *testing.T) {
	l := newLoader(finder(), &fakeReader{})

	_, err := l.Open(context.Background(), Request{Model: "M", Varname: "tas"})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Message, "experiment")
	assert.Contains(t, ve.Message, "frequency")
}

func TestPlan_TrimsRequestFields(t *testing.T) {
	f := finder(
		row("atmos", "tas", "r1i1p1", "tas_r1.nc"),
		row("atmos", "tas", "r2i1p1", "tas_r2.nc"),
	)
	req := Request{Model: " M ", Experiment: "E\t", Frequency: " mon", Varname: "tas ", Realm: " atmos ", Ensemble: " r2i1p1"}

	plan, err := newLoader(f, &fakeReader{}).Plan(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "atmos", plan.Realm)
	assert.Equal(t, []string{"r2i1p1"}, plan.Labels())

	q := req.Query()
	assert.Equal(t, "M", *q.Model)
	assert.Equal(t, "r2i1p1", *q.Ensemble)

	_, err = newLoader(f, &fakeReader{}).Plan(context.Background(), Request{Model: "M", Experiment: "  ", Frequency: "mon", Varname: "tas"})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Message, "experiment")

	// A whitespace-only optional field imposes no constraint.
	q = Request{Model: "M", Experiment: "E", Frequency: "mon", Varname: "tas", Realm: "  "}.Query()
	assert.Nil(t, q.Realm)
}

func TestOpen_ReaderErrorReturnedUnchanged(t *testing.T) {
	f := finder(
		row("atmos", "tas", "r1i1p1", "tas_r1.nc"),
		row("atmos", "tas", "r2i1p1", "tas_r2.nc"),
	)
	_, err := newLoader(f, &fakeReader{fail: "tas_r2"}).Open(context.Background(), tasReq)
	require.Error(t, err)
	assert.Equal(t, "corrupt file tas_r2.nc", err.Error())
}

func TestPlan(t *testing.T) {
	f := finder(
		row("atmos", "tas", "r1i1p1", "tas_2.nc"),
		row("atmos", "tas", "r1i1p1", "tas_1.nc"),
	)
	plan, err := newLoader(f, &fakeReader{}).Plan(context.Background(), tasReq)
	require.NoError(t, err)

	assert.Equal(t, "atmos", plan.Realm)
	require.Len(t, plan.Members, 1)
	assert.Equal(t, []string{"/archive/atmos/tas_1.nc", "/archive/atmos/tas_2.nc"}, plan.Members[0].Files)
	assert.Equal(t, []string{"r1i1p1"}, plan.Labels())
}

func TestOpen_NetCDFMembers(t *testing.T) {
	dir := t.TempDir()
	var entries []domain.CatalogEntry
	for _, ens := range []string{"r1i1p1", "r2i1p1"} {
		for i, chunk := range []string{"200601-200601", "200602-200602"} {
			name := "tas_Amon_M_E_" + ens + "_" + chunk + ".nc"
			path := filepath.Join(dir, name)
			require.NoError(t, dataset.WriteNetCDF(path, &dataset.Dataset{
				Dims: []dataset.Dim{{Name: "time", Len: 1}, {Name: "lat", Len: 2}},
				Variables: []*dataset.Variable{{
					Name: "tas", Dims: []string{"time", "lat"}, Shape: []int{1, 2},
					Data: []float64{float64(i), float64(i) + 0.5},
				}},
			}))
			e := row("atmos", "tas", ens, name)
			e.FilePath = path
			entries = append(entries, e)
		}
	}

	l := NewLoader(finder(entries...), dataset.NewNetCDFReader(), slog.New(slog.DiscardHandler))
	ds, err := l.Open(context.Background(), tasReq)
	require.NoError(t, err)

	tas := ds.Var("tas")
	require.NotNil(t, tas)
	assert.Equal(t, []int{2, 2, 2}, tas.Shape)
	assert.Equal(t, []float64{0, 0.5, 1, 1.5, 0, 0.5, 1, 1.5}, tas.Data)
}
