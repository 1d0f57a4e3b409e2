package dataset

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/ctessum/cdf"
)

// DefaultTimeDim is joined on by OpenMulti when files have no record
// dimension.
const DefaultTimeDim = "time"

// NetCDFReader reads NetCDF classic (CDF-1/CDF-2) files. Numeric variables
// are loaded as float64 with fill values mapped to NaN; character variables
// are skipped.
type NetCDFReader struct {
	// TimeDim overrides the join dimension used when files have no record
	// dimension.
	TimeDim string
}

var _ Reader = (*NetCDFReader)(nil)

// NewNetCDFReader returns a reader joining on the record dimension, or
// DefaultTimeDim.
func NewNetCDFReader() *NetCDFReader {
	return &NetCDFReader{TimeDim: DefaultTimeDim}
}

// Open reads the whole of one file.
func (r *NetCDFReader) Open(ctx context.Context, path string) (*Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	nc, err := cdf.Open(f)
	if err != nil {
		return nil, fmt.Errorf("read netcdf header %s: %w", path, err)
	}

	ds, err := decode(nc, fi.Size())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	ds.Sources = []string{path}
	return ds, nil
}

// OpenMulti reads every path and joins them in order.
func (r *NetCDFReader) OpenMulti(ctx context.Context, paths []string) (*Dataset, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("open multi: no files")
	}
	parts := make([]*Dataset, 0, len(paths))
	for _, p := range paths {
		ds, err := r.Open(ctx, p)
		if err != nil {
			return nil, err
		}
		parts = append(parts, ds)
	}

	dim := parts[0].RecordDim
	if dim == "" {
		dim = r.TimeDim
		if dim == "" {
			dim = DefaultTimeDim
		}
	}
	return ConcatAlong(parts, dim)
}

func decode(nc *cdf.File, fileSize int64) (*Dataset, error) {
	h := nc.Header
	numRecs := int(h.NumRecs(fileSize))

	ds := &Dataset{Attrs: readAttrs(h, "")}
	names := h.Dimensions("")
	for i, n := range h.Lengths("") {
		if n == 0 {
			ds.RecordDim = names[i]
			n = numRecs
		}
		ds.Dims = append(ds.Dims, Dim{Name: names[i], Len: n})
		if lbl, ok := ds.Attrs[names[i]+"_labels"].(string); ok {
			if ds.Labels == nil {
				ds.Labels = make(map[string][]string)
			}
			ds.Labels[names[i]] = strings.Fields(lbl)
			delete(ds.Attrs, names[i]+"_labels")
		}
	}

	for _, name := range h.Variables() {
		if _, isText := h.ZeroValue(name, 0).(string); isText {
			continue
		}
		v, err := readVariable(nc, name, numRecs)
		if err != nil {
			return nil, err
		}
		ds.Variables = append(ds.Variables, v)
	}
	return ds, nil
}

func readVariable(nc *cdf.File, name string, numRecs int) (*Variable, error) {
	h := nc.Header
	shape := append([]int(nil), h.Lengths(name)...)
	v := &Variable{
		Name:  name,
		Dims:  h.Dimensions(name),
		Shape: shape,
		Attrs: readAttrs(h, name),
	}

	var end []int
	if h.IsRecordVariable(name) {
		shape[0] = numRecs
		end = make([]int, len(shape))
		for i, n := range shape {
			end[i] = n - 1
		}
	}
	n := v.Size()
	if n == 0 {
		v.Data = []float64{}
		return v, nil
	}

	buf := h.ZeroValue(name, n)
	if _, err := nc.Reader(name, nil, end).Read(buf); err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	v.Data = toFloat64(buf)
	maskFill(v.Data, v.Attrs)
	return v, nil
}

func toFloat64(buf any) []float64 {
	switch b := buf.(type) {
	case []float64:
		return b
	case []float32:
		out := make([]float64, len(b))
		for i, x := range b {
			out[i] = float64(x)
		}
		return out
	case []int32:
		out := make([]float64, len(b))
		for i, x := range b {
			out[i] = float64(x)
		}
		return out
	case []int16:
		out := make([]float64, len(b))
		for i, x := range b {
			out[i] = float64(x)
		}
		return out
	case []uint8:
		out := make([]float64, len(b))
		for i, x := range b {
			out[i] = float64(int8(x))
		}
		return out
	}
	return nil
}

// maskFill replaces _FillValue and missing_value entries with NaN.
func maskFill(data []float64, attrs map[string]any) {
	for _, key := range []string{"_FillValue", "missing_value"} {
		fill, ok := attrs[key].(float64)
		if !ok {
			continue
		}
		for i, x := range data {
			if x == fill {
				data[i] = math.NaN()
			}
		}
	}
}

// readAttrs converts attributes of variable v (global when v is empty).
// Single-element numeric attributes become scalars.
func readAttrs(h *cdf.Header, v string) map[string]any {
	names := h.Attributes(v)
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]any, len(names))
	for _, a := range names {
		switch val := h.GetAttribute(v, a).(type) {
		case string:
			out[a] = val
		case nil:
		default:
			nums := toFloat64(val)
			if len(nums) == 1 {
				out[a] = nums[0]
			} else {
				out[a] = nums
			}
		}
	}
	return out
}

// WriteNetCDF writes ds to path as a classic NetCDF file with every
// variable stored as DOUBLE. Label coordinates are written as the global
// attribute "<dim>_labels", space separated, and read back into Labels.
func WriteNetCDF(path string, ds *Dataset) (err error) {
	names := make([]string, len(ds.Dims))
	lengths := make([]int, len(ds.Dims))
	for i, d := range ds.Dims {
		if d.Len == 0 {
			return fmt.Errorf("write %s: dimension %q is empty", path, d.Name)
		}
		names[i], lengths[i] = d.Name, d.Len
	}

	h := cdf.NewHeader(names, lengths)
	writeAttrs(h, "", ds.Attrs)
	labelDims := make([]string, 0, len(ds.Labels))
	for dim := range ds.Labels {
		labelDims = append(labelDims, dim)
	}
	sort.Strings(labelDims)
	for _, dim := range labelDims {
		h.AddAttribute("", dim+"_labels", strings.Join(ds.Labels[dim], " "))
	}
	for _, v := range ds.Variables {
		h.AddVariable(v.Name, v.Dims, []float64{0})
		writeAttrs(h, v.Name, v.Attrs)
	}
	h.Define()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	nc, err := cdf.Create(f, h)
	if err != nil {
		return fmt.Errorf("write header %s: %w", path, err)
	}
	for _, v := range ds.Variables {
		if len(v.Data) == 0 {
			continue
		}
		if _, err := nc.Writer(v.Name, nil, nil).Write(v.Data); err != nil {
			return fmt.Errorf("write variable %s: %w", v.Name, err)
		}
	}
	return cdf.UpdateNumRecs(f)
}

func writeAttrs(h *cdf.Header, v string, attrs map[string]any) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch val := attrs[k].(type) {
		case string:
			h.AddAttribute(v, k, val)
		case float64:
			h.AddAttribute(v, k, []float64{val})
		case []float64:
			h.AddAttribute(v, k, val)
		case int:
			h.AddAttribute(v, k, []int32{int32(val)})
		}
	}
}
