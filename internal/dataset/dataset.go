// Package dataset holds the in-memory form of gridded model output and the
// operations that combine datasets along a dimension.
package dataset

import (
	"context"
	"fmt"
	"slices"
)

// Reader opens data files. Implemented by NetCDFReader.
type Reader interface {
	// Open reads one file.
	Open(ctx context.Context, path string) (*Dataset, error)
	// OpenMulti reads the time chunks of one logical dataset and joins them
	// along their record (time) dimension, in the order given.
	OpenMulti(ctx context.Context, paths []string) (*Dataset, error)
}

// Dim is a named dimension.
type Dim struct {
	Name string
	Len  int
}

// Variable is an n-dimensional array stored row-major.
type Variable struct {
	Name  string
	Dims  []string
	Shape []int
	Data  []float64
	Attrs map[string]any
}

// Size returns the number of elements implied by Shape.
func (v *Variable) Size() int {
	n := 1
	for _, s := range v.Shape {
		n *= s
	}
	return n
}

// Dataset is a set of variables over shared dimensions.
type Dataset struct {
	Dims      []Dim
	Variables []*Variable
	Attrs     map[string]any
	// Labels holds string coordinates, e.g. ensemble member names for "ens".
	Labels map[string][]string
	// RecordDim names the unlimited dimension, if any.
	RecordDim string
	// Sources lists the files the dataset was read from.
	Sources []string
}

// Var returns the named variable or nil.
func (d *Dataset) Var(name string) *Variable {
	for _, v := range d.Variables {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// Dim returns the named dimension.
func (d *Dataset) Dim(name string) (Dim, bool) {
	for _, dim := range d.Dims {
		if dim.Name == name {
			return dim, true
		}
	}
	return Dim{}, false
}

// Concat stacks datasets along a new leading dimension named dim, one
// position per dataset, with labels as that dimension's coordinate. Every
// dataset must carry the same variables with the same shapes.
func Concat(parts []*Dataset, dim string, labels []string) (*Dataset, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("concat along %q: no datasets", dim)
	}
	if len(labels) != len(parts) {
		return nil, fmt.Errorf("concat along %q: %d labels for %d datasets", dim, len(labels), len(parts))
	}
	first := parts[0]
	if _, exists := first.Dim(dim); exists {
		return nil, fmt.Errorf("concat along %q: dimension already exists", dim)
	}

	out := &Dataset{
		Dims:      append([]Dim{{Name: dim, Len: len(parts)}}, first.Dims...),
		Attrs:     first.Attrs,
		Labels:    map[string][]string{dim: slices.Clone(labels)},
		RecordDim: first.RecordDim,
	}
	for k, v := range first.Labels {
		out.Labels[k] = v
	}
	for _, p := range parts {
		out.Sources = append(out.Sources, p.Sources...)
	}

	for _, v := range first.Variables {
		stacked := &Variable{
			Name:  v.Name,
			Dims:  append([]string{dim}, v.Dims...),
			Shape: append([]int{len(parts)}, v.Shape...),
			Data:  make([]float64, 0, len(parts)*len(v.Data)),
			Attrs: v.Attrs,
		}
		for i, p := range parts {
			pv := p.Var(v.Name)
			if pv == nil {
				return nil, fmt.Errorf("concat along %q: %s missing variable %q", dim, labels[i], v.Name)
			}
			if !slices.Equal(pv.Dims, v.Dims) || !slices.Equal(pv.Shape, v.Shape) {
				return nil, fmt.Errorf("concat along %q: %s has %s%v%v, want %v%v",
					dim, labels[i], v.Name, pv.Dims, pv.Shape, v.Dims, v.Shape)
			}
			stacked.Data = append(stacked.Data, pv.Data...)
		}
		out.Variables = append(out.Variables, stacked)
	}
	return out, nil
}

// ConcatAlong joins datasets along an existing dimension. Variables that do
// not use dim are taken from the first dataset; the others must agree on
// every other axis.
func ConcatAlong(parts []*Dataset, dim string) (*Dataset, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("concat along %q: no datasets", dim)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	first := parts[0]

	total := 0
	for i, p := range parts {
		d, ok := p.Dim(dim)
		if !ok {
			return nil, fmt.Errorf("concat along %q: part %d has no such dimension", dim, i)
		}
		total += d.Len
	}

	out := &Dataset{
		Attrs:     first.Attrs,
		Labels:    first.Labels,
		RecordDim: first.RecordDim,
	}
	for _, d := range first.Dims {
		if d.Name == dim {
			d.Len = total
		}
		out.Dims = append(out.Dims, d)
	}
	for _, p := range parts {
		out.Sources = append(out.Sources, p.Sources...)
	}

	for _, v := range first.Variables {
		axis := slices.Index(v.Dims, dim)
		if axis < 0 {
			out.Variables = append(out.Variables, v)
			continue
		}
		joined, err := joinAxis(parts, v, axis)
		if err != nil {
			return nil, fmt.Errorf("concat along %q: %w", dim, err)
		}
		out.Variables = append(out.Variables, joined)
	}
	return out, nil
}

// joinAxis concatenates the row-major arrays of variable v from every part
// along axis.
func joinAxis(parts []*Dataset, v *Variable, axis int) (*Variable, error) {
	inner := 1
	for _, s := range v.Shape[axis+1:] {
		inner *= s
	}
	outer := 1
	for _, s := range v.Shape[:axis] {
		outer *= s
	}

	vars := make([]*Variable, len(parts))
	length := 0
	for i, p := range parts {
		pv := p.Var(v.Name)
		if pv == nil {
			return nil, fmt.Errorf("part %d missing variable %q", i, v.Name)
		}
		if !slices.Equal(pv.Dims, v.Dims) || !sameExcept(pv.Shape, v.Shape, axis) {
			return nil, fmt.Errorf("part %d: %s has shape %v, want %v", i, v.Name, pv.Shape, v.Shape)
		}
		vars[i] = pv
		length += pv.Shape[axis]
	}

	shape := slices.Clone(v.Shape)
	shape[axis] = length
	data := make([]float64, 0, outer*length*inner)
	for o := 0; o < outer; o++ {
		for _, pv := range vars {
			block := pv.Shape[axis] * inner
			data = append(data, pv.Data[o*block:(o+1)*block]...)
		}
	}
	return &Variable{Name: v.Name, Dims: v.Dims, Shape: shape, Data: data, Attrs: v.Attrs}, nil
}

func sameExcept(a, b []int, axis int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if i != axis && a[i] != b[i] {
			return false
		}
	}
	return true
}
