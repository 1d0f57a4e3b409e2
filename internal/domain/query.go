package domain

import "fmt"

// Query is a conjunction of exact-match constraints. A nil field imposes no
// constraint.
type Query struct {
	Model      *string
	Experiment *string
	Realm      *string
	Frequency  *string
	Ensemble   *string
	Varname    *string
}

// Constraints returns the specified fields as (column, value) pairs in a
// fixed order.
func (q Query) Constraints() [][2]string {
	var out [][2]string
	add := func(field string, v *string) {
		if v != nil {
			out = append(out, [2]string{field, *v})
		}
	}
	add(FieldModel, q.Model)
	add(FieldExperiment, q.Experiment)
	add(FieldRealm, q.Realm)
	add(FieldFrequency, q.Frequency)
	add(FieldEnsemble, q.Ensemble)
	add(FieldVarname, q.Varname)
	return out
}

// IsEmpty reports whether the query has no constraints.
func (q Query) IsEmpty() bool { return len(q.Constraints()) == 0 }

// Matches reports whether e satisfies every specified constraint.
func (q Query) Matches(e *CatalogEntry) bool {
	for _, c := range q.Constraints() {
		v, ok := e.Field(c[0])
		if !ok || v != c[1] {
			return false
		}
	}
	return true
}

// String renders the full query key, unset fields included, for error
// messages.
func (q Query) String() string {
	show := func(v *string) string {
		if v == nil {
			return "<any>"
		}
		return *v
	}
	return fmt.Sprintf("model=%s experiment=%s realm=%s frequency=%s varname=%s ensemble=%s",
		show(q.Model), show(q.Experiment), show(q.Realm),
		show(q.Frequency), show(q.Varname), show(q.Ensemble))
}

// QueryFromMap builds a Query from column/value pairs, ignoring empty values
// and unknown keys.
func QueryFromMap(m map[string]string) Query {
	var q Query
	set := func(key string) *string {
		if v, ok := m[key]; ok && v != "" {
			return StrPtr(v)
		}
		return nil
	}
	q.Model = set(FieldModel)
	q.Experiment = set(FieldExperiment)
	q.Realm = set(FieldRealm)
	q.Frequency = set(FieldFrequency)
	q.Ensemble = set(FieldEnsemble)
	q.Varname = set(FieldVarname)
	return q
}
