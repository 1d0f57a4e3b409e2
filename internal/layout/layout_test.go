package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const prefix = "/archive/output1/NOAA-GFDL/GFDL-CM3/rcp45/mon/atmos/Amon/r1i1p1"

func TestMatcher_Rules(t *testing.T) {
	tests := []struct {
		name    string
		dir     string
		rule    string
		version string
	}{
		{"dated version leaf", prefix + "/v20120101", "dated-version", "v20120101"},
		{"dated version with varname", prefix + "/v20120101/tas", "dated-version-var", "v20120101"},
		{"varname with dated suffix", prefix + "/latest/tas_20110901", "var-dated-suffix", "v20110901"},
		{"integer version leaf", prefix + "/v2", "int-version", "v2"},
		{"integer version with varname", prefix + "/v1/tas", "int-version-var", "v1"},
		{"ensemble leaf", prefix, "ensemble-leaf", NoVersion},
	}

	m := NewMatcher()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.MatchPath(tt.dir)
			require.True(t, ok)
			assert.Equal(t, tt.rule, got.Rule)
			assert.Equal(t, tt.version, got.Version)
		})
	}
}

func TestMatcher_Offsets(t *testing.T) {
	m := NewMatcher()

	got, ok := m.MatchPath(prefix + "/v20120101")
	require.True(t, ok)
	assert.Equal(t, Match{
		Rule: "dated-version", Version: "v20120101",
		Realm: "atmos", Frequency: "mon", Experiment: "rcp45", Model: "GFDL-CM3",
	}, got)

	got, ok = m.MatchPath(prefix + "/v1/tas")
	require.True(t, ok)
	assert.Equal(t, "atmos", got.Realm)
	assert.Equal(t, "mon", got.Frequency)
	assert.Equal(t, "rcp45", got.Experiment)
	assert.Equal(t, "GFDL-CM3", got.Model)

	got, ok = m.MatchPath(prefix)
	require.True(t, ok)
	assert.Equal(t, "atmos", got.Realm)
	assert.Equal(t, "GFDL-CM3", got.Model)
}

func TestMatcher_FirstMatchWins(t *testing.T) {
	m := NewMatcher()

	// "v20120101" also satisfies the integer-version pattern; the dated rule
	// is earlier and must win.
	got, ok := m.MatchPath(prefix + "/v20120101")
	require.True(t, ok)
	assert.Equal(t, "dated-version", got.Rule)

	// The last component matches the integer-version rule, but the dated
	// rule on the parent is evaluated first.
	got, ok = m.MatchPath(prefix + "/v20120101/v3")
	require.True(t, ok)
	assert.Equal(t, "dated-version-var", got.Rule)
	assert.Equal(t, "v20120101", got.Version)
}

func TestMatcher_Unrecognized(t *testing.T) {
	m := NewMatcher()

	_, ok := m.MatchPath(prefix + "/latest/tas")
	assert.False(t, ok)

	_, ok = m.MatchPath("/archive/output1/NOAA-GFDL/logs")
	assert.False(t, ok)
}

func TestMatcher_TooShallow(t *testing.T) {
	m := NewMatcher()

	// Version marker present but not enough parents for the offsets.
	_, ok := m.MatchPath("/mon/atmos/v1")
	assert.False(t, ok)
}

func TestSplitPath(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitPath("/a//b/c/"))
	assert.Nil(t, SplitPath("/"))
	assert.Equal(t, []string{"dated-version", "dated-version-var", "var-dated-suffix",
		"int-version", "int-version-var", "ensemble-leaf"}, NewMatcher().RuleNames())
}
