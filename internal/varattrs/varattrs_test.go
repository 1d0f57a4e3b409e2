package varattrs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmipcat/internal/domain"
)

const table = `
atmos:
  tas:
    long_name: Near-Surface Air Temperature
    units: K
  pr:
    long_name: Precipitation
    units: kg m-2 s-1
ocean:
  tos:
    long_name: Sea Surface Temperature
    units: K
  tas:
    long_name: Ocean-side Air Temperature
    units: degC
land:
  empty: {}
`

func writeTable(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cmip5_variables.yml")
	require.NoError(t, os.WriteFile(p, []byte(table), 0o644))
	return p
}

func TestLookup(t *testing.T) {
	path := writeTable(t)

	tests := []struct {
		name    string
		varname string
		realm   *string
		units   string
	}{
		{"scoped", "tas", domain.StrPtr("atmos"), "K"},
		{"scoped other realm", "tas", domain.StrPtr("ocean"), "degC"},
		{"unscoped last realm wins", "tas", nil, "degC"},
		{"unscoped unique", "pr", nil, "kg m-2 s-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs, err := Lookup(path, tt.varname, tt.realm)
			require.NoError(t, err)
			assert.Equal(t, tt.units, attrs["units"])
		})
	}
}

func TestLookup_Errors(t *testing.T) {
	path := writeTable(t)
	var nf *domain.NotFoundError

	_, err := Lookup(path, "zg", nil)
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, `"zg" variable not found`, nf.Message)

	_, err = Lookup(path, "tos", domain.StrPtr("atmos"))
	require.ErrorAs(t, err, &nf)

	_, err = Lookup(path, "empty", nil)
	require.ErrorAs(t, err, &nf)

	_, err = Lookup(path, "tas", domain.StrPtr("seaIce"))
	require.ErrorAs(t, err, &nf)
	assert.Contains(t, nf.Message, "seaIce")

	var ve *domain.ValidationError
	_, err = Lookup(path, "", nil)
	require.ErrorAs(t, err, &ve)

	_, err = Lookup(filepath.Join(t.TempDir(), "missing.yml"), "tas", nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParse(t *testing.T) {
	tbl, err := Parse([]byte(table))
	require.NoError(t, err)
	assert.Equal(t, []string{"atmos", "ocean", "land"}, tbl.Realms())

	_, err = Parse([]byte("- just\n- a list\n"))
	assert.Error(t, err)

	empty, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Realms())
}
