// Package layout recognizes the directory conventions used inside a CMIP
// archive and extracts the metadata encoded in directory positions.
//
// An archive directory holding data files looks like
//
//	<model>/<experiment>/<frequency>/<realm>/<realm-freq-tag>/<ensemble>[/<version>][/<varname>]
//
// but publishers differ on whether the version directory exists, how it is
// spelled, and whether a per-variable directory sits below it. Each
// convention is a Rule; Match tries them in a fixed order and the first one
// that recognizes the trailing components wins.
package layout

import (
	"path/filepath"
	"regexp"
	"strings"
)

// NoVersion is the version recorded for directories without a version level.
const NoVersion = "v0"

// Match is the metadata extracted from a recognized directory.
type Match struct {
	Rule       string
	Version    string
	Realm      string
	Frequency  string
	Experiment string
	Model      string
}

// Offsets are negative indexes from the end of the component list.
type Offsets struct {
	Realm      int
	Frequency  int
	Experiment int
	Model      int
}

// deepest returns how many trailing components the offsets reach.
func (o Offsets) deepest() int {
	return -min(o.Realm, o.Frequency, o.Experiment, o.Model)
}

// Rule is one layout convention: a pattern searched for in one of the last
// two path components, how to turn that component into a version tag, and
// where the remaining fields sit relative to the end of the path.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	// At is -1 to test the last component, -2 for the one before it.
	At      int
	Version func(component string, m []string) string
	Offsets Offsets
}

func (r *Rule) apply(parts []string) (Match, bool) {
	if len(parts) < r.Offsets.deepest() || len(parts) < -r.At {
		return Match{}, false
	}
	comp := parts[len(parts)+r.At]
	m := r.Pattern.FindStringSubmatch(comp)
	if m == nil {
		return Match{}, false
	}
	at := func(off int) string { return parts[len(parts)+off] }
	return Match{
		Rule:       r.Name,
		Version:    r.Version(comp, m),
		Realm:      at(r.Offsets.Realm),
		Frequency:  at(r.Offsets.Frequency),
		Experiment: at(r.Offsets.Experiment),
		Model:      at(r.Offsets.Model),
	}, true
}

var (
	datedVersion   = regexp.MustCompile(`v\d{4}\d{2}\d{2}`)
	datedSuffix    = regexp.MustCompile(`\w+_(\d{4}\d{2}\d{2})`)
	integerVersion = regexp.MustCompile(`v\d`)
	ensembleMember = regexp.MustCompile(`r\di\dp\d`)

	versionLeaf = Offsets{Realm: -4, Frequency: -5, Experiment: -6, Model: -7}
	versionVar  = Offsets{Realm: -5, Frequency: -6, Experiment: -7, Model: -8}
	ensLeaf     = Offsets{Realm: -3, Frequency: -4, Experiment: -5, Model: -6}
)

func wholeComponent(c string, _ []string) string { return c }

// Rules returns the layout conventions in evaluation order.
func Rules() []Rule {
	return []Rule{
		{
			// .../<ensemble>/v20120101
			Name: "dated-version", Pattern: datedVersion, At: -1,
			Version: wholeComponent, Offsets: versionLeaf,
		},
		{
			// .../<ensemble>/v20120101/<varname>
			Name: "dated-version-var", Pattern: datedVersion, At: -2,
			Version: wholeComponent, Offsets: versionVar,
		},
		{
			// .../<ensemble>/<varname>_20120101
			Name: "var-dated-suffix", Pattern: datedSuffix, At: -1,
			Version: func(_ string, m []string) string { return "v" + m[1] },
			Offsets: versionVar,
		},
		{
			// .../<ensemble>/v1
			Name: "int-version", Pattern: integerVersion, At: -1,
			Version: wholeComponent, Offsets: versionLeaf,
		},
		{
			// .../<ensemble>/v1/<varname>
			Name: "int-version-var", Pattern: integerVersion, At: -2,
			Version: wholeComponent, Offsets: versionVar,
		},
		{
			// .../<ensemble>
			Name: "ensemble-leaf", Pattern: ensembleMember, At: -1,
			Version: func(string, []string) string { return NoVersion }, Offsets: ensLeaf,
		},
	}
}

// Matcher evaluates an ordered rule list.
type Matcher struct {
	rules []Rule
}

// NewMatcher returns a Matcher over the default rules.
func NewMatcher() *Matcher {
	return &Matcher{rules: Rules()}
}

// Match classifies a directory given as path components. It returns the
// result of the first rule that recognizes it, or false when none does.
func (m *Matcher) Match(parts []string) (Match, bool) {
	for i := range m.rules {
		if res, ok := m.rules[i].apply(parts); ok {
			return res, true
		}
	}
	return Match{}, false
}

// MatchPath is Match for a slash- or OS-separated directory path.
func (m *Matcher) MatchPath(dir string) (Match, bool) {
	return m.Match(SplitPath(dir))
}

// RuleNames lists the rule names in evaluation order.
func (m *Matcher) RuleNames() []string {
	names := make([]string, len(m.rules))
	for i, r := range m.rules {
		names[i] = r.Name
	}
	return names
}

// SplitPath splits a cleaned directory path into its non-empty components.
func SplitPath(dir string) []string {
	dir = filepath.ToSlash(filepath.Clean(dir))
	var parts []string
	for _, p := range strings.Split(dir, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
