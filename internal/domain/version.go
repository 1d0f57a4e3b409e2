package domain

import (
	"strings"
)

// VersionOrder selects how version tags are ranked when the builder keeps
// the newest copy of each file.
type VersionOrder string

const (
	// VersionOrderLexical ranks versions by plain string comparison. It keeps
	// the persisted table compatible with earlier catalogs but ranks "v10"
	// below "v2".
	VersionOrderLexical VersionOrder = "lexical"
	// VersionOrderNatural compares runs of digits by numeric value.
	VersionOrderNatural VersionOrder = "natural"
)

// ParseVersionOrder validates a version order name. Empty means lexical.
func ParseVersionOrder(s string) (VersionOrder, error) {
	switch VersionOrder(strings.ToLower(strings.TrimSpace(s))) {
	case "", VersionOrderLexical:
		return VersionOrderLexical, nil
	case VersionOrderNatural:
		return VersionOrderNatural, nil
	}
	return "", ErrValidation("invalid version order %q: use %q or %q", s, VersionOrderLexical, VersionOrderNatural)
}

// Compare returns -1, 0 or +1 ordering a before, equal to, or after b.
func (o VersionOrder) Compare(a, b string) int {
	if o == VersionOrderNatural {
		return naturalCompare(a, b)
	}
	return strings.Compare(a, b)
}

// naturalCompare compares strings piecewise, treating maximal digit runs as
// unsigned integers of arbitrary length. Ties on value fall back to the
// plain comparison so that "v01" and "v1" still order deterministically.
func naturalCompare(a, b string) int {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]
		if isDigit(ca) && isDigit(cb) {
			si := i
			for i < len(a) && isDigit(a[i]) {
				i++
			}
			sj := j
			for j < len(b) && isDigit(b[j]) {
				j++
			}
			na := strings.TrimLeft(a[si:i], "0")
			nb := strings.TrimLeft(b[sj:j], "0")
			if len(na) != len(nb) {
				if len(na) < len(nb) {
					return -1
				}
				return 1
			}
			if c := strings.Compare(na, nb); c != 0 {
				return c
			}
			continue
		}
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
		i++
		j++
	}
	switch {
	case i < len(a):
		return 1
	case j < len(b):
		return -1
	}
	return strings.Compare(a, b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
