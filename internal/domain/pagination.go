package domain

import (
	"encoding/base64"
	"strconv"
)

// DefaultMaxResults is the default page size when none is specified.
const DefaultMaxResults = 500

// MaxMaxResults is the maximum allowed page size.
const MaxMaxResults = 10000

// PageRequest holds pagination parameters for list endpoints.
type PageRequest struct {
	MaxResults int
	PageToken  string // base64-encoded offset
}

// Offset decodes the page token. Malformed tokens restart from zero.
func (p PageRequest) Offset() int {
	if p.PageToken == "" {
		return 0
	}
	raw, err := base64.RawURLEncoding.DecodeString(p.PageToken)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Limit returns the page size clamped to [1, MaxMaxResults].
func (p PageRequest) Limit() int {
	switch {
	case p.MaxResults <= 0:
		return DefaultMaxResults
	case p.MaxResults > MaxMaxResults:
		return MaxMaxResults
	}
	return p.MaxResults
}

// Paginate returns the requested window of items and the token for the next
// window, empty when the window reaches the end.
func Paginate[T any](items []T, p PageRequest) ([]T, string) {
	off, limit := p.Offset(), p.Limit()
	if off >= len(items) {
		return nil, ""
	}
	end := off + limit
	if end >= len(items) {
		return items[off:], ""
	}
	return items[off:end], base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(end)))
}
