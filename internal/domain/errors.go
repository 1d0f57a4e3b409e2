// Package domain defines core types, interfaces, and errors for the archive catalog.
package domain

import (
	"fmt"
	"strings"
)

// NotFoundError indicates a catalog, entry set, or variable was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// AmbiguousError indicates a query resolved to more than one value of a
// field the caller must pin down (e.g. a variable present in several realms).
type AmbiguousError struct {
	Field      string
	Candidates []string
	Message    string
}

func (e *AmbiguousError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrAmbiguousRealm creates an AmbiguousError for a variable found in
// several realms.
func ErrAmbiguousRealm(varname string, realms []string) *AmbiguousError {
	return &AmbiguousError{
		Field:      "realm",
		Candidates: realms,
		Message: fmt.Sprintf("%q found in multiple realms: [%s]; specify the realm to use",
			varname, strings.Join(realms, " ")),
	}
}

// ErrNoCatalog creates the NotFoundError returned by stores that have never
// been written by a build.
func ErrNoCatalog(path string) *NotFoundError {
	return ErrNotFound("no catalog found at %s: run `cmipcat build` first", path)
}
