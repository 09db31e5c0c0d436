// Package faults defines the error categories the station runtime
// distinguishes when deciding how to react to a failure: configuration
// problems require corrected input, distribution problems leave the local
// configuration untouched, and authentication problems flag a compromised
// or misconfigured credential.
package faults

import (
	"errors"
	"fmt"
)

type Category string

const (
	// Configuration covers missing or malformed document keys, wrong value
	// types, and unresolvable worker kinds.
	Configuration Category = "configuration"

	// Distribution covers download or validation failures while adopting a
	// newer versioned configuration file.
	Distribution Category = "distribution"

	// Authentication covers token or fingerprint mismatches on the operator
	// channel. Kept distinct from ordinary step errors so operators can tell
	// a bad credential apart from a transient fault.
	Authentication Category = "authentication"
)

type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Category, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

func Errorf(cat Category, format string, args ...any) *Error {
	return &Error{Category: cat, Err: fmt.Errorf(format, args...)}
}

// Is reports whether any error in err's chain carries the given category.
func Is(err error, cat Category) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Category == cat
}
