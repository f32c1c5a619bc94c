package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the store implementations.
var (
	// ErrNotFound is returned by store lookups that match nothing.
	ErrNotFound = errors.New("not found")

	// ErrIDSpaceExhausted is returned when the ordinal allocator has handed
	// out ZZ9999 and cannot produce another ID. Unrecoverable without
	// operator intervention.
	ErrIDSpaceExhausted = errors.New("maximum ordinal ID reached, ID space full")

	// ErrDuplicateHash is returned when an insert into the canonical ID map
	// trips the hash uniqueness constraint. Under the single writer model
	// this means another writer is running; the pipeline treats it as fatal.
	ErrDuplicateHash = errors.New("duplicate canonical hash")
)

// MalformedRecordError marks a record that cannot enter the ID assignment
// core. It is recoverable: the pipeline skips the record and reports it.
type MalformedRecordError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
	Index  int    `json:"index,omitempty"`
}

// Error implements the error interface
func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record: field '%s': %s", e.Field, e.Reason)
}

// InvariantViolationError marks identifier map corruption: bookkeeping the
// collision logic relies on does not match what the store returned. Never
// recoverable by the caller; the run driver aborts on it.
type InvariantViolationError struct {
	Op     string
	Detail string
}

// Error implements the error interface
func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("identifier map invariant violated in %s: %s", e.Op, e.Detail)
}

// IsMalformed reports whether err is a per-record malformed input error that
// the pipeline may skip.
func IsMalformed(err error) bool {
	var me *MalformedRecordError
	return errors.As(err, &me)
}

// IsInvariantViolation reports whether err indicates identifier map
// corruption that must abort the run.
func IsInvariantViolation(err error) bool {
	var ie *InvariantViolationError
	return errors.As(err, &ie)
}
