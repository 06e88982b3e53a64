// Package sequence issues unique, human-readable document numbers
// scoped by prefix and period key (year-month).
package sequence

import (
	"errors"
	"time"
)

// DefaultWidth is the zero-padded width of the numeric suffix.
const DefaultWidth = 6

var (
	// ErrInvalidKey indicates an empty prefix or period key.
	ErrInvalidKey = errors.New("sequence: prefix and period key required")
	// ErrDuplicateNumber indicates a generated number collided with an
	// existing document. The counter table makes this unreachable in
	// normal operation; unique indexes on document tables backstop it.
	ErrDuplicateNumber = errors.New("sequence: duplicate document number")
)

// PeriodKey formats t as the yyyymm period key used by document numbering.
func PeriodKey(t time.Time) string {
	return t.Format("200601")
}
