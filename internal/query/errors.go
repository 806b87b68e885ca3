package query

import (
	"errors"
	"fmt"
)

// ErrNoData is returned when the store holds no snapshots at all.
var ErrNoData = errors.New("no ranking data available")

// ErrNotFound is returned when a valid query matches zero rows.
var ErrNotFound = errors.New("not found")

// ValidationError rejects an out-of-range query parameter before the store
// is touched. Values are rejected, never clamped.
type ValidationError struct {
	Param string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Msg)
}

func validationErrorf(param, format string, args ...interface{}) error {
	return &ValidationError{Param: param, Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a parameter validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
