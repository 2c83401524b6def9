package mapping

import (
	"errors"
	"fmt"
)

// Error is a mapping failure. It fails the single target node it occurred
// on and never aborts sibling nodes.
type Error struct {
	Param  string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("mapping: %s", e.Reason)
	if e.Param != "" {
		msg = fmt.Sprintf("mapping parameter %q: %s", e.Param, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// errNoValue signals that a mapping legitimately produced nothing (optional
// parameter, empty upstream) and the caller should fall back to defaults.
var errNoValue = errors.New("mapping produced no value")

// IsNoValue reports whether err means "no value produced" rather than a failure.
func IsNoValue(err error) bool { return errors.Is(err, errNoValue) }
