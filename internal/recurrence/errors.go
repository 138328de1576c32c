package recurrence

import "fmt"

// ValidationError reports a malformed Rule or Advance. It is returned at
// construction time; values are never clamped into range.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
