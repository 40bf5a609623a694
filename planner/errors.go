package planner

import "fmt"

// BindError is a planning-time error: unknown or generated columns,
// duplicate assignments, or an invalid update target. Bind errors abort
// planning.
type BindError struct {
	Msg string
}

func (e *BindError) Error() string { return "binder error: " + e.Msg }

func bindErrorf(format string, args ...any) *BindError {
	return &BindError{Msg: fmt.Sprintf(format, args...)}
}
