package engine

import "fmt"

// ValidationError rejects a job before any run is created. Callers map
// it to a client error; the tracker never sees the attempt.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SystemError aborts an entire run: the failure is environmental (store
// down, query failed) rather than tied to one item. The run is marked
// failed with this error.
type SystemError struct {
	Op  string
	Err error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SystemError) Unwrap() error { return e.Err }

func systemErr(op string, err error) error {
	return &SystemError{Op: op, Err: err}
}
