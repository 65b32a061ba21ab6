package errs

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration     = errors.New("novaexec: invalid configuration")
	ErrTxDone            = errors.New("novaexec: transaction has already been committed or rolled back")
	ErrAlreadySubscribed = errors.New("novaexec: publisher supports a single subscription")
	ErrClosed            = errors.New("novaexec: closed")
	ErrNoRows            = errors.New("novaexec: no rows in result set")
)

// ConfigError reports invalid builder or engine state. It is raised before any
// resource is acquired.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("novaexec: invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// Config builds a *ConfigError.
func Config(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DriverError is the single error a caller sees for a failed execution.
// Cause is the innermost error of the chain; Unwrap still exposes the whole
// chain to errors.Is and errors.As.
type DriverError struct {
	Op    string
	SQL   string
	Cause error
	Err   error
}

func (e *DriverError) Error() string {
	if e.SQL == "" {
		return fmt.Sprintf("novaexec: %s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("novaexec: %s %q: %v", e.Op, abbreviate(e.SQL), e.Cause)
}

func (e *DriverError) Unwrap() error { return e.Err }

// Driver wraps err as a *DriverError. Errors that already carry a
// classification (driver or configuration) are returned unchanged.
func Driver(op, sql string, err error) error {
	if err == nil {
		return nil
	}
	var de *DriverError
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, ErrConfiguration) {
		return err
	}
	return &DriverError{Op: op, SQL: sql, Cause: MostSpecific(err), Err: err}
}

// MostSpecific follows the wrap chain down to its innermost error. For joined
// errors the first branch is followed.
func MostSpecific(err error) error {
	for err != nil {
		var next error
		switch x := err.(type) {
		case interface{ Unwrap() error }:
			next = x.Unwrap()
		case interface{ Unwrap() []error }:
			if list := x.Unwrap(); len(list) > 0 {
				next = list[0]
			}
		}
		if next == nil {
			return err
		}
		err = next
	}
	return nil
}

// LifecycleError is a failure while releasing a resource. It is logged, never
// returned in place of a primary result or error.
type LifecycleError struct {
	Resource string
	Err      error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("novaexec: release %s: %v", e.Resource, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }

func abbreviate(sql string) string {
	const max = 120
	if len(sql) <= max {
		return sql
	}
	return sql[:max] + "..."
}
