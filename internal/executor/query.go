package executor

import (
	"strings"
	"time"

	"github.com/tuannm99/novaexec/driver"
	"github.com/tuannm99/novaexec/internal/errs"
	"github.com/tuannm99/novaexec/param"
)

// Query is one statement execution request. It is built once and not mutated
// afterwards; the executor works on a copy with defaults applied.
type Query struct {
	SQL string

	// Exactly one of Args or Setter may be set.
	Args   []param.Value
	Setter param.Setter

	// Configure runs on the prepared statement after the settings below.
	Configure func(driver.Stmt) error

	// Zero means "use the executor default".
	FetchSize int
	MaxRows   int
	Timeout   time.Duration

	// Call prepares the statement as a stored-procedure call.
	Call bool
}

// Validate checks builder state. It runs before any resource is acquired.
func (q *Query) Validate() error {
	if q == nil {
		return errs.Config("query", "nil query")
	}
	if strings.TrimSpace(q.SQL) == "" {
		return errs.Config("sql", "empty statement")
	}
	if len(q.Args) > 0 && q.Setter != nil {
		return errs.Config("parameters", "both an argument list and a setter were supplied")
	}
	if q.FetchSize < 0 {
		return errs.Config("fetch size", "%d is negative", q.FetchSize)
	}
	if q.MaxRows < 0 {
		return errs.Config("max rows", "%d is negative", q.MaxRows)
	}
	if q.Timeout < 0 {
		return errs.Config("timeout", "%s is negative", q.Timeout)
	}
	return nil
}

func (q Query) withDefaults(s Settings) *Query {
	if q.FetchSize == 0 {
		q.FetchSize = s.FetchSize
	}
	if q.MaxRows == 0 {
		q.MaxRows = s.MaxRows
	}
	if q.Timeout == 0 {
		q.Timeout = s.Timeout
	}
	return &q
}

// Bind fills b from the query's arguments or setter.
func (q *Query) Bind(b *param.Binder) error {
	if q.Setter != nil {
		return q.Setter(b)
	}
	return b.BindAll(q.Args)
}

// BoundArgs binds into a fresh binder and returns the driver arguments.
func (q *Query) BoundArgs() ([]any, error) {
	b := param.NewBinder(len(q.Args))
	if err := q.Bind(b); err != nil {
		return nil, err
	}
	return b.Args(), nil
}
