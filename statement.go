package novaexec

import (
	"context"
	"time"

	"github.com/tuannm99/novaexec/driver"
	"github.com/tuannm99/novaexec/internal/batch"
	"github.com/tuannm99/novaexec/internal/errs"
	"github.com/tuannm99/novaexec/internal/executor"
	"github.com/tuannm99/novaexec/param"
)

// Statement is a fluent builder for one SQL statement. Builder mistakes are
// recorded and reported by the first execution, before anything is acquired.
//
// Each execution works on a snapshot of the builder, so a Statement may be run
// repeatedly; it must not be modified concurrently with an execution.
type Statement struct {
	c   *Client
	q   executor.Query
	err error
}

// Args sets positional parameters. Values are classified by param.Of.
func (s *Statement) Args(args ...any) *Statement {
	vals, err := param.Values(args...)
	if err != nil {
		s.record(err)
		return s
	}
	s.q.Args = vals
	return s
}

// Values sets already classified positional parameters.
func (s *Statement) Values(vals ...param.Value) *Statement {
	s.q.Args = vals
	return s
}

// Setter binds parameters through fn instead of an argument list.
func (s *Statement) Setter(fn param.Setter) *Statement {
	s.q.Setter = fn
	return s
}

func (s *Statement) FetchSize(n int) *Statement {
	s.q.FetchSize = n
	return s
}

// MaxRows stops reading after n rows. Zero means no limit.
func (s *Statement) MaxRows(n int) *Statement {
	s.q.MaxRows = n
	return s
}

func (s *Statement) Timeout(d time.Duration) *Statement {
	s.q.Timeout = d
	return s
}

// Configure runs fn on the prepared statement before execution, for driver
// specific settings.
func (s *Statement) Configure(fn func(driver.Stmt) error) *Statement {
	s.q.Configure = fn
	return s
}

// SQLText is the statement text.
func (s *Statement) SQLText() string { return s.q.SQL }

func (s *Statement) record(err error) {
	if s.err == nil {
		s.err = err
	}
}

func (s *Statement) build() (*executor.Query, error) {
	if s == nil || s.c == nil {
		return nil, errs.Config("statement", "not created by a client")
	}
	if s.err != nil {
		return nil, s.err
	}
	if err := s.c.checkOpen(); err != nil {
		return nil, err
	}
	q := s.q
	q.Args = append([]param.Value(nil), s.q.Args...)
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return &q, nil
}

// Update executes a statement that returns no rows and reports the number of
// affected rows.
func (s *Statement) Update(ctx context.Context) (int64, error) {
	q, err := s.build()
	if err != nil {
		return 0, err
	}
	return executor.Update(ctx, s.c.exec, q)
}

// UpdateBatch executes the statement once per argument list. batchSize <= 0
// uses the client's default.
func (s *Statement) UpdateBatch(ctx context.Context, sets [][]any, batchSize int) ([]int64, error) {
	return UpdateBatchFunc(ctx, s, sets, batch.Positional, batchSize)
}

// Call executes a stored procedure and reports whether it produced a result
// set.
func (s *Statement) Call(ctx context.Context) (bool, error) {
	q, err := s.build()
	if err != nil {
		return false, err
	}
	return executor.Call(ctx, s.c.exec, q)
}
