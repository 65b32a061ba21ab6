package executor

import (
	"context"
	"errors"
	"sync"

	"github.com/tuannm99/novaexec/driver"
	"github.com/tuannm99/novaexec/internal/errs"
	"github.com/tuannm99/novaexec/internal/scope"
	"github.com/tuannm99/novaexec/rowmap"
)

var _ rowmap.Cursor = (*Cursor)(nil)

// Cursor ties driver rows to the lease that owns them. It caches column
// metadata and stops after MaxRows rows.
type Cursor struct {
	rows    driver.Rows
	lease   *scope.Lease
	sql     string
	maxRows int
	seen    int
	done    bool
	err     error

	colsOnce sync.Once
	cols     []driver.Column
	colsErr  error
}

func (c *Cursor) Next() bool {
	if c.done {
		return false
	}
	if c.maxRows > 0 && c.seen >= c.maxRows {
		c.done = true
		return false
	}
	if !c.rows.Next() {
		c.done = true
		if err := c.rows.Err(); err != nil {
			c.err = errs.Driver("fetch", c.sql, err)
		}
		return false
	}
	c.seen++
	return true
}

func (c *Cursor) Columns() ([]driver.Column, error) {
	c.colsOnce.Do(func() {
		c.cols, c.colsErr = c.rows.Columns()
	})
	return c.cols, c.colsErr
}

func (c *Cursor) Scan(dest ...any) error { return c.rows.Scan(dest...) }

// Err is the driver error that ended iteration, if any.
func (c *Cursor) Err() error { return c.err }

// Done reports whether the cursor reached its end or its row limit.
func (c *Cursor) Done() bool { return c.done }

// Rows is the number of rows advanced over so far.
func (c *Cursor) Rows() int { return c.seen }

// SQL is the statement text, for error context.
func (c *Cursor) SQL() string { return c.sql }

// Release frees cursor, statement and connection. Idempotent.
func (c *Cursor) Release() { c.lease.Release() }

// Released reports whether the resources were freed.
func (c *Cursor) Released() bool { return c.lease.Released() }

// Open executes q and returns a cursor that owns every resource it needed.
// The caller must Release it.
func Open(ctx context.Context, e *Executor, q *Query, strategy string) (*Cursor, error) {
	c, _, err := Run(ctx, e, q, strategy, PrepareStatement, openBody, false)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func openBody(ctx context.Context, stmt driver.Stmt, q *Query, lease *scope.Lease) (*Cursor, error) {
	args, err := q.BoundArgs()
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(ctx, args)
	if err != nil {
		return nil, err
	}
	lease.SetRows(rows)
	return &Cursor{rows: rows, lease: lease, sql: q.SQL, maxRows: q.MaxRows}, nil
}

// Extract opens a cursor, hands it to fn and releases it before returning.
func Extract[T any](ctx context.Context, e *Executor, q *Query, strategy string, fn func(*Cursor) (T, error)) (T, error) {
	var zero T
	c, err := Open(ctx, e, q, strategy)
	if err != nil {
		return zero, err
	}
	defer c.Release()

	v, err := fn(c)
	if errors.Is(err, errs.ErrNoRows) {
		return zero, err
	}
	if err != nil {
		return zero, errs.Driver("fetch", q.SQL, err)
	}
	if err := c.Err(); err != nil {
		return zero, err
	}
	return v, nil
}

// Update runs a statement that does not return rows.
func Update(ctx context.Context, e *Executor, q *Query) (int64, error) {
	n, _, err := Run(ctx, e, q, StrategyUpdate, PrepareStatement,
		func(ctx context.Context, stmt driver.Stmt, q *Query, _ *scope.Lease) (int64, error) {
			args, err := q.BoundArgs()
			if err != nil {
				return 0, err
			}
			return stmt.Exec(ctx, args)
		}, true)
	return n, err
}

// Call runs a stored procedure and reports whether it produced a result set.
func Call(ctx context.Context, e *Executor, q *Query) (bool, error) {
	cq := *q
	cq.Call = true
	has, _, err := Run(ctx, e, &cq, StrategyCall, PrepareStatement,
		func(ctx context.Context, stmt driver.Stmt, q *Query, lease *scope.Lease) (bool, error) {
			args, err := q.BoundArgs()
			if err != nil {
				return false, err
			}
			rows, err := stmt.Query(ctx, args)
			if err != nil {
				return false, err
			}
			lease.SetRows(rows)
			cols, err := rows.Columns()
			if err != nil {
				return false, err
			}
			return len(cols) > 0, nil
		}, true)
	return has, err
}
