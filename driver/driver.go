// Package driver is the seam between novaexec and a concrete database driver.
//
// The engine only talks to these interfaces. Adapters for database/sql and pgx
// live in the sqldriver and pgxdriver sub-packages; tests use an in-memory fake.
package driver

import (
	"context"
	"time"
)

// Source hands out connections. It is the "connection source" collaborator:
// pooling policy belongs to the implementation.
type Source interface {
	Conn(ctx context.Context) (Conn, error)
}

// Preparer creates statements. Both a plain connection and an active
// transaction are preparers.
type Preparer interface {
	Prepare(ctx context.Context, query string) (Stmt, error)
}

// Conn is a single driver connection. Close returns it to its source.
type Conn interface {
	Preparer
	// Begin turns auto-commit off for the connection until Commit or Rollback.
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is a transaction running on one Conn. It does not own the Conn.
type Tx interface {
	Preparer
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Stmt is a prepared statement. Args are positional driver values.
type Stmt interface {
	Query(ctx context.Context, args []any) (Rows, error)
	// Exec returns the number of affected rows, or -1 when the underlying
	// driver cannot report one. The statement still ran in that case.
	Exec(ctx context.Context, args []any) (int64, error)
	Close() error
}

// Column is result-set metadata for one column.
type Column struct {
	Name     string
	TypeName string
}

// Rows is a forward-only cursor over a result set.
type Rows interface {
	Columns() ([]Column, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// ---- optional capabilities ----

// BatchSupporter reports driver metadata about batch execution.
type BatchSupporter interface {
	SupportsBatch() bool
}

// Batcher is implemented by statements that can queue parameter sets and
// send them in one round trip.
type Batcher interface {
	AddBatch(args []any) error
	// ExecBatch sends every queued set and clears the queue. It returns one
	// affected-row count per queued set, in order.
	ExecBatch(ctx context.Context) ([]int64, error)
	ClearBatch()
}

// CallPreparer prepares stored-procedure calls.
type CallPreparer interface {
	PrepareCall(ctx context.Context, query string) (Stmt, error)
}

// WarningReporter exposes non-fatal driver warnings collected by a statement.
type WarningReporter interface {
	Warnings() []error
	ClearWarnings()
}

// FetchSizer accepts a row fetch hint.
type FetchSizer interface {
	SetFetchSize(n int)
}

// Timeouter bounds each execution of a statement.
type Timeouter interface {
	SetQueryTimeout(d time.Duration)
}

// Pinger verifies the source is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SupportsBatch reports whether p advertises batch support.
func SupportsBatch(p Preparer) bool {
	bs, ok := p.(BatchSupporter)
	return ok && bs.SupportsBatch()
}

// ColumnNames flattens column metadata into names.
func ColumnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}
