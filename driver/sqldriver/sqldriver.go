// Package sqldriver adapts database/sql to the novaexec driver seam.
package sqldriver

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/tuannm99/novaexec/driver"
)

var (
	_ driver.Source         = (*Source)(nil)
	_ driver.Pinger         = (*Source)(nil)
	_ driver.Conn           = (*conn)(nil)
	_ driver.BatchSupporter = (*conn)(nil)
	_ driver.Tx             = (*tx)(nil)
	_ driver.Stmt           = (*stmt)(nil)
	_ driver.Timeouter      = (*stmt)(nil)
	_ driver.Rows           = (*rows)(nil)
)

// Source hands out dedicated *sql.Conn values from a *sql.DB.
type Source struct {
	db *sql.DB
}

// New wraps an existing pool. The caller keeps ownership of db.
func New(db *sql.DB) *Source {
	return &Source{db: db}
}

// Open opens a database/sql pool for a registered driver name.
func Open(driverName, dsn string) (*Source, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqldriver: open %s: %w", driverName, err)
	}
	return &Source{db: db}, nil
}

// DB returns the underlying pool.
func (s *Source) DB() *sql.DB { return s.db }

func (s *Source) Conn(ctx context.Context) (driver.Conn, error) {
	c, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &conn{c: c}, nil
}

func (s *Source) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Source) Close() error { return s.db.Close() }

type conn struct {
	c *sql.Conn
}

func (c *conn) Prepare(ctx context.Context, query string) (driver.Stmt, error) {
	st, err := c.c.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &stmt{s: st}, nil
}

func (c *conn) Begin(ctx context.Context) (driver.Tx, error) {
	t, err := c.c.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &tx{t: t}, nil
}

// SupportsBatch is always false: database/sql has no batch API, so the engine
// falls back to one execution per parameter set.
func (c *conn) SupportsBatch() bool { return false }

func (c *conn) Close() error { return c.c.Close() }

type tx struct {
	t *sql.Tx
}

func (t *tx) Prepare(ctx context.Context, query string) (driver.Stmt, error) {
	st, err := t.t.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &stmt{s: st}, nil
}

func (t *tx) SupportsBatch() bool { return false }

// database/sql binds commit and rollback to the BeginTx context.
func (t *tx) Commit(context.Context) error   { return t.t.Commit() }
func (t *tx) Rollback(context.Context) error { return t.t.Rollback() }

type stmt struct {
	s       *sql.Stmt
	timeout time.Duration
}

func (s *stmt) SetQueryTimeout(d time.Duration) { s.timeout = d }

func (s *stmt) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *stmt) Query(ctx context.Context, args []any) (driver.Rows, error) {
	ctx, cancel := s.bound(ctx)
	r, err := s.s.QueryContext(ctx, args...)
	if err != nil {
		cancel()
		return nil, err
	}
	return &rows{r: r, cancel: cancel}, nil
}

func (s *stmt) Exec(ctx context.Context, args []any) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.s.ExecContext(ctx, args...)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res), nil
}

// rowsAffected is -1 when the driver cannot report a count.
func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		slog.Debug("sqldriver: rows affected unavailable", "err", err)
		return -1
	}
	return n
}

func (s *stmt) Close() error { return s.s.Close() }

type rows struct {
	r      *sql.Rows
	cancel context.CancelFunc
}

func (r *rows) Columns() ([]driver.Column, error) {
	cts, err := r.r.ColumnTypes()
	if err != nil {
		return nil, err
	}
	cols := make([]driver.Column, len(cts))
	for i, ct := range cts {
		cols[i] = driver.Column{Name: ct.Name(), TypeName: ct.DatabaseTypeName()}
	}
	return cols, nil
}

func (r *rows) Next() bool             { return r.r.Next() }
func (r *rows) Scan(dest ...any) error { return r.r.Scan(dest...) }
func (r *rows) Err() error             { return r.r.Err() }

func (r *rows) Close() error {
	err := r.r.Close()
	r.cancel()
	return err
}
