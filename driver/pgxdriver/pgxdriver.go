// Package pgxdriver adapts a pgx connection pool to the novaexec driver seam.
//
// pgx prepares and caches statements per connection on its own, so Prepare only
// binds the SQL text to the connection. Batches are sent as a single pgx.Batch.
package pgxdriver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tuannm99/novaexec/driver"
)

var errStmtClosed = errors.New("pgxdriver: statement is closed")

var (
	_ driver.Source         = (*Source)(nil)
	_ driver.Pinger         = (*Source)(nil)
	_ driver.Conn           = (*conn)(nil)
	_ driver.BatchSupporter = (*conn)(nil)
	_ driver.Tx             = (*tx)(nil)
	_ driver.Stmt           = (*stmt)(nil)
	_ driver.Batcher        = (*stmt)(nil)
	_ driver.Rows           = (*rows)(nil)
)

// querier is the subset shared by *pgxpool.Conn and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Source acquires connections from a pgxpool.Pool.
type Source struct {
	pool  *pgxpool.Pool
	types *pgtype.Map
	owned bool
}

// New wraps an existing pool. The caller keeps ownership of pool.
func New(pool *pgxpool.Pool) *Source {
	return &Source{pool: pool, types: pgtype.NewMap()}
}

// Open parses dsn and creates a pool owned by the returned Source.
func Open(ctx context.Context, dsn string) (*Source, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxdriver: parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxdriver: create pool: %w", err)
	}
	return &Source{pool: pool, types: pgtype.NewMap(), owned: true}, nil
}

func (s *Source) Conn(ctx context.Context) (driver.Conn, error) {
	c, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &conn{c: c, types: s.types}, nil
}

func (s *Source) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close closes the pool when it was created by Open.
func (s *Source) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}

type conn struct {
	c     *pgxpool.Conn
	types *pgtype.Map
}

func (c *conn) Prepare(_ context.Context, query string) (driver.Stmt, error) {
	return newStmt(c.c, query, c.types), nil
}

func (c *conn) Begin(ctx context.Context) (driver.Tx, error) {
	t, err := c.c.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &tx{t: t, types: c.types}, nil
}

func (c *conn) SupportsBatch() bool { return true }

func (c *conn) Close() error {
	c.c.Release()
	return nil
}

type tx struct {
	t     pgx.Tx
	types *pgtype.Map
}

func (t *tx) Prepare(_ context.Context, query string) (driver.Stmt, error) {
	return newStmt(t.t, query, t.types), nil
}

func (t *tx) SupportsBatch() bool                { return true }
func (t *tx) Commit(ctx context.Context) error   { return t.t.Commit(ctx) }
func (t *tx) Rollback(ctx context.Context) error { return t.t.Rollback(ctx) }

type stmt struct {
	q     querier
	sql   string
	types *pgtype.Map

	mu     sync.Mutex
	queued [][]any
	closed bool
}

func newStmt(q querier, sql string, types *pgtype.Map) *stmt {
	return &stmt{q: q, sql: sql, types: types}
}

func (s *stmt) Query(ctx context.Context, args []any) (driver.Rows, error) {
	if s.isClosed() {
		return nil, errStmtClosed
	}
	r, err := s.q.Query(ctx, s.sql, args...)
	if err != nil {
		return nil, err
	}
	return &rows{r: r, types: s.types}, nil
}

func (s *stmt) Exec(ctx context.Context, args []any) (int64, error) {
	if s.isClosed() {
		return 0, errStmtClosed
	}
	tag, err := s.q.Exec(ctx, s.sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *stmt) AddBatch(args []any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStmtClosed
	}
	cp := make([]any, len(args))
	copy(cp, args)
	s.queued = append(s.queued, cp)
	return nil
}

func (s *stmt) ExecBatch(ctx context.Context) (counts []int64, err error) {
	s.mu.Lock()
	queued := s.queued
	s.queued = nil
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return nil, errStmtClosed
	}
	if len(queued) == 0 {
		return []int64{}, nil
	}

	b := &pgx.Batch{}
	for _, args := range queued {
		b.Queue(s.sql, args...)
	}

	br := s.q.SendBatch(ctx, b)
	defer func() {
		if cerr := br.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	counts = make([]int64, 0, len(queued))
	for i := range queued {
		tag, err := br.Exec()
		if err != nil {
			return nil, fmt.Errorf("pgxdriver: batch item %d: %w", i, err)
		}
		counts = append(counts, tag.RowsAffected())
	}
	return counts, nil
}

func (s *stmt) ClearBatch() {
	s.mu.Lock()
	s.queued = nil
	s.mu.Unlock()
}

func (s *stmt) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close drops queued batch entries. The server-side statement stays in the
// connection's statement cache.
func (s *stmt) Close() error {
	s.mu.Lock()
	s.closed = true
	s.queued = nil
	s.mu.Unlock()
	return nil
}

type rows struct {
	r     pgx.Rows
	types *pgtype.Map
}

func (r *rows) Columns() ([]driver.Column, error) {
	fds := r.r.FieldDescriptions()
	cols := make([]driver.Column, len(fds))
	for i, fd := range fds {
		cols[i] = driver.Column{Name: fd.Name, TypeName: r.typeName(fd.DataTypeOID)}
	}
	return cols, nil
}

func (r *rows) typeName(oid uint32) string {
	if r.types == nil {
		return ""
	}
	if t, ok := r.types.TypeForOID(oid); ok {
		return t.Name
	}
	return ""
}

func (r *rows) Next() bool             { return r.r.Next() }
func (r *rows) Scan(dest ...any) error { return r.r.Scan(dest...) }
func (r *rows) Err() error             { return r.r.Err() }

// Close never fails; a failed read is reported once, through Err.
func (r *rows) Close() error {
	r.r.Close()
	return nil
}
