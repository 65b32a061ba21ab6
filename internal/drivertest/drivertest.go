// Package drivertest is an in-memory driver that records every resource it
// hands out. Tests script results per SQL text and then assert that each
// connection, statement and cursor was closed exactly once.
package drivertest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/tuannm99/novaexec/driver"
)

var (
	_ driver.Source          = (*Source)(nil)
	_ driver.Pinger          = (*Source)(nil)
	_ driver.Conn            = (*Conn)(nil)
	_ driver.BatchSupporter  = (*Conn)(nil)
	_ driver.CallPreparer    = (*Conn)(nil)
	_ driver.Tx              = (*Tx)(nil)
	_ driver.BatchSupporter  = (*Tx)(nil)
	_ driver.Stmt            = (*Stmt)(nil)
	_ driver.Batcher         = (*Stmt)(nil)
	_ driver.WarningReporter = (*Stmt)(nil)
	_ driver.FetchSizer      = (*Stmt)(nil)
	_ driver.Timeouter       = (*Stmt)(nil)
	_ driver.Rows            = (*Rows)(nil)
)

// Result scripts the outcome of a statement.
type Result struct {
	Columns []string
	Rows    [][]any

	// QueryErr fails Stmt.Query; ExecErr fails Stmt.Exec.
	QueryErr error
	ExecErr  error
	// RowErr ends iteration with an error after FailAfter rows.
	RowErr    error
	FailAfter int

	// Affected is returned by Exec; zero means 1.
	Affected int64
	Warnings []error
}

// Exec is one recorded statement execution.
type Exec struct {
	SQL  string
	Args []any
}

// Stats counts resources. Every Opened must be matched by a Closed; Double
// counts Close calls on an already closed resource.
type Stats struct {
	ConnsOpened, ConnsClosed int
	StmtsOpened, StmtsClosed int
	RowsOpened, RowsClosed   int
	Begins, Commits          int
	Rollbacks                int
	Double                   int
}

// Leaked is the number of resources still open.
func (s Stats) Leaked() int {
	return (s.ConnsOpened - s.ConnsClosed) + (s.StmtsOpened - s.StmtsClosed) + (s.RowsOpened - s.RowsClosed)
}

type Source struct {
	mu sync.Mutex

	results      map[string]Result
	prepareErr   map[string]error
	batchSupport bool
	connErr      error
	beginErr     error
	commitErr    error
	closeErr     map[string]error
	flushErr     map[int]error

	stats      Stats
	execs      []Exec
	flushes    [][][]any
	prepared   []string
	calls      []string
	fetchSizes []int
	timeouts   []time.Duration
	conns      []*Conn
}

func New() *Source {
	return &Source{
		results:    make(map[string]Result),
		prepareErr: make(map[string]error),
		closeErr:   make(map[string]error),
		flushErr:   make(map[int]error),
	}
}

// ---- scripting ----

func (s *Source) Script(sql string, r Result) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[sql] = r
	return s
}

// Rows scripts a result set.
func (s *Source) Rows(sql string, cols []string, rows ...[]any) *Source {
	return s.Script(sql, Result{Columns: cols, Rows: rows})
}

func (s *Source) SetBatchSupport(ok bool) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchSupport = ok
	return s
}

func (s *Source) FailConn(err error) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connErr = err
	return s
}

func (s *Source) FailPrepare(sql string, err error) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepareErr[sql] = err
	return s
}

func (s *Source) FailBegin(err error) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beginErr = err
	return s
}

func (s *Source) FailCommit(err error) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
	return s
}

// FailClose makes Close of every resource of kind ("conn", "stmt" or
// "cursor") return err. The resource still counts as closed.
func (s *Source) FailClose(kind string, err error) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeErr[kind] = err
	return s
}

// FailFlush makes the n-th batch flush (1-based) fail.
func (s *Source) FailFlush(n int, err error) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushErr[n] = err
	return s
}

// ---- inspection ----

func (s *Source) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Execs lists single executions in order. Batched sets are in Flushes.
func (s *Source) Execs() []Exec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Exec(nil), s.execs...)
}

// Flushes lists batch round trips; each holds the argument lists it sent.
func (s *Source) Flushes() [][][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][][]any(nil), s.flushes...)
}

func (s *Source) Prepared() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prepared...)
}

func (s *Source) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Source) FetchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.fetchSizes...)
}

func (s *Source) Timeouts() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.timeouts...)
}

// Conns lists every connection handed out, in order.
func (s *Source) Conns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Conn(nil), s.conns...)
}

// ---- driver.Source ----

func (s *Source) Conn(ctx context.Context) (driver.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connErr != nil {
		return nil, s.connErr
	}
	s.stats.ConnsOpened++
	c := &Conn{src: s, id: len(s.conns) + 1}
	s.conns = append(s.conns, c)
	return c, nil
}

func (s *Source) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connErr
}

func (s *Source) result(sql string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[sql]
}

// closed records a Close of kind; wasClosed marks a repeated call.
func (s *Source) closed(kind string, wasClosed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wasClosed {
		s.stats.Double++
		return nil
	}
	switch kind {
	case "conn":
		s.stats.ConnsClosed++
	case "stmt":
		s.stats.StmtsClosed++
	case "cursor":
		s.stats.RowsClosed++
	}
	return s.closeErr[kind]
}

func (s *Source) prepare(c *Conn, sql string, call bool) (*Stmt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.prepareErr[sql]; err != nil {
		return nil, err
	}
	s.stats.StmtsOpened++
	s.prepared = append(s.prepared, sql)
	if call {
		s.calls = append(s.calls, sql)
	}
	return &Stmt{src: s, conn: c, sql: sql}, nil
}

// ---- connection ----

type Conn struct {
	src *Source
	id  int

	mu     sync.Mutex
	closed bool
	inTx   bool
}

// ID is the 1-based order in which the connection was handed out.
func (c *Conn) ID() int { return c.id }

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Prepare(ctx context.Context, sql string) (driver.Stmt, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	return c.src.prepare(c, sql, false)
}

func (c *Conn) PrepareCall(ctx context.Context, sql string) (driver.Stmt, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	return c.src.prepare(c, sql, true)
}

func (c *Conn) SupportsBatch() bool {
	c.src.mu.Lock()
	defer c.src.mu.Unlock()
	return c.src.batchSupport
}

func (c *Conn) Begin(ctx context.Context) (driver.Tx, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	c.src.mu.Lock()
	err := c.src.beginErr
	if err == nil {
		c.src.stats.Begins++
	}
	c.src.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.inTx = true
	c.mu.Unlock()
	return &Tx{conn: c}, nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	was := c.closed
	c.closed = true
	c.mu.Unlock()
	return c.src.closed("conn", was)
}

func (c *Conn) usable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("drivertest: connection is closed")
	}
	return nil
}

// ---- transaction ----

type Tx struct {
	conn *Conn

	mu   sync.Mutex
	done bool
}

func (t *Tx) Prepare(ctx context.Context, sql string) (driver.Stmt, error) {
	return t.conn.Prepare(ctx, sql)
}

func (t *Tx) PrepareCall(ctx context.Context, sql string) (driver.Stmt, error) {
	return t.conn.PrepareCall(ctx, sql)
}

func (t *Tx) SupportsBatch() bool { return t.conn.SupportsBatch() }

func (t *Tx) Commit(ctx context.Context) error {
	if err := t.finish(); err != nil {
		return err
	}
	s := t.conn.src
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}
	s.stats.Commits++
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.finish(); err != nil {
		return err
	}
	s := t.conn.src
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Rollbacks++
	return nil
}

func (t *Tx) finish() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errors.New("drivertest: transaction already finished")
	}
	t.done = true
	t.conn.mu.Lock()
	t.conn.inTx = false
	t.conn.mu.Unlock()
	return nil
}

// ---- statement ----

type Stmt struct {
	src  *Source
	conn *Conn
	sql  string

	mu       sync.Mutex
	closed   bool
	queued   [][]any
	warnings []error
}

func (st *Stmt) Query(ctx context.Context, args []any) (driver.Rows, error) {
	if err := st.check(ctx); err != nil {
		return nil, err
	}
	r := st.src.result(st.sql)
	st.addWarnings(r.Warnings)
	if r.QueryErr != nil {
		return nil, r.QueryErr
	}

	cols := make([]driver.Column, len(r.Columns))
	for i, name := range r.Columns {
		cols[i] = driver.Column{Name: name}
	}

	st.src.mu.Lock()
	st.src.stats.RowsOpened++
	st.src.execs = append(st.src.execs, Exec{SQL: st.sql, Args: args})
	st.src.mu.Unlock()

	return &Rows{src: st.src, cols: cols, data: r.Rows, rowErr: r.RowErr, failAfter: r.FailAfter, pos: -1}, nil
}

func (st *Stmt) Exec(ctx context.Context, args []any) (int64, error) {
	if err := st.check(ctx); err != nil {
		return 0, err
	}
	r := st.src.result(st.sql)
	st.addWarnings(r.Warnings)

	st.src.mu.Lock()
	st.src.execs = append(st.src.execs, Exec{SQL: st.sql, Args: args})
	st.src.mu.Unlock()

	if r.ExecErr != nil {
		return 0, r.ExecErr
	}
	if r.Affected == 0 {
		return 1, nil
	}
	return r.Affected, nil
}

func (st *Stmt) AddBatch(args []any) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return errors.New("drivertest: statement is closed")
	}
	st.queued = append(st.queued, append([]any(nil), args...))
	return nil
}

func (st *Stmt) ExecBatch(ctx context.Context) ([]int64, error) {
	if err := st.check(ctx); err != nil {
		return nil, err
	}
	st.mu.Lock()
	queued := st.queued
	st.queued = nil
	st.mu.Unlock()

	r := st.src.result(st.sql)
	affected := r.Affected
	if affected == 0 {
		affected = 1
	}

	st.src.mu.Lock()
	defer st.src.mu.Unlock()
	st.src.flushes = append(st.src.flushes, queued)
	if err := st.src.flushErr[len(st.src.flushes)]; err != nil {
		return nil, err
	}
	counts := make([]int64, len(queued))
	for i := range counts {
		counts[i] = affected
	}
	return counts, nil
}

func (st *Stmt) ClearBatch() {
	st.mu.Lock()
	st.queued = nil
	st.mu.Unlock()
}

func (st *Stmt) Warnings() []error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]error(nil), st.warnings...)
}

func (st *Stmt) ClearWarnings() {
	st.mu.Lock()
	st.warnings = nil
	st.mu.Unlock()
}

func (st *Stmt) SetFetchSize(n int) {
	st.src.mu.Lock()
	st.src.fetchSizes = append(st.src.fetchSizes, n)
	st.src.mu.Unlock()
}

func (st *Stmt) SetQueryTimeout(d time.Duration) {
	st.src.mu.Lock()
	st.src.timeouts = append(st.src.timeouts, d)
	st.src.mu.Unlock()
}

func (st *Stmt) Close() error {
	st.mu.Lock()
	was := st.closed
	st.closed = true
	st.queued = nil
	st.mu.Unlock()
	return st.src.closed("stmt", was)
}

func (st *Stmt) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st.mu.Lock()
	closed := st.closed
	st.mu.Unlock()
	if closed {
		return errors.New("drivertest: statement is closed")
	}
	return st.conn.usable()
}

func (st *Stmt) addWarnings(ws []error) {
	if len(ws) == 0 {
		return
	}
	st.mu.Lock()
	st.warnings = append(st.warnings, ws...)
	st.mu.Unlock()
}

// ---- rows ----

type Rows struct {
	src       *Source
	cols      []driver.Column
	data      [][]any
	rowErr    error
	failAfter int
	pos       int
	err       error
	closed    bool
}

func (r *Rows) Columns() ([]driver.Column, error) { return r.cols, nil }

func (r *Rows) Next() bool {
	if r.closed || r.err != nil {
		return false
	}
	if r.rowErr != nil && r.pos+1 >= r.failAfter {
		r.err = r.rowErr
		return false
	}
	if r.pos+1 >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if r.pos < 0 || r.pos >= len(r.data) {
		return errors.New("drivertest: scan without a current row")
	}
	row := r.data[r.pos]
	if len(dest) != len(row) {
		return fmt.Errorf("drivertest: expected %d destinations, got %d", len(row), len(dest))
	}
	for i := range dest {
		if err := assign(dest[i], row[i]); err != nil {
			return fmt.Errorf("drivertest: column %d: %w", i, err)
		}
	}
	return nil
}

func (r *Rows) Err() error { return r.err }

func (r *Rows) Close() error {
	was := r.closed
	r.closed = true
	return r.src.closed("cursor", was)
}

// assign stores src into the pointer dest, converting between numeric kinds
// and string/[]byte the way database/sql does for common cases.
func assign(dest, src any) error {
	if p, ok := dest.(*any); ok {
		*p = src
		return nil
	}
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("destination %T is not a non-nil pointer", dest)
	}
	dv = dv.Elem()

	if src == nil {
		switch dv.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
			dv.Set(reflect.Zero(dv.Type()))
			return nil
		}
		return fmt.Errorf("cannot store NULL in %s", dv.Type())
	}

	sv := reflect.ValueOf(src)
	if dv.Kind() == reflect.Pointer {
		elem := reflect.New(dv.Type().Elem())
		if err := assign(elem.Interface(), src); err != nil {
			return err
		}
		dv.Set(elem)
		return nil
	}
	switch {
	case sv.Type().AssignableTo(dv.Type()):
		dv.Set(sv)
	case dv.Kind() == reflect.String && sv.Kind() == reflect.Slice && sv.Type().Elem().Kind() == reflect.Uint8:
		dv.SetString(string(sv.Bytes()))
	case sv.Type().ConvertibleTo(dv.Type()) && sv.Kind() != reflect.String && dv.Kind() != reflect.String:
		dv.Set(sv.Convert(dv.Type()))
	default:
		return fmt.Errorf("cannot store %T in %s", src, dv.Type())
	}
	return nil
}
