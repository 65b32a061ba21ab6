package novaexecwire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	"github.com/tuannm99/novaexec"
	"github.com/tuannm99/novaexec/driver"
	"github.com/tuannm99/novaexec/internal/errs"
	"github.com/tuannm99/novaexec/internal/metrics"
	"github.com/tuannm99/novaexec/rowmap"
)

var ErrServerClosed = errors.New("novaexecwire: server closed")

type Config struct {
	// MaxSessions bounds concurrently served connections. Extra connections
	// get a busy response and are closed.
	MaxSessions int
	// RequestsPerSecond limits each session; 0 disables the limit.
	RequestsPerSecond float64
	Burst             int
	Logger            *slog.Logger
}

// Server serves one engine Client to many TCP sessions. Each session may
// hold one open transaction, closed when the session ends.
type Server struct {
	db     *novaexec.Client
	cfg    Config
	logger *slog.Logger
	pool   *ants.Pool

	mu        sync.Mutex
	listeners []net.Listener
	sessions  map[string]net.Conn
	closed    bool
	wg        sync.WaitGroup
}

func New(db *novaexec.Client, cfg Config) (*Server, error) {
	if db == nil {
		return nil, errs.Config("server.client", "nil client")
	}
	if cfg.MaxSessions <= 0 {
		return nil, errs.Config("server.max_sessions", "%d is not positive", cfg.MaxSessions)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = db.Logger()
	}

	s := &Server{
		db:       db,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]net.Conn),
	}
	pool, err := ants.NewPool(cfg.MaxSessions,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			s.logger.Error("novaexecwire: session panic", "panic", v)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("novaexecwire: session pool: %w", err)
	}
	s.pool = pool
	return s, nil
}

// ListenAndServe listens on addr and serves until ctx is done or Close is
// called.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts sessions on ln. It returns nil once ctx is done or the
// server is closed, after every session has ended.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	s.logger.Info("novaexecwire: listening", "addr", ln.Addr().String(), "max_sessions", s.cfg.MaxSessions)

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.logger.Warn("novaexecwire: accept", "err", err)
			continue
		}
		s.start(ctx, conn)
	}
}

func (s *Server) start(ctx context.Context, conn net.Conn) {
	id := uuid.NewString()
	if !s.track(id, conn) {
		_ = conn.Close()
		return
	}

	err := s.pool.Submit(func() {
		defer s.wg.Done()
		s.serveSession(ctx, id, conn)
	})
	if err == nil {
		return
	}

	s.untrack(id)
	s.wg.Done()
	if errors.Is(err, ants.ErrPoolOverload) {
		_ = WriteFrame(conn, Response{Error: "server busy", Code: CodeBusy})
	}
	_ = conn.Close()
	s.logger.Warn("novaexecwire: session rejected", "session", id, "err", err)
}

func (s *Server) track(id string, conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[id] = conn
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Sessions reports the number of open sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close stops accepting, closes every session connection and releases the
// session pool. It does not close the engine Client.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
	for _, c := range s.sessions {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.pool.Release()
	return nil
}

func (s *Server) serveSession(ctx context.Context, id string, conn net.Conn) {
	metrics.SessionOpened()
	sess := &session{
		id:     id,
		db:     s.db,
		logger: s.logger.With("session", id),
	}
	if s.cfg.RequestsPerSecond > 0 {
		sess.limiter = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst)
	}
	defer func() {
		sess.end()
		_ = conn.Close()
		s.untrack(id)
		metrics.SessionClosed()
	}()

	sess.logger.Debug("novaexecwire: session opened", "remote", conn.RemoteAddr().String())

	for {
		var req Request
		if err := ReadFrame(conn, &req); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				sess.logger.Debug("novaexecwire: read", "err", err)
			}
			return
		}
		if err := WriteFrame(conn, sess.handle(ctx, req)); err != nil {
			sess.logger.Debug("novaexecwire: write", "err", err)
			return
		}
	}
}

// ---- session ----

type session struct {
	id      string
	db      *novaexec.Client
	logger  *slog.Logger
	limiter *rate.Limiter

	tx    *novaexec.Tx
	txCtx context.Context
}

func (ss *session) handle(ctx context.Context, req Request) Response {
	resp := Response{ID: req.ID}
	if ss.limiter != nil && !ss.limiter.Allow() {
		resp.Error = "rate limit exceeded"
		resp.Code = CodeRateLimited
		return resp
	}

	res, err := ss.dispatch(ctx, req)
	if err != nil {
		resp.Error = err.Error()
		resp.Code = codeOf(err)
		return resp
	}
	resp.Result = res
	return resp
}

func (ss *session) dispatch(ctx context.Context, req Request) (*Result, error) {
	if ss.tx != nil {
		ctx = ss.txCtx
	}

	switch req.Op {
	case OpQuery:
		return novaexec.Query[*Result](ctx, ss.statement(req), Table)
	case OpExec:
		n, err := ss.statement(req).Update(ctx)
		if err != nil {
			return nil, err
		}
		return &Result{AffectedRows: n}, nil
	case OpBatch:
		sets := make([][]any, len(req.Batch))
		for i, set := range req.Batch {
			sets[i] = normalizeArgs(set)
		}
		counts, err := ss.db.SQL(req.SQL).UpdateBatch(ctx, sets, req.BatchSize)
		if err != nil {
			return nil, err
		}
		var sum int64
		for _, c := range counts {
			sum += c
		}
		return &Result{AffectedRows: sum, Counts: counts}, nil
	case OpCall:
		has, err := ss.statement(req).Call(ctx)
		if err != nil {
			return nil, err
		}
		return &Result{HasResultSet: has}, nil
	case OpBegin:
		return ss.begin(ctx)
	case OpCommit, OpRollback:
		return ss.finish(ctx, req.Op)
	}
	return nil, errs.Config("op", "unknown operation %q", req.Op)
}

func (ss *session) statement(req Request) *novaexec.Statement {
	return ss.db.SQL(req.SQL).Args(normalizeArgs(req.Args)...)
}

func (ss *session) begin(ctx context.Context) (*Result, error) {
	if ss.tx != nil {
		return nil, errs.Config("transaction", "session already has transaction %s", ss.tx.ID())
	}
	tx, txCtx, err := ss.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	ss.tx, ss.txCtx = tx, txCtx
	ss.logger.Debug("novaexecwire: begin", "tx", tx.ID())
	return &Result{TxID: tx.ID()}, nil
}

// finish commits or rolls back the session transaction and always closes it.
func (ss *session) finish(ctx context.Context, op Op) (*Result, error) {
	if ss.tx == nil {
		return nil, errs.ErrTxDone
	}
	tx := ss.tx
	ss.tx, ss.txCtx = nil, nil

	var err error
	if op == OpCommit {
		err = tx.Commit(ctx)
	} else {
		err = tx.Rollback(ctx)
	}
	if cerr := tx.Close(); cerr != nil {
		ss.logger.Warn("novaexecwire: close transaction", "tx", tx.ID(), "err", cerr)
	}
	if err != nil {
		return nil, err
	}
	return &Result{TxID: tx.ID()}, nil
}

// end closes a transaction left open by the client.
func (ss *session) end() {
	if ss.tx == nil {
		return
	}
	if err := ss.tx.Close(); err != nil {
		ss.logger.Warn("novaexecwire: close transaction", "tx", ss.tx.ID(), "err", err)
	}
	ss.tx, ss.txCtx = nil, nil
}

// Table reads column metadata once and every row as driver values. Byte
// slices become strings so the result encodes as JSON text.
func Table(c rowmap.Cursor) (*Result, error) {
	cols, err := c.Columns()
	if err != nil {
		return nil, err
	}
	res := &Result{
		Columns:      driver.ColumnNames(cols),
		Rows:         make([][]any, 0),
		HasResultSet: true,
	}
	values := rowmap.Values()
	for c.Next() {
		row, err := values(c)
		if err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, jsonRow(row))
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
