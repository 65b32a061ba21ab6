// Package novaexec runs SQL through a driver while guaranteeing that every
// connection, statement and cursor it acquires is released exactly once.
//
// Rows can be consumed eagerly (Query, QueryAsList), pulled lazily
// (QueryAsStream) or pushed on demand (QueryAsPublisher). Statements executed
// with a context returned by Client.Begin or passed to Client.InTx run on the
// transaction's connection.
package novaexec

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tuannm99/novaexec/driver"
	"github.com/tuannm99/novaexec/driver/sqldriver"
	"github.com/tuannm99/novaexec/internal/errs"
	"github.com/tuannm99/novaexec/internal/executor"
	"github.com/tuannm99/novaexec/internal/txn"
)

// Options are engine-wide defaults. Statements override the execution
// settings one by one.
type Options struct {
	FetchSize    int
	MaxRows      int
	QueryTimeout time.Duration
	BatchSize    int

	// CloseAction ("rollback" or "commit") finishes a transaction that is
	// closed while still active. Empty means rollback.
	CloseAction string
	// AutoRollback makes InTx roll back as soon as its function fails instead
	// of leaving it to CloseAction.
	AutoRollback bool

	Logger *slog.Logger
}

// DefaultOptions returns the options used by Open when none are given.
func DefaultOptions() Options {
	return Options{
		BatchSize:    executor.DefaultBatchSize,
		CloseAction:  string(txn.CloseRollback),
		AutoRollback: true,
	}
}

func (o Options) validate() error {
	switch {
	case o.FetchSize < 0:
		return errs.Config("fetch size", "%d is negative", o.FetchSize)
	case o.MaxRows < 0:
		return errs.Config("max rows", "%d is negative", o.MaxRows)
	case o.QueryTimeout < 0:
		return errs.Config("query timeout", "%s is negative", o.QueryTimeout)
	case o.BatchSize < 0:
		return errs.Config("batch size", "%d is negative", o.BatchSize)
	}
	return nil
}

// Client is the entry point. It is safe for concurrent use; transactions are
// not.
type Client struct {
	src          driver.Source
	ownsSource   bool
	exec         *executor.Executor
	logger       *slog.Logger
	closeAction  txn.CloseAction
	autoRollback bool

	mu     sync.RWMutex
	closed bool
}

// New builds a client over src. The caller keeps ownership of src.
func New(src driver.Source, opts Options) (*Client, error) {
	if src == nil {
		return nil, errs.Config("source", "nil source")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	action, err := txn.ParseCloseAction(opts.CloseAction)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		src:    src,
		logger: logger,
		exec: executor.New(src, logger, executor.Settings{
			FetchSize: opts.FetchSize,
			MaxRows:   opts.MaxRows,
			Timeout:   opts.QueryTimeout,
			BatchSize: opts.BatchSize,
		}),
		closeAction:  action,
		autoRollback: opts.AutoRollback,
	}, nil
}

// Open opens a database/sql driver registered under driverName and builds a
// client that owns it.
func Open(driverName, dsn string, opts Options) (*Client, error) {
	src, err := sqldriver.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	c, err := New(src, opts)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	c.ownsSource = true
	return c, nil
}

// WithOwnedSource makes Close also close src. It returns c.
func (c *Client) WithOwnedSource() *Client {
	c.ownsSource = true
	return c
}

func (c *Client) Logger() *slog.Logger { return c.logger }

// Close marks the client closed and, when it owns the source, closes it.
// Calls after the first return nil.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if !c.ownsSource {
		return nil
	}
	if cl, ok := c.src.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

func (c *Client) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Ping checks the source is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if p, ok := c.src.(driver.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return errs.Driver("ping", "", err)
		}
		return nil
	}
	conn, err := c.src.Conn(ctx)
	if err != nil {
		return errs.Driver("ping", "", err)
	}
	if err := conn.Close(); err != nil {
		c.logger.Warn("client: release failed", "err", &errs.LifecycleError{Resource: "conn", Err: err})
	}
	return nil
}

// SQL starts a statement.
func (c *Client) SQL(sql string) *Statement {
	return &Statement{c: c, q: executor.Query{SQL: sql}}
}

// Begin starts a transaction and returns a context bound to it. Statements
// executed with that context run on the transaction's connection. The caller
// must Close the transaction.
func (c *Client) Begin(ctx context.Context) (*Tx, context.Context, error) {
	if err := c.checkOpen(); err != nil {
		return nil, ctx, err
	}
	t, err := txn.Begin(ctx, c.src, txn.Options{Logger: c.logger, CloseAction: c.closeAction})
	if err != nil {
		return nil, ctx, err
	}
	return &Tx{t: t}, txn.WithContext(ctx, t), nil
}

// InTx runs fn inside a transaction. A nil return commits. An error rolls back
// (or, without AutoRollback, leaves it to the close action). A panic rolls
// back and is re-raised. The connection is released exactly once either way.
//
// When ctx already carries an active transaction fn joins it and InTx neither
// commits nor rolls back.
func (c *Client) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if t, ok := txn.FromContext(ctx); ok && t.State() == txn.Active {
		return fn(ctx)
	}

	tx, tctx, err := c.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			c.rollbackQuietly(ctx, tx)
			_ = tx.Close()
			panic(p)
		}
		if cerr := tx.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := fn(tctx); err != nil {
		if c.autoRollback {
			c.rollbackQuietly(ctx, tx)
		}
		return err
	}

	// fn may have finished the transaction itself.
	if tx.State() != txn.Active {
		return nil
	}
	return tx.Commit(ctx)
}

func (c *Client) rollbackQuietly(ctx context.Context, tx *Tx) {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrTxDone) {
		c.logger.Warn("client: rollback failed", "tx", tx.ID(), "err", err)
	}
}

// Tx is an open transaction. It follows one flow of control and must not be
// shared between goroutines.
type Tx struct {
	t *txn.Transaction
}

func (tx *Tx) ID() string     { return tx.t.ID() }
func (tx *Tx) State() TxState { return tx.t.State() }

// Commit is legal once, while the transaction is active.
func (tx *Tx) Commit(ctx context.Context) error { return tx.t.Commit(ctx) }

// Rollback is legal once, while the transaction is active.
func (tx *Tx) Rollback(ctx context.Context) error { return tx.t.Rollback(ctx) }

// Close applies the close action if still active and releases the connection.
// It is idempotent.
func (tx *Tx) Close() error { return tx.t.Close() }
