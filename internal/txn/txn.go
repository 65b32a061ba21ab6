// Package txn binds one connection to a call tree for the duration of a
// transaction.
package txn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tuannm99/novaexec/driver"
	"github.com/tuannm99/novaexec/internal/errs"
	"github.com/tuannm99/novaexec/internal/metrics"
)

type State int32

const (
	Active State = iota
	Committed
	RolledBack
	Closed
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// CloseAction is applied by Close to a transaction that is still active.
type CloseAction string

const (
	CloseRollback CloseAction = "rollback"
	CloseCommit   CloseAction = "commit"
)

// ParseCloseAction accepts "", "rollback" or "commit".
func ParseCloseAction(s string) (CloseAction, error) {
	switch CloseAction(s) {
	case "", CloseRollback:
		return CloseRollback, nil
	case CloseCommit:
		return CloseCommit, nil
	}
	return "", errs.Config("transaction.close_action", "unknown action %q", s)
}

type Options struct {
	Logger      *slog.Logger
	CloseAction CloseAction
}

// Transaction owns a connection from Begin until Close. Statements executed
// through it borrow the connection and never release it.
//
// A Transaction follows one logical flow of control; it is not meant to be
// shared by concurrent goroutines. The mutex only keeps state transitions
// consistent.
type Transaction struct {
	id     uuid.UUID
	logger *slog.Logger
	action CloseAction

	mu    sync.Mutex
	state State
	conn  driver.Conn
	tx    driver.Tx

	closeOnce sync.Once
	closeErr  error
}

// Begin acquires a connection and starts a transaction on it.
func Begin(ctx context.Context, src driver.Source, opts Options) (*Transaction, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	action := opts.CloseAction
	if action == "" {
		action = CloseRollback
	}

	conn, err := src.Conn(ctx)
	if err != nil {
		metrics.Error("driver")
		return nil, errs.Driver("acquire connection", "", err)
	}
	metrics.Acquired(metrics.KindConn)

	tx, err := conn.Begin(ctx)
	if err != nil {
		metrics.Error("driver")
		metrics.Released(metrics.KindConn)
		if cerr := conn.Close(); cerr != nil {
			logger.Warn("txn: release failed", "err", &errs.LifecycleError{Resource: metrics.KindConn, Err: cerr})
		}
		return nil, errs.Driver("begin", "", err)
	}

	t := &Transaction{
		id:     uuid.New(),
		logger: logger,
		action: action,
		state:  Active,
		conn:   conn,
		tx:     tx,
	}
	logger.Debug("txn: begin", "tx", t.id)
	return t, nil
}

func (t *Transaction) ID() string { return t.id.String() }

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Preparer returns the transaction's statement factory while it is active.
func (t *Transaction) Preparer() (driver.Preparer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return nil, errs.ErrTxDone
	}
	return t.tx, nil
}

// Commit is legal once, from the active state.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finishLocked(ctx, CloseCommit)
}

// Rollback is legal once, from the active state.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finishLocked(ctx, CloseRollback)
}

func (t *Transaction) finishLocked(ctx context.Context, action CloseAction) error {
	if t.state != Active {
		return errs.ErrTxDone
	}

	if action == CloseCommit {
		if err := t.tx.Commit(ctx); err != nil {
			// A failed commit leaves nothing to roll back on either adapter.
			t.state = RolledBack
			metrics.TxFinished("commit_failed")
			metrics.Error("driver")
			return errs.Driver("commit", "", err)
		}
		t.state = Committed
		metrics.TxFinished("commit")
		t.logger.Debug("txn: commit", "tx", t.id)
		return nil
	}

	t.state = RolledBack
	metrics.TxFinished("rollback")
	if err := t.tx.Rollback(ctx); err != nil {
		metrics.Error("driver")
		return errs.Driver("rollback", "", err)
	}
	t.logger.Debug("txn: rollback", "tx", t.id)
	return nil
}

// Close finishes a still-active transaction with the configured close action
// and releases the connection. Only the first call has any effect; later calls
// return the first call's error.
func (t *Transaction) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		if t.state == Active {
			t.logger.Debug("txn: closing active transaction", "tx", t.id, "action", string(t.action))
			t.closeErr = t.finishLocked(context.Background(), t.action)
		}

		metrics.Released(metrics.KindConn)
		if err := t.conn.Close(); err != nil {
			metrics.Error("lifecycle")
			t.logger.Warn("txn: release failed", "tx", t.id, "err", &errs.LifecycleError{Resource: metrics.KindConn, Err: err})
		}
		t.state = Closed
	})
	return t.closeErr
}

type ctxKey struct{}

// WithContext returns a child context that carries t. Executions given this
// context run on t's connection.
func WithContext(ctx context.Context, t *Transaction) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// FromContext returns the transaction bound to ctx, if any.
func FromContext(ctx context.Context) (*Transaction, bool) {
	t, ok := ctx.Value(ctxKey{}).(*Transaction)
	return t, ok && t != nil
}
