package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tuannm99/novaexec/driver"
	"github.com/tuannm99/novaexec/internal/errs"
	"github.com/tuannm99/novaexec/internal/metrics"
	"github.com/tuannm99/novaexec/internal/scope"
	"github.com/tuannm99/novaexec/internal/txn"
)

// Strategy labels, used for metrics and logs.
const (
	StrategyList      = "list"
	StrategyStream    = "stream"
	StrategyPublisher = "publisher"
	StrategyExtract   = "extract"
	StrategyUpdate    = "update"
	StrategyBatch     = "batch"
	StrategyCall      = "call"
)

// Settings are engine-wide defaults; a Query overrides them field by field.
type Settings struct {
	FetchSize int
	MaxRows   int
	Timeout   time.Duration
	BatchSize int
}

// DefaultBatchSize applies when neither the call nor the settings give one.
const DefaultBatchSize = 100

// Executor acquires a connection, prepares a statement, runs a body against it
// and releases what it acquired.
type Executor struct {
	src      driver.Source
	logger   *slog.Logger
	settings Settings
}

func New(src driver.Source, logger *slog.Logger, settings Settings) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.BatchSize <= 0 {
		settings.BatchSize = DefaultBatchSize
	}
	return &Executor{src: src, logger: logger, settings: settings}
}

func (e *Executor) Settings() Settings    { return e.settings }
func (e *Executor) Logger() *slog.Logger  { return e.logger }
func (e *Executor) Source() driver.Source { return e.src }

// StatementCreator builds the statement for q on p.
type StatementCreator func(ctx context.Context, p driver.Preparer, q *Query) (driver.Stmt, error)

// Body runs against a prepared statement. It may hand a cursor to the lease.
type Body[T any] func(ctx context.Context, stmt driver.Stmt, q *Query, lease *scope.Lease) (T, error)

// PrepareStatement prepares q, as a call when q.Call is set and the driver
// can prepare calls.
func PrepareStatement(ctx context.Context, p driver.Preparer, q *Query) (driver.Stmt, error) {
	if q.Call {
		if cp, ok := p.(driver.CallPreparer); ok {
			return cp.PrepareCall(ctx, q.SQL)
		}
	}
	return p.Prepare(ctx, q.SQL)
}

// Run executes body for q.
//
// With closeResources the statement and connection are released before Run
// returns and the returned lease is nil. Without it the caller owns the
// returned lease and must Release it. Failures always release everything and
// come back as a single classified error.
func Run[T any](
	ctx context.Context,
	e *Executor,
	q *Query,
	strategy string,
	create StatementCreator,
	body Body[T],
	closeResources bool,
) (T, *scope.Lease, error) {
	var zero T
	if err := q.Validate(); err != nil {
		metrics.Error("config")
		return zero, nil, err
	}
	eq := q.withDefaults(e.settings)

	lease, prep, err := e.acquire(ctx, strategy)
	if err != nil {
		return zero, nil, err
	}

	handedOff := false
	defer func() {
		if !handedOff {
			lease.Release()
		}
	}()

	stmt, err := create(ctx, prep, eq)
	if err != nil {
		return zero, nil, e.fail("prepare", eq, err)
	}
	lease.SetStmt(stmt)

	if err := e.configure(stmt, eq); err != nil {
		return zero, nil, e.fail("configure", eq, err)
	}

	result, err := body(ctx, stmt, eq, lease)
	e.drainWarnings(stmt, eq)
	if err != nil {
		return zero, nil, e.fail("execute", eq, err)
	}

	if closeResources {
		return result, nil, nil
	}
	handedOff = true
	return result, lease, nil
}

// acquire borrows the active transaction's connection or takes a new one
// from the source.
func (e *Executor) acquire(ctx context.Context, strategy string) (*scope.Lease, driver.Preparer, error) {
	if t, ok := txn.FromContext(ctx); ok {
		p, err := t.Preparer()
		if err != nil {
			return nil, nil, err
		}
		return scope.New(e.logger, strategy, nil, false), p, nil
	}

	conn, err := e.src.Conn(ctx)
	if err != nil {
		metrics.Error("driver")
		return nil, nil, errs.Driver("acquire connection", "", err)
	}
	return scope.New(e.logger, strategy, conn.Close, true), conn, nil
}

func (e *Executor) configure(stmt driver.Stmt, q *Query) error {
	if q.FetchSize > 0 {
		if fs, ok := stmt.(driver.FetchSizer); ok {
			fs.SetFetchSize(q.FetchSize)
		}
	}
	if q.Timeout > 0 {
		if to, ok := stmt.(driver.Timeouter); ok {
			to.SetQueryTimeout(q.Timeout)
		} else {
			e.logger.Debug("executor: driver ignores query timeout", "sql", q.SQL)
		}
	}
	if q.Configure != nil {
		return q.Configure(stmt)
	}
	return nil
}

func (e *Executor) drainWarnings(stmt driver.Stmt, q *Query) {
	wr, ok := stmt.(driver.WarningReporter)
	if !ok {
		return
	}
	for _, w := range wr.Warnings() {
		e.logger.Warn("executor: driver warning", "sql", q.SQL, "warning", w)
	}
	wr.ClearWarnings()
}

func (e *Executor) fail(op string, q *Query, err error) error {
	err = errs.Driver(op, q.SQL, err)
	metrics.Error(classOf(err))
	e.logger.Debug("executor: execution failed", "op", op, "sql", q.SQL, "err", err)
	return err
}

func classOf(err error) string {
	if errors.Is(err, errs.ErrConfiguration) {
		return "config"
	}
	return "driver"
}
