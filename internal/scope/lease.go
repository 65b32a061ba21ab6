// Package scope owns the release of driver resources acquired for one call.
package scope

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tuannm99/novaexec/driver"
	"github.com/tuannm99/novaexec/internal/errs"
	"github.com/tuannm99/novaexec/internal/metrics"
)

// Lease tracks the cursor, statement and connection of one execution and
// releases them together, in that order, exactly once.
//
// Release is total and idempotent: every exit path of every consumption
// strategy calls it, and only the first call frees anything. Failures while
// closing are logged and swallowed so they never mask the caller's result.
type Lease struct {
	logger   *slog.Logger
	strategy string
	start    time.Time

	mu          sync.Mutex
	rows        driver.Rows
	stmt        driver.Stmt
	releaseConn func() error
	ownsConn    bool

	once     sync.Once
	released bool
}

// New starts a lease. releaseConn is called on release only when ownsConn is
// true; a borrowed connection (an active transaction) is never closed here.
func New(logger *slog.Logger, strategy string, releaseConn func() error, ownsConn bool) *Lease {
	if logger == nil {
		logger = slog.Default()
	}
	if ownsConn {
		metrics.Acquired(metrics.KindConn)
	}
	return &Lease{
		logger:      logger,
		strategy:    strategy,
		start:       time.Now(),
		releaseConn: releaseConn,
		ownsConn:    ownsConn,
	}
}

// SetStmt hands statement ownership to the lease.
func (l *Lease) SetStmt(s driver.Stmt) {
	l.mu.Lock()
	l.stmt = s
	l.mu.Unlock()
	metrics.Acquired(metrics.KindStmt)
}

// SetRows hands cursor ownership to the lease.
func (l *Lease) SetRows(r driver.Rows) {
	l.mu.Lock()
	l.rows = r
	l.mu.Unlock()
	metrics.Acquired(metrics.KindCursor)
}

// OwnsConn reports whether releasing the lease closes the connection.
func (l *Lease) OwnsConn() bool { return l.ownsConn }

// Released reports whether Release already ran.
func (l *Lease) Released() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

// Release closes cursor, statement and connection. Safe to call any number of
// times from any exit path.
func (l *Lease) Release() {
	l.once.Do(l.release)
}

func (l *Lease) release() {
	l.mu.Lock()
	rows, stmt := l.rows, l.stmt
	l.rows, l.stmt = nil, nil
	l.released = true
	l.mu.Unlock()

	if rows != nil {
		l.closeQuietly(metrics.KindCursor, rows.Close)
	}
	if stmt != nil {
		l.closeQuietly(metrics.KindStmt, stmt.Close)
	}
	if l.ownsConn && l.releaseConn != nil {
		l.closeQuietly(metrics.KindConn, l.releaseConn)
	}
	metrics.ObserveQuery(l.strategy, l.start)
}

func (l *Lease) closeQuietly(kind string, closeFn func() error) {
	metrics.Released(kind)
	if err := closeFn(); err != nil {
		metrics.Error("lifecycle")
		l.logger.Warn("scope: release failed",
			"strategy", l.strategy,
			"err", &errs.LifecycleError{Resource: kind, Err: err},
		)
	}
}
