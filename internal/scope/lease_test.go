package scope

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novaexec/driver"
)

// ---- fakes ----

type closeLog struct {
	mu    sync.Mutex
	order []string
}

func (l *closeLog) add(s string) {
	l.mu.Lock()
	l.order = append(l.order, s)
	l.mu.Unlock()
}

type fakeStmt struct {
	log *closeLog
	err error
}

func (s *fakeStmt) Query(context.Context, []any) (driver.Rows, error) { return nil, nil }
func (s *fakeStmt) Exec(context.Context, []any) (int64, error)        { return 0, nil }
func (s *fakeStmt) Close() error                                      { s.log.add("stmt"); return s.err }

type fakeRows struct {
	log *closeLog
}

func (r *fakeRows) Columns() ([]driver.Column, error) { return nil, nil }
func (r *fakeRows) Next() bool                        { return false }
func (r *fakeRows) Scan(...any) error                 { return nil }
func (r *fakeRows) Err() error                        { return nil }
func (r *fakeRows) Close() error                      { r.log.add("cursor"); return nil }

// ---- tests ----

func TestLease_ReleasesInOrderOnce(t *testing.T) {
	log := &closeLog{}
	l := New(nil, "list", func() error { log.add("conn"); return nil }, true)
	l.SetStmt(&fakeStmt{log: log})
	l.SetRows(&fakeRows{log: log})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Release()
		}()
	}
	wg.Wait()

	require.True(t, l.Released())
	require.Equal(t, []string{"cursor", "stmt", "conn"}, log.order)
}

func TestLease_BorrowedConnectionStaysOpen(t *testing.T) {
	log := &closeLog{}
	l := New(nil, "update", func() error { log.add("conn"); return nil }, false)
	l.SetStmt(&fakeStmt{log: log})

	require.False(t, l.OwnsConn())
	l.Release()
	require.Equal(t, []string{"stmt"}, log.order)
}

func TestLease_CloseErrorsAreLoggedNotFatal(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	log := &closeLog{}

	l := New(logger, "list", func() error { log.add("conn"); return nil }, true)
	l.SetStmt(&fakeStmt{log: log, err: errors.New("stmt gone")})
	l.Release()

	require.Equal(t, []string{"stmt", "conn"}, log.order)
	require.Contains(t, buf.String(), "scope: release failed")
	require.Contains(t, buf.String(), "stmt gone")
}
