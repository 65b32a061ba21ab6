// Package sqlclient is a synchronous client for the novaexecwire server.
package sqlclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tuannm99/novaexec/server/novaexecwire"
)

var ErrNilClient = errors.New("sqlclient: nil client")

// ServerError is a failure reported by the server for one request. The
// session stays usable.
type ServerError struct {
	Code    novaexecwire.Code
	Message string
}

func (e *ServerError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Client serializes requests on one connection; concurrent calls are safe
// but run one at a time.
type Client struct {
	conn net.Conn
	mu   sync.Mutex
	id   atomic.Uint64

	// Optional per-request timeout (0 = no timeout).
	rwTimeout time.Duration
}

func Dial(addr string, timeout time.Duration) (*Client, error) {
	return DialContext(context.Background(), addr, timeout)
}

func DialContext(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: c}, nil
}

// SetRWTimeout sets a per-request read/write deadline used when ctx has
// none.
func (c *Client) SetRWTimeout(d time.Duration) {
	if c == nil {
		return
	}
	c.rwTimeout = d
}

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Query runs sql and returns its columns and rows.
func (c *Client) Query(ctx context.Context, sql string, args ...any) (*novaexecwire.Result, error) {
	return c.Do(ctx, novaexecwire.Request{Op: novaexecwire.OpQuery, SQL: sql, Args: args})
}

// Exec runs sql and returns the number of affected rows.
func (c *Client) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	res, err := c.Do(ctx, novaexecwire.Request{Op: novaexecwire.OpExec, SQL: sql, Args: args})
	if err != nil {
		return 0, err
	}
	return res.AffectedRows, nil
}

// Batch runs sql once per argument list; batchSize <= 0 uses the server
// default.
func (c *Client) Batch(ctx context.Context, sql string, sets [][]any, batchSize int) ([]int64, error) {
	res, err := c.Do(ctx, novaexecwire.Request{
		Op:        novaexecwire.OpBatch,
		SQL:       sql,
		Batch:     sets,
		BatchSize: batchSize,
	})
	if err != nil {
		return nil, err
	}
	if res.Counts == nil {
		return []int64{}, nil
	}
	return res.Counts, nil
}

// Call runs a stored procedure and reports whether it produced a result set.
func (c *Client) Call(ctx context.Context, sql string, args ...any) (bool, error) {
	res, err := c.Do(ctx, novaexecwire.Request{Op: novaexecwire.OpCall, SQL: sql, Args: args})
	if err != nil {
		return false, err
	}
	return res.HasResultSet, nil
}

// Begin opens the session transaction and returns its id. Later requests
// run inside it until Commit or Rollback.
func (c *Client) Begin(ctx context.Context) (string, error) {
	res, err := c.Do(ctx, novaexecwire.Request{Op: novaexecwire.OpBegin})
	if err != nil {
		return "", err
	}
	return res.TxID, nil
}

func (c *Client) Commit(ctx context.Context) error {
	_, err := c.Do(ctx, novaexecwire.Request{Op: novaexecwire.OpCommit})
	return err
}

func (c *Client) Rollback(ctx context.Context) error {
	_, err := c.Do(ctx, novaexecwire.Request{Op: novaexecwire.OpRollback})
	return err
}

// Do sends req with a fresh id and waits for its response.
func (c *Client) Do(ctx context.Context, req novaexecwire.Request) (*novaexecwire.Result, error) {
	if c == nil || c.conn == nil {
		return nil, ErrNilClient
	}

	req.ID = c.id.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.applyDeadline(ctx); err != nil {
		return nil, err
	}
	defer func() {
		// Clear deadline after request so idle connection doesn't expire.
		_ = c.conn.SetDeadline(time.Time{})
	}()

	if err := novaexecwire.WriteFrame(c.conn, req); err != nil {
		return nil, err
	}

	var resp novaexecwire.Response
	if err := novaexecwire.ReadFrame(c.conn, &resp); err != nil {
		return nil, err
	}

	// The server answers an overloaded accept with id 0 and hangs up.
	if resp.Code == novaexecwire.CodeBusy {
		return nil, &ServerError{Code: resp.Code, Message: resp.Error}
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("sqlclient: response id mismatch: got=%d want=%d", resp.ID, req.ID)
	}
	if resp.Error != "" {
		return nil, &ServerError{Code: resp.Code, Message: resp.Error}
	}
	if resp.Result == nil {
		return &novaexecwire.Result{}, nil
	}
	return resp.Result, nil
}

func (c *Client) applyDeadline(ctx context.Context) error {
	if dl, ok := ctx.Deadline(); ok {
		return c.conn.SetDeadline(dl)
	}
	if c.rwTimeout > 0 {
		return c.conn.SetDeadline(time.Now().Add(c.rwTimeout))
	}
	return nil
}
