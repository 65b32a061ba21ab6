package sqlclient

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/tuannm99/novaexec"
	"github.com/tuannm99/novaexec/server/novaexecwire"
)

func startSQLiteServer(t *testing.T) string {
	t.Helper()
	db, err := novaexec.Open("sqlite", filepath.Join(t.TempDir(), "wire.db"), novaexec.DefaultOptions())
	require.NoError(t, err)

	srv, err := novaexecwire.New(db, novaexecwire.Config{MaxSessions: 2})
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		require.NoError(t, db.Close())
	})
	return ln.Addr().String()
}

func dialClient(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := Dial(addr, time.Second)
	require.NoError(t, err)
	c.SetRWTimeout(5 * time.Second)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_EndToEnd(t *testing.T) {
	c := dialClient(t, startSQLiteServer(t))
	ctx := context.Background()

	_, err := c.Exec(ctx, "create table kv (k text primary key, v integer)")
	require.NoError(t, err)

	counts, err := c.Batch(ctx, "insert into kv values (?, ?)", [][]any{{"a", 1}, {"b", 2}, {"c", 3}}, 2)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 1, 1}, counts)

	n, err := c.Exec(ctx, "update kv set v = v * 10 where v >= ?", 2)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	res, err := c.Query(ctx, "select k, v from kv order by k")
	require.NoError(t, err)
	require.Equal(t, []string{"k", "v"}, res.Columns)
	require.Equal(t, [][]any{{"a", float64(1)}, {"b", float64(20)}, {"c", float64(30)}}, res.Rows)
}

func TestClient_Transaction(t *testing.T) {
	c := dialClient(t, startSQLiteServer(t))
	ctx := context.Background()

	_, err := c.Exec(ctx, "create table kv (k text primary key, v integer)")
	require.NoError(t, err)

	id, err := c.Begin(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	_, err = c.Exec(ctx, "insert into kv values (?, ?)", "a", 1)
	require.NoError(t, err)
	require.NoError(t, c.Rollback(ctx))

	res, err := c.Query(ctx, "select count(*) from kv")
	require.NoError(t, err)
	require.Equal(t, [][]any{{float64(0)}}, res.Rows)

	_, err = c.Begin(ctx)
	require.NoError(t, err)
	_, err = c.Exec(ctx, "insert into kv values (?, ?)", "a", 1)
	require.NoError(t, err)
	require.NoError(t, c.Commit(ctx))

	res, err = c.Query(ctx, "select count(*) from kv")
	require.NoError(t, err)
	require.Equal(t, [][]any{{float64(1)}}, res.Rows)
}

func TestClient_ServerErrors(t *testing.T) {
	c := dialClient(t, startSQLiteServer(t))
	ctx := context.Background()

	_, err := c.Query(ctx, "select * from missing")
	var se *ServerError
	require.ErrorAs(t, err, &se)
	require.Equal(t, novaexecwire.CodeDriver, se.Code)
	require.Contains(t, se.Message, "select * from missing")

	err = c.Commit(ctx)
	require.ErrorAs(t, err, &se)
	require.Equal(t, novaexecwire.CodeTxDone, se.Code)

	_, err = c.Exec(ctx, "")
	require.ErrorAs(t, err, &se)
	require.Equal(t, novaexecwire.CodeConfig, se.Code)

	_, err = c.Query(ctx, "select 1")
	require.NoError(t, err)
}

func TestClient_Nil(t *testing.T) {
	var c *Client
	_, err := c.Query(context.Background(), "select 1")
	require.ErrorIs(t, err, ErrNilClient)
	require.NoError(t, c.Close())
}
