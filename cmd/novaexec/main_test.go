package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novaexec/server/novaexecwire"
	"github.com/tuannm99/novaexec/sqlclient"
)

// ---- fakes ----

type fakeRemote struct {
	queries  []string
	execs    []string
	calls    []string
	failTx   error
	failExec error
}

func (f *fakeRemote) Query(_ context.Context, sql string, _ ...any) (*novaexecwire.Result, error) {
	f.queries = append(f.queries, sql)
	return &novaexecwire.Result{Columns: []string{"n"}, Rows: [][]any{{float64(1)}}, HasResultSet: true}, nil
}

func (f *fakeRemote) Exec(_ context.Context, sql string, _ ...any) (int64, error) {
	f.execs = append(f.execs, sql)
	if f.failExec != nil {
		return 0, f.failExec
	}
	return 3, nil
}

func (f *fakeRemote) Begin(context.Context) (string, error) {
	f.calls = append(f.calls, "begin")
	return "tx-1", f.failTx
}

func (f *fakeRemote) Commit(context.Context) error {
	f.calls = append(f.calls, "commit")
	return f.failTx
}

func (f *fakeRemote) Rollback(context.Context) error {
	f.calls = append(f.calls, "rollback")
	return f.failTx
}

// ---- tests: helpers ----

func TestStatementComplete(t *testing.T) {
	require.True(t, statementComplete("select 1;"))
	require.False(t, statementComplete("select 1"))
	require.False(t, statementComplete("select ';'"))
	require.True(t, statementComplete("select ';' ;"))
	require.False(t, statementComplete(`select 'it\'s;'`))
}

func TestCompactAndNormalize(t *testing.T) {
	require.Equal(t, "select a from t", compactOneLine("select  a\n\tfrom t\r\n"))
	require.Equal(t, "select 1", normalizeStmt("  select 1;; "))
	require.Empty(t, normalizeStmt(" ; "))
}

func TestIsQuery(t *testing.T) {
	require.True(t, isQuery("SELECT 1"))
	require.True(t, isQuery("with x as (select 1) select * from x"))
	require.True(t, isQuery("(select 1)"))
	require.True(t, isQuery("insert into t values (1) returning id"))
	require.False(t, isQuery("update t set a = 1"))
	require.False(t, isQuery(""))
}

func TestIsMetaCommand(t *testing.T) {
	require.True(t, isMetaCommand(`\q`))
	require.True(t, isMetaCommand(" exit "))
	require.False(t, isMetaCommand("select 1;"))
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, &novaexecwire.Result{
		Columns:      []string{"id", "name"},
		Rows:         [][]any{{float64(1), "ann"}, {float64(2), nil}},
		HasResultSet: true,
	})
	require.Equal(t, "id | name\n"+
		"---+-----\n"+
		"1  | ann \n"+
		"2  | NULL\n"+
		"(2 rows)\n", buf.String())

	buf.Reset()
	printResult(&buf, &novaexecwire.Result{AffectedRows: 4})
	require.Equal(t, "OK (4 affected)\n", buf.String())
}

// ---- tests: history ----

func TestJournal_RecordOutcomes(t *testing.T) {
	j := NewJournal(2)
	j.Record("select\n  1", time.Millisecond, &novaexecwire.Result{Rows: [][]any{{1}, {2}}, HasResultSet: true}, nil)
	j.Record("update t set v = 1", 2*time.Millisecond, &novaexecwire.Result{AffectedRows: 5}, nil)
	j.Record("commit", 3*time.Millisecond, nil,
		&sqlclient.ServerError{Code: novaexecwire.CodeTxDone, Message: "no transaction"})

	got := j.Entries()
	require.Len(t, got, 2)
	require.Equal(t, Entry{SQL: "update t set v = 1", Took: 2 * time.Millisecond, Outcome: "5 affected"}, got[0])
	require.Equal(t, string(novaexecwire.CodeTxDone), got[1].Outcome)
	require.True(t, got[1].Failed)
	require.Equal(t, 1, j.Failures())

	var buf bytes.Buffer
	j.Print(&buf, 1)
	require.Equal(t, fmt.Sprintf("%4d  %-14s %8s  %s\n", 2, "tx_done", "3ms", "commit"), buf.String())

	all := NewJournal(0)
	all.Record("select 1", 0, &novaexecwire.Result{Rows: [][]any{}, HasResultSet: true}, nil)
	all.Record("bad", 0, nil, errors.New("dial tcp: refused"))
	require.Equal(t, "0 rows", all.Entries()[0].Outcome)
	require.Equal(t, "error", all.Entries()[1].Outcome)
}

// ---- tests: shell ----

func newTestShell(t *testing.T) (*shell, *fakeRemote, *bytes.Buffer) {
	t.Helper()
	fr := &fakeRemote{}
	var out bytes.Buffer
	return &shell{cli: fr, out: &out, journal: NewJournal(10)}, fr, &out
}

func TestShell_MultilineStatement(t *testing.T) {
	sh, fr, out := newTestShell(t)
	ctx := context.Background()

	stmt, quit := sh.feed(ctx, "select n")
	require.Empty(t, stmt)
	require.False(t, quit)
	require.Equal(t, promptCont, sh.prompt())

	stmt, _ = sh.feed(ctx, "from t;")
	require.Equal(t, "select n from t", stmt)
	require.Equal(t, []string{"select n from t"}, fr.queries)
	require.Contains(t, out.String(), "(1 rows)")
	require.Len(t, sh.journal.Entries(), 1)
	require.Equal(t, "select n from t", sh.journal.Entries()[0].SQL)
	require.Equal(t, "1 rows", sh.journal.Entries()[0].Outcome)

	sh.feed(ctx, "delete from t;")
	require.Equal(t, []string{"delete from t"}, fr.execs)
	require.Contains(t, out.String(), "OK (3 affected)")
	require.Equal(t, "3 affected", sh.journal.Entries()[1].Outcome)
}

func TestShell_HistoryShowsFailures(t *testing.T) {
	sh, fr, out := newTestShell(t)
	ctx := context.Background()

	fr.failExec = &sqlclient.ServerError{Code: novaexecwire.CodeDriver, Message: "no such table: t"}
	sh.feed(ctx, "delete from t;")
	require.Contains(t, out.String(), "error: driver: no such table: t")

	out.Reset()
	sh.feed(ctx, `\history`)
	require.Contains(t, out.String(), "driver")
	require.Contains(t, out.String(), "delete from t")
	require.Contains(t, out.String(), "(1 failed)")
}

func TestShell_MetaCommands(t *testing.T) {
	sh, fr, out := newTestShell(t)
	ctx := context.Background()

	sh.feed(ctx, `\begin`)
	require.True(t, sh.inTx)
	require.Equal(t, promptTx, sh.prompt())
	sh.feed(ctx, `\commit`)
	require.False(t, sh.inTx)
	sh.feed(ctx, `\nope`)
	require.Equal(t, []string{"begin", "commit"}, fr.calls)
	require.Contains(t, out.String(), "BEGIN tx-1")
	require.Contains(t, out.String(), "unknown command")

	fr.failTx = errors.New("tx_done: no transaction")
	sh.feed(ctx, `\rollback`)
	require.Contains(t, out.String(), "error: tx_done")

	_, quit := sh.feed(ctx, `\q`)
	require.True(t, quit)
}

// ---- tests: exec command ----

func TestExecCommand_SQLite(t *testing.T) {
	t.Setenv("NOVAEXEC_SOURCE_DRIVER", "sqlite")
	t.Setenv("NOVAEXEC_SOURCE_DSN", filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv("NOVAEXEC_LOG_LEVEL", "error")

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(args)
		require.NoError(t, rootCmd.Execute())
		return out.String()
	}

	require.Equal(t, "OK (0 affected)\n", run("exec", "create table kv (k text, v text);"))
	require.Equal(t, "OK (1 affected)\n", run("exec", "insert into kv values (?, ?)", "a", "x"))
	require.Equal(t, "k | v\n--+--\na | x\n(1 rows)\n", run("exec", "select k, v from kv"))
}
