package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/tuannm99/novaexec/server/novaexecwire"
	"github.com/tuannm99/novaexec/sqlclient"
)

// journalMax bounds the in-memory statement journal.
const journalMax = 500

const (
	promptMain = "novaexec> "
	promptCont = "...> "
	promptTx   = "novaexec*> "
)

var shellFlags struct {
	addr       string
	timeout    time.Duration
	history    string
	historyMax int
	command    string
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive SQL shell against a running server",
	RunE:  runShell,
}

func init() {
	f := shellCmd.Flags()
	f.StringVar(&shellFlags.addr, "addr", "", "server address (defaults to server.addr)")
	f.DurationVar(&shellFlags.timeout, "timeout", 3*time.Second, "dial timeout")
	f.StringVar(&shellFlags.history, "history", defaultHistoryPath(), "history file path")
	f.IntVar(&shellFlags.historyMax, "history-max", 2000, "max lines kept in the history file")
	f.StringVarP(&shellFlags.command, "command", "c", "", "execute one statement and exit")
}

// remote is the part of sqlclient.Client the shell drives.
type remote interface {
	Query(ctx context.Context, sql string, args ...any) (*novaexecwire.Result, error)
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Begin(ctx context.Context) (string, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

func runShell(cmd *cobra.Command, _ []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	addr := shellFlags.addr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	cli, err := sqlclient.DialContext(cmd.Context(), addr, shellFlags.timeout)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = cli.Close() }()

	out := cmd.OutOrStdout()
	if stmt := normalizeStmt(shellFlags.command); stmt != "" {
		_, err := runStatement(cmd.Context(), cli, out, stmt)
		return err
	}

	// readline loads the file and trims it to HistoryLimit; only complete
	// statements are saved, one line each.
	rl, err := readline.NewEx(&readline.Config{
		Prompt:                 promptMain,
		InterruptPrompt:        "^C",
		EOFPrompt:              "exit",
		HistoryFile:            shellFlags.history,
		HistoryLimit:           shellFlags.historyMax,
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer func() { _ = rl.Close() }()

	fmt.Fprintf(out, "connected to %s\n", addr)
	fmt.Fprintln(out, "type \\help for help")

	sh := &shell{cli: cli, out: out, journal: NewJournal(journalMax)}
	sh.loop(cmd.Context(), rl)
	return nil
}

type shell struct {
	cli     remote
	out     io.Writer
	journal *Journal
	buf     strings.Builder
	inTx    bool
}

func (sh *shell) prompt() string {
	switch {
	case sh.buf.Len() > 0:
		return promptCont
	case sh.inTx:
		return promptTx
	}
	return promptMain
}

func (sh *shell) loop(ctx context.Context, rl *readline.Instance) {
	for {
		rl.SetPrompt(sh.prompt())
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			// Ctrl+C clears the pending statement.
			if sh.buf.Len() > 0 {
				sh.buf.Reset()
				continue
			}
			fmt.Fprintln(sh.out, "^C")
			continue
		}
		if err != nil {
			fmt.Fprintln(sh.out)
			return
		}

		stmt, quit := sh.feed(ctx, line)
		if quit {
			return
		}
		if stmt != "" {
			_ = rl.SaveHistory(compactOneLine(stmt))
		}
	}
}

// feed consumes one input line. It returns the statement it executed, if
// any, and whether the shell should exit.
func (sh *shell) feed(ctx context.Context, line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}

	if sh.buf.Len() == 0 && isMetaCommand(line) {
		return "", sh.meta(ctx, line)
	}

	if sh.buf.Len() > 0 {
		sh.buf.WriteByte(' ')
	}
	sh.buf.WriteString(line)
	if !statementComplete(sh.buf.String()) {
		return "", false
	}

	stmt := normalizeStmt(sh.buf.String())
	sh.buf.Reset()
	if stmt == "" {
		return "", false
	}
	start := time.Now()
	res, err := runStatement(ctx, sh.cli, sh.out, stmt)
	sh.journal.Record(stmt, time.Since(start), res, err)
	if err != nil {
		fmt.Fprintf(sh.out, "error: %v\n", err)
	}
	return stmt, false
}

func (sh *shell) meta(ctx context.Context, line string) bool {
	var err error
	switch line {
	case "\\q", "quit", "exit":
		return true
	case "\\help":
		fmt.Fprint(sh.out, helpText)
	case "\\history":
		sh.journal.Print(sh.out, 50)
		if n := sh.journal.Failures(); n > 0 {
			fmt.Fprintf(sh.out, "(%d failed)\n", n)
		}
	case "\\begin":
		var id string
		if id, err = sh.cli.Begin(ctx); err == nil {
			sh.inTx = true
			fmt.Fprintf(sh.out, "BEGIN %s\n", id)
		}
	case "\\commit":
		if err = sh.cli.Commit(ctx); err == nil {
			fmt.Fprintln(sh.out, "COMMIT")
		}
		sh.inTx = false
	case "\\rollback":
		if err = sh.cli.Rollback(ctx); err == nil {
			fmt.Fprintln(sh.out, "ROLLBACK")
		}
		sh.inTx = false
	default:
		fmt.Fprintf(sh.out, "unknown command: %s\n", line)
	}
	if err != nil {
		fmt.Fprintf(sh.out, "error: %v\n", err)
	}
	return false
}

const helpText = `meta commands:
  \q | quit | exit       quit
  \begin                 open a session transaction
  \commit                commit it
  \rollback              roll it back
  \history               statements run this session with outcome and time
  \help                  show help

sql:
  end statements with ';'
  multiline input waits until ';'
`

// runStatement sends stmt as a query or an exec, prints the result and
// returns it.
func runStatement(ctx context.Context, cli remote, out io.Writer, stmt string) (*novaexecwire.Result, error) {
	var res *novaexecwire.Result
	if isQuery(stmt) {
		r, err := cli.Query(ctx, stmt)
		if err != nil {
			return nil, err
		}
		res = r
	} else {
		n, err := cli.Exec(ctx, stmt)
		if err != nil {
			return nil, err
		}
		res = &novaexecwire.Result{AffectedRows: n}
	}
	printResult(out, res)
	return res, nil
}
