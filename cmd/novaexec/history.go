package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/tuannm99/novaexec/server/novaexecwire"
	"github.com/tuannm99/novaexec/sqlclient"
)

// Entry is one statement run in this shell session.
type Entry struct {
	SQL     string
	Took    time.Duration
	Outcome string
	Failed  bool
}

// Journal records what each statement of the session did. The persistent
// line history lives in the readline history file.
type Journal struct {
	entries []Entry
	max     int
}

// NewJournal keeps at most max entries; max <= 0 keeps all.
func NewJournal(max int) *Journal {
	return &Journal{max: max}
}

// Record stores the outcome of stmt: row or affected counts on success, the
// server error code on failure.
func (j *Journal) Record(stmt string, took time.Duration, res *novaexecwire.Result, err error) {
	e := Entry{SQL: compactOneLine(stmt), Took: took}
	switch {
	case err != nil:
		e.Failed = true
		e.Outcome = "error"
		var se *sqlclient.ServerError
		if errors.As(err, &se) && se.Code != "" {
			e.Outcome = string(se.Code)
		}
	case res != nil && res.HasResultSet:
		e.Outcome = fmt.Sprintf("%d rows", len(res.Rows))
	case res != nil:
		e.Outcome = fmt.Sprintf("%d affected", res.AffectedRows)
	}

	j.entries = append(j.entries, e)
	if j.max > 0 && len(j.entries) > j.max {
		j.entries = j.entries[len(j.entries)-j.max:]
	}
}

func (j *Journal) Entries() []Entry { return j.entries }

// Failures counts entries that ended in an error.
func (j *Journal) Failures() int {
	n := 0
	for _, e := range j.entries {
		if e.Failed {
			n++
		}
	}
	return n
}

// Print writes the last n entries (all when n <= 0) with their outcome and
// round-trip time.
func (j *Journal) Print(w io.Writer, last int) {
	if last <= 0 || last > len(j.entries) {
		last = len(j.entries)
	}
	for i := len(j.entries) - last; i < len(j.entries); i++ {
		e := j.entries[i]
		fmt.Fprintf(w, "%4d  %-14s %8s  %s\n", i+1, e.Outcome, e.Took.Round(time.Millisecond), e.SQL)
	}
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".novaexec_history"
	}
	return filepath.Join(home, ".novaexec_history")
}
