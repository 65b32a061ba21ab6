package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/tuannm99/novaexec/server/novaexecwire"
)

// compactOneLine collapses newlines, tabs and runs of spaces into one space.
func compactOneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// statementComplete reports whether buf holds a ';' outside single quotes.
func statementComplete(buf string) bool {
	inQuote := false
	escaped := false

	for _, r := range buf {
		if escaped {
			escaped = false
			continue
		}
		switch {
		case r == '\\':
			escaped = true
		case r == '\'':
			inQuote = !inQuote
		case r == ';' && !inQuote:
			return true
		}
	}
	return false
}

// normalizeStmt trims whitespace and trailing semicolons.
func normalizeStmt(buf string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(buf), ";"))
}

func isMetaCommand(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "\\") || line == "quit" || line == "exit"
}

var queryKeywords = map[string]bool{
	"select":  true,
	"with":    true,
	"values":  true,
	"pragma":  true,
	"explain": true,
	"show":    true,
	"table":   true,
}

// isQuery guesses whether stmt produces rows.
func isQuery(stmt string) bool {
	fields := strings.Fields(strings.ToLower(stmt))
	if len(fields) == 0 {
		return false
	}
	if queryKeywords[strings.TrimLeft(fields[0], "(")] {
		return true
	}
	for _, f := range fields[1:] {
		if f == "returning" {
			return true
		}
	}
	return false
}

func printResult(w io.Writer, res *novaexecwire.Result) {
	if !res.HasResultSet {
		fmt.Fprintf(w, "OK (%d affected)\n", res.AffectedRows)
		return
	}

	cols := res.Columns
	cells := make([][]string, len(res.Rows))
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = len(c)
	}
	for r, row := range res.Rows {
		cells[r] = make([]string, len(cols))
		for i := range cols {
			s := "NULL"
			if i < len(row) && row[i] != nil {
				s = fmt.Sprintf("%v", row[i])
			}
			cells[r][i] = s
			widths[i] = max(widths[i], len(s))
		}
	}

	printRow := func(values []string) {
		for i := range cols {
			if i > 0 {
				fmt.Fprint(w, " | ")
			}
			fmt.Fprint(w, padRight(values[i], widths[i]))
		}
		fmt.Fprintln(w)
	}

	printRow(cols)
	for i := range cols {
		if i > 0 {
			fmt.Fprint(w, "-+-")
		}
		fmt.Fprint(w, strings.Repeat("-", widths[i]))
	}
	fmt.Fprintln(w)
	for _, row := range cells {
		printRow(row)
	}
	fmt.Fprintf(w, "(%d rows)\n", len(res.Rows))
}

func padRight(s string, w int) string {
	if len(s) >= w {
		return s
	}
	return s + strings.Repeat(" ", w-len(s))
}
