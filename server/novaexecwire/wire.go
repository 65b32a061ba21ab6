// Package novaexecwire carries engine operations over TCP using
// length-prefixed JSON frames.
package novaexecwire

import (
	"errors"
	"math"

	"github.com/tuannm99/novaexec/internal/errs"
)

type Op string

const (
	OpQuery    Op = "query"
	OpExec     Op = "exec"
	OpBatch    Op = "batch"
	OpCall     Op = "call"
	OpBegin    Op = "begin"
	OpCommit   Op = "commit"
	OpRollback Op = "rollback"
)

// Request is one operation. Args applies to query, exec and call; Batch holds
// one argument list per execution of a batch.
type Request struct {
	ID        uint64  `json:"id"`
	Op        Op      `json:"op"`
	SQL       string  `json:"sql,omitempty"`
	Args      []any   `json:"args,omitempty"`
	Batch     [][]any `json:"batch,omitempty"`
	BatchSize int     `json:"batch_size,omitempty"`
}

// Response answers the request with the same ID. Exactly one of Result and
// Error is set.
type Response struct {
	ID     uint64  `json:"id"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
	Code   Code    `json:"code,omitempty"`
}

type Result struct {
	Columns      []string `json:"columns,omitempty"`
	Rows         [][]any  `json:"rows,omitempty"`
	AffectedRows int64    `json:"affected_rows"`
	Counts       []int64  `json:"counts,omitempty"`
	HasResultSet bool     `json:"has_result_set,omitempty"`
	TxID         string   `json:"tx_id,omitempty"`
}

// Code classifies a failed request.
type Code string

const (
	CodeConfig      Code = "config"
	CodeDriver      Code = "driver"
	CodeTxDone      Code = "tx_done"
	CodeNoRows      Code = "no_rows"
	CodeRateLimited Code = "rate_limited"
	CodeBusy        Code = "busy"
)

func codeOf(err error) Code {
	switch {
	case errors.Is(err, errs.ErrConfiguration):
		return CodeConfig
	case errors.Is(err, errs.ErrTxDone):
		return CodeTxDone
	case errors.Is(err, errs.ErrNoRows):
		return CodeNoRows
	}
	return CodeDriver
}

// normalizeArgs turns JSON numbers that hold whole values back into int64.
func normalizeArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if f, ok := a.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			out[i] = int64(f)
			continue
		}
		out[i] = a
	}
	return out
}

// jsonRow makes driver values safe for JSON: byte slices become strings.
func jsonRow(row []any) []any {
	for i, v := range row {
		if b, ok := v.([]byte); ok {
			row[i] = string(b)
		}
	}
	return row
}
