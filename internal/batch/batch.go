// Package batch groups parameterized updates into driver batches, falling back
// to one execution per parameter set when the driver cannot batch.
package batch

import (
	"context"
	"fmt"

	"github.com/tuannm99/novaexec/driver"
	"github.com/tuannm99/novaexec/internal/errs"
	"github.com/tuannm99/novaexec/internal/executor"
	"github.com/tuannm99/novaexec/internal/metrics"
	"github.com/tuannm99/novaexec/internal/scope"
	"github.com/tuannm99/novaexec/param"
)

// SetterFunc binds one parameter set.
type SetterFunc[S any] func(b *param.Binder, set S) error

// Execute runs q once per element of sets and returns one affected-row count
// per set, in order.
//
// When the driver reports batch support the sets are sent in groups of
// batchSize, the last group possibly shorter. A failing group aborts the call;
// counts from earlier groups are not returned. batchSize <= 0 uses the
// executor default.
func Execute[S any](
	ctx context.Context,
	e *executor.Executor,
	q *executor.Query,
	sets []S,
	setter SetterFunc[S],
	batchSize int,
) ([]int64, error) {
	if setter == nil {
		return nil, errs.Config("batch setter", "nil setter")
	}
	if len(q.Args) > 0 || q.Setter != nil {
		return nil, errs.Config("parameters", "batch statements take parameters from the parameter sets")
	}
	if len(sets) == 0 {
		return []int64{}, nil
	}
	if batchSize <= 0 {
		batchSize = e.Settings().BatchSize
	}

	// Queried once per call, from the connection the statement is prepared on.
	supported := false
	create := func(ctx context.Context, p driver.Preparer, q *executor.Query) (driver.Stmt, error) {
		supported = driver.SupportsBatch(p)
		return executor.PrepareStatement(ctx, p, q)
	}

	body := func(ctx context.Context, stmt driver.Stmt, _ *executor.Query, _ *scope.Lease) ([]int64, error) {
		if bt, ok := stmt.(driver.Batcher); ok && supported {
			return runBatched(ctx, bt, sets, setter, batchSize)
		}
		return runSingle(ctx, stmt, sets, setter)
	}

	counts, _, err := executor.Run(ctx, e, q, executor.StrategyBatch, create, body, true)
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func runBatched[S any](ctx context.Context, bt driver.Batcher, sets []S, setter SetterFunc[S], batchSize int) ([]int64, error) {
	b := param.NewBinder(0)
	out := make([]int64, 0, len(sets))
	last := len(sets) - 1

	for i, set := range sets {
		b.Clear()
		if err := setter(b, set); err != nil {
			bt.ClearBatch()
			return nil, fmt.Errorf("batch: parameter set %d: %w", i, err)
		}
		if err := bt.AddBatch(b.Args()); err != nil {
			bt.ClearBatch()
			return nil, fmt.Errorf("batch: add parameter set %d: %w", i, err)
		}

		if (i+1)%batchSize != 0 && i != last {
			continue
		}

		counts, err := bt.ExecBatch(ctx)
		bt.ClearBatch()
		metrics.BatchFlush("batch")
		if err != nil {
			return nil, fmt.Errorf("batch: flush ending at parameter set %d: %w", i, err)
		}
		out = append(out, counts...)
	}
	return out, nil
}

func runSingle[S any](ctx context.Context, stmt driver.Stmt, sets []S, setter SetterFunc[S]) ([]int64, error) {
	b := param.NewBinder(0)
	out := make([]int64, 0, len(sets))

	for i, set := range sets {
		b.Clear()
		if err := setter(b, set); err != nil {
			return nil, fmt.Errorf("batch: parameter set %d: %w", i, err)
		}
		n, err := stmt.Exec(ctx, b.Args())
		metrics.BatchFlush("single")
		if err != nil {
			return nil, fmt.Errorf("batch: parameter set %d: %w", i, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Positional is the setter for parameter sets given as plain argument lists.
func Positional(b *param.Binder, set []any) error {
	for i, a := range set {
		if err := b.Bind(i+1, a); err != nil {
			return err
		}
	}
	return nil
}
