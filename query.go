package novaexec

import (
	"context"

	"github.com/tuannm99/novaexec/internal/batch"
	"github.com/tuannm99/novaexec/internal/executor"
	"github.com/tuannm99/novaexec/param"
	"github.com/tuannm99/novaexec/rowmap"
	"github.com/tuannm99/novaexec/stream"
)

// Query runs st and hands the whole cursor to extractor. Everything is
// released before Query returns.
func Query[T any](ctx context.Context, st *Statement, extractor rowmap.ResultExtractor[T]) (T, error) {
	return extract(ctx, st, executor.StrategyExtract, false, extractor)
}

// QueryAsList maps every row through mapper. The result is never nil on
// success.
func QueryAsList[T any](ctx context.Context, st *Statement, mapper rowmap.RowMapper[T]) ([]T, error) {
	return extract(ctx, st, executor.StrategyList, false, rowmap.List(mapper))
}

// QueryOne maps the first row; an empty result is ErrNoRows.
func QueryOne[T any](ctx context.Context, st *Statement, mapper rowmap.RowMapper[T]) (T, error) {
	return extract(ctx, st, executor.StrategyExtract, false, rowmap.First(mapper))
}

// CallQuery runs st as a stored-procedure call and extracts its result set.
func CallQuery[T any](ctx context.Context, st *Statement, extractor rowmap.ResultExtractor[T]) (T, error) {
	return extract(ctx, st, executor.StrategyCall, true, extractor)
}

func extract[T any](ctx context.Context, st *Statement, strategy string, call bool, extractor rowmap.ResultExtractor[T]) (T, error) {
	var zero T
	q, err := st.build()
	if err != nil {
		return zero, err
	}
	q.Call = call
	return executor.Extract(ctx, st.c.exec, q, strategy, func(c *executor.Cursor) (T, error) {
		return extractor(c)
	})
}

// QueryAsStream executes st and returns a lazy iterator over its rows. The
// caller must Close the iterator; it holds a connection until then unless ctx
// carries a transaction.
func QueryAsStream[T any](ctx context.Context, st *Statement, mapper rowmap.RowMapper[T]) (*stream.Iterator[T], error) {
	q, err := st.build()
	if err != nil {
		return nil, err
	}
	cur, err := executor.Open(ctx, st.c.exec, q, executor.StrategyStream)
	if err != nil {
		return nil, err
	}
	return stream.NewIterator(cur, mapper), nil
}

// QueryAsPublisher returns a cold publisher for st. Nothing runs until
// Subscribe; builder errors are delivered to the subscriber.
func QueryAsPublisher[T any](st *Statement, mapper rowmap.RowMapper[T]) *stream.Publisher[T] {
	q, err := st.build()
	var exec *executor.Executor
	if err == nil {
		exec = st.c.exec
	}
	return stream.NewPublisher(func(ctx context.Context) (*executor.Cursor, error) {
		if err != nil {
			return nil, err
		}
		return executor.Open(ctx, exec, q, executor.StrategyPublisher)
	}, mapper)
}

// UpdateBatchFunc executes st once per element of sets, binding each through
// setter. Groups of batchSize are sent together when the driver supports
// batching; otherwise each set is executed on its own. batchSize <= 0 uses
// the client's default.
func UpdateBatchFunc[S any](
	ctx context.Context,
	st *Statement,
	sets []S,
	setter func(b *param.Binder, set S) error,
	batchSize int,
) ([]int64, error) {
	q, err := st.build()
	if err != nil {
		return nil, err
	}
	return batch.Execute(ctx, st.c.exec, q, sets, setter, batchSize)
}
