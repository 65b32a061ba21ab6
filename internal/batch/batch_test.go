package batch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novaexec/internal/drivertest"
	"github.com/tuannm99/novaexec/internal/errs"
	"github.com/tuannm99/novaexec/internal/executor"
	"github.com/tuannm99/novaexec/param"
)

const insertSQL = "insert into users(name, age) values (?, ?)"

func users() [][]any {
	return [][]any{{"ann", 31}, {"bob", 42}, {"cid", 27}}
}

func run(t *testing.T, src *drivertest.Source, sets [][]any, batchSize int) ([]int64, error) {
	t.Helper()
	e := executor.New(src, nil, executor.Settings{})
	return Execute(context.Background(), e, &executor.Query{SQL: insertSQL}, sets, Positional, batchSize)
}

func requireNoLeaks(t *testing.T, src *drivertest.Source) {
	t.Helper()
	st := src.Stats()
	require.Zero(t, st.Leaked(), "open resources: %+v", st)
	require.Zero(t, st.Double, "resources closed twice: %+v", st)
}

// ---- tests: fallback ----

func TestExecute_Unsupported_OneExecPerSet(t *testing.T) {
	src := drivertest.New().SetBatchSupport(false)

	counts, err := run(t, src, users(), 2)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 1, 1}, counts)

	execs := src.Execs()
	require.Len(t, execs, 3)
	require.Equal(t, []any{"bob", int64(42)}, execs[1].Args)
	require.Empty(t, src.Flushes())
	requireNoLeaks(t, src)
}

// ---- tests: batching ----

func TestExecute_Supported_FlushesEveryBatchSize(t *testing.T) {
	src := drivertest.New().SetBatchSupport(true)

	counts, err := run(t, src, users(), 2)
	require.NoError(t, err)
	require.Len(t, counts, 3)

	flushes := src.Flushes()
	require.Len(t, flushes, 2)
	require.Len(t, flushes[0], 2)
	require.Len(t, flushes[1], 1)
	require.Equal(t, []any{"cid", int64(27)}, flushes[1][0])
	require.Empty(t, src.Execs())
	requireNoLeaks(t, src)
}

func TestExecute_ExactMultipleOfBatchSize(t *testing.T) {
	src := drivertest.New().SetBatchSupport(true)
	sets := append(users(), []any{"dee", 19})

	counts, err := run(t, src, sets, 2)
	require.NoError(t, err)
	require.Len(t, counts, 4)
	require.Len(t, src.Flushes(), 2)
}

func TestExecute_DefaultBatchSize(t *testing.T) {
	src := drivertest.New().SetBatchSupport(true)
	e := executor.New(src, nil, executor.Settings{BatchSize: 2})

	_, err := Execute(context.Background(), e, &executor.Query{SQL: insertSQL}, users(), Positional, 0)
	require.NoError(t, err)
	require.Len(t, src.Flushes(), 2)
}

func TestExecute_SumMatchesFallback(t *testing.T) {
	result := drivertest.Result{Affected: 2}
	batched := drivertest.New().SetBatchSupport(true).Script(insertSQL, result)
	single := drivertest.New().SetBatchSupport(false).Script(insertSQL, result)

	a, err := run(t, batched, users(), 2)
	require.NoError(t, err)
	b, err := run(t, single, users(), 2)
	require.NoError(t, err)

	sum := func(xs []int64) (n int64) {
		for _, x := range xs {
			n += x
		}
		return n
	}
	require.Equal(t, sum(b), sum(a))
	require.Equal(t, int64(6), sum(a))
}

// ---- tests: edges ----

func TestExecute_Empty(t *testing.T) {
	src := drivertest.New().SetBatchSupport(true)

	counts, err := run(t, src, nil, 2)
	require.NoError(t, err)
	require.NotNil(t, counts)
	require.Empty(t, counts)
	require.Zero(t, src.Stats().ConnsOpened)
}

func TestExecute_FlushFailureAborts(t *testing.T) {
	boom := errors.New("duplicate key")
	src := drivertest.New().SetBatchSupport(true).FailFlush(2, boom)
	sets := append(users(), []any{"dee", 19}, []any{"eve", 55})

	counts, err := run(t, src, sets, 2)
	require.Nil(t, counts)
	require.ErrorIs(t, err, boom)

	var de *errs.DriverError
	require.ErrorAs(t, err, &de)
	require.Equal(t, boom, de.Cause)
	require.Contains(t, err.Error(), "duplicate key")
	require.Len(t, src.Flushes(), 2)
	requireNoLeaks(t, src)
}

func TestExecute_SetterFailureAborts(t *testing.T) {
	src := drivertest.New().SetBatchSupport(false)
	boom := errors.New("bad row")
	e := executor.New(src, nil, executor.Settings{})

	_, err := Execute(context.Background(), e, &executor.Query{SQL: insertSQL}, []int{1, 2, 3},
		func(b *param.Binder, v int) error {
			if v == 2 {
				return boom
			}
			return b.SetInt(1, int64(v))
		}, 10)
	require.ErrorIs(t, err, boom)
	require.Len(t, src.Execs(), 1)
	requireNoLeaks(t, src)
}

func TestExecute_ConfigErrors(t *testing.T) {
	src := drivertest.New()
	e := executor.New(src, nil, executor.Settings{})

	_, err := Execute[[]any](context.Background(), e, &executor.Query{SQL: insertSQL}, users(), nil, 2)
	require.ErrorIs(t, err, errs.ErrConfiguration)

	q := &executor.Query{SQL: insertSQL, Args: []param.Value{param.Int(1)}}
	_, err = Execute(context.Background(), e, q, users(), Positional, 2)
	require.ErrorIs(t, err, errs.ErrConfiguration)

	require.Zero(t, src.Stats().ConnsOpened)
}

func TestPositional_BindsInOrder(t *testing.T) {
	b := param.NewBinder(0)
	require.NoError(t, Positional(b, []any{"x", nil, 3}))
	require.Equal(t, []any{"x", nil, int64(3)}, b.Args())

	require.Error(t, Positional(b, []any{make(chan int)}))
}
