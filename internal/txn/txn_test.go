package txn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novaexec/internal/drivertest"
	"github.com/tuannm99/novaexec/internal/errs"
)

func TestParseCloseAction(t *testing.T) {
	a, err := ParseCloseAction("")
	require.NoError(t, err)
	require.Equal(t, CloseRollback, a)

	a, err = ParseCloseAction("commit")
	require.NoError(t, err)
	require.Equal(t, CloseCommit, a)

	_, err = ParseCloseAction("abort")
	require.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestTransaction_CommitOnce(t *testing.T) {
	src := drivertest.New()
	tx, err := Begin(context.Background(), src, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, tx.ID())
	require.Equal(t, Active, tx.State())

	require.NoError(t, tx.Commit(context.Background()))
	require.Equal(t, Committed, tx.State())
	require.ErrorIs(t, tx.Commit(context.Background()), errs.ErrTxDone)
	require.ErrorIs(t, tx.Rollback(context.Background()), errs.ErrTxDone)

	_, err = tx.Preparer()
	require.ErrorIs(t, err, errs.ErrTxDone)

	require.NoError(t, tx.Close())
	require.Equal(t, Closed, tx.State())
	st := src.Stats()
	require.Equal(t, 1, st.Commits)
	require.Equal(t, 1, st.ConnsClosed)
}

func TestTransaction_CloseAppliesAction(t *testing.T) {
	for _, tc := range []struct {
		action             CloseAction
		commits, rollbacks int
	}{
		{CloseRollback, 0, 1},
		{CloseCommit, 1, 0},
	} {
		src := drivertest.New()
		tx, err := Begin(context.Background(), src, Options{CloseAction: tc.action})
		require.NoError(t, err)

		require.NoError(t, tx.Close())
		require.NoError(t, tx.Close())

		st := src.Stats()
		require.Equal(t, tc.commits, st.Commits, tc.action)
		require.Equal(t, tc.rollbacks, st.Rollbacks, tc.action)
		require.Equal(t, 1, st.ConnsClosed)
		require.Zero(t, st.Double)
	}
}

func TestTransaction_CommitFailure(t *testing.T) {
	boom := errors.New("serialization failure")
	src := drivertest.New().FailCommit(boom)
	tx, err := Begin(context.Background(), src, Options{})
	require.NoError(t, err)

	err = tx.Commit(context.Background())
	require.ErrorIs(t, err, boom)
	var de *errs.DriverError
	require.ErrorAs(t, err, &de)
	require.Equal(t, RolledBack, tx.State())

	require.NoError(t, tx.Close())
	require.Equal(t, 1, src.Stats().ConnsClosed)
}

func TestBegin_FailureReleasesConnection(t *testing.T) {
	src := drivertest.New().FailBegin(errors.New("read only"))
	_, err := Begin(context.Background(), src, Options{})
	require.Error(t, err)

	st := src.Stats()
	require.Equal(t, 1, st.ConnsOpened)
	require.Equal(t, 1, st.ConnsClosed)
}

func TestContextBinding(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)

	tx, err := Begin(context.Background(), drivertest.New(), Options{})
	require.NoError(t, err)
	defer tx.Close()

	got, ok := FromContext(WithContext(context.Background(), tx))
	require.True(t, ok)
	require.Same(t, tx, got)

	_, ok = FromContext(WithContext(context.Background(), nil))
	require.False(t, ok)
}
