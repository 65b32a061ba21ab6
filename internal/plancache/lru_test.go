package plancache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)

	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("c", 3)
	_, ok = c.Get("b")
	require.False(t, ok)
	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.Equal(t, 2, c.Len())
}

func TestLRU_PutUpdatesExisting(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	c.Put("a", 5)
	v, _ := c.Get("a")
	require.Equal(t, 5, v)
	require.Equal(t, 1, c.Len())
}

func TestLRU_GetOrCreate(t *testing.T) {
	c := New[int, string](0)
	builds := 0
	build := func() (string, error) {
		builds++
		return "plan", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrCreate(1, build)
		require.NoError(t, err)
		require.Equal(t, "plan", v)
	}
	require.Equal(t, 1, builds)

	boom := errors.New("no plan")
	_, err := c.GetOrCreate(2, func() (string, error) { return "", boom })
	require.ErrorIs(t, err, boom)
	_, ok := c.Get(2)
	require.False(t, ok)
}
