package rowmap

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novaexec/driver"
	"github.com/tuannm99/novaexec/internal/errs"
)

// ---- fakes ----

type fakeCursor struct {
	cols      []string
	rows      [][]any
	pos       int
	err       error
	colsCalls int
}

func newCursor(cols []string, rows ...[]any) *fakeCursor {
	return &fakeCursor{cols: cols, rows: rows, pos: -1}
}

func (c *fakeCursor) Columns() ([]driver.Column, error) {
	c.colsCalls++
	out := make([]driver.Column, len(c.cols))
	for i, n := range c.cols {
		out[i] = driver.Column{Name: n}
	}
	return out, nil
}

func (c *fakeCursor) Next() bool {
	if c.pos+1 >= len(c.rows) {
		return false
	}
	c.pos++
	return true
}

func (c *fakeCursor) Err() error { return c.err }

func (c *fakeCursor) Scan(dest ...any) error {
	row := c.rows[c.pos]
	if len(dest) != len(row) {
		return errors.New("fake: destination count mismatch")
	}
	for i, d := range dest {
		if p, ok := d.(*any); ok {
			*p = row[i]
			continue
		}
		if row[i] == nil {
			continue
		}
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(row[i]))
	}
	return nil
}

// ---- tests: extractors ----

func TestList_NonNilWhenEmpty(t *testing.T) {
	got, err := List(Scalar[int64]())(newCursor([]string{"n"}))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestList_PropagatesCursorError(t *testing.T) {
	c := newCursor([]string{"n"}, []any{int64(1)})
	c.err = errors.New("broken pipe")
	_, err := List(Scalar[int64]())(c)
	require.EqualError(t, err, "broken pipe")
}

func TestFirst(t *testing.T) {
	v, err := First(Scalar[string]())(newCursor([]string{"s"}, []any{"a"}, []any{"b"}))
	require.NoError(t, err)
	require.Equal(t, "a", v)

	_, err = First(Scalar[string]())(newCursor([]string{"s"}))
	require.ErrorIs(t, err, errs.ErrNoRows)
}

func TestColumnMaps_ResolvesColumnsOnce(t *testing.T) {
	c := newCursor([]string{"id", "name"}, []any{int64(1), "ann"}, []any{int64(2), "bob"})
	got, err := ColumnMaps()(c)
	require.NoError(t, err)
	require.Equal(t, []map[string]any{
		{"id": int64(1), "name": "ann"},
		{"id": int64(2), "name": "bob"},
	}, got)
	require.Equal(t, 1, c.colsCalls)
}

func TestValues(t *testing.T) {
	c := newCursor([]string{"a", "b"}, []any{int64(1), nil})
	require.True(t, c.Next())
	got, err := Values()(c)
	require.NoError(t, err)
	require.Equal(t, []any{int64(1), nil}, got)
}

// ---- tests: struct mapping ----

type Audit struct {
	CreatedBy string `db:"created_by"`
}

type account struct {
	Audit
	ID      int64  `db:"id"`
	Name    string `db:"name"`
	Email   string
	Ignored string `db:"-"`
	secret  string
}

func TestStruct_TagsNamesAndEmbedding(t *testing.T) {
	c := newCursor([]string{"id", "name", "EMAIL", "created_by", "extra"},
		[]any{int64(7), "ann", "ann@example.com", "root", "dropped"})
	require.True(t, c.Next())

	got, err := Struct[account]()(c)
	require.NoError(t, err)
	require.Equal(t, int64(7), got.ID)
	require.Equal(t, "ann", got.Name)
	require.Equal(t, "ann@example.com", got.Email)
	require.Equal(t, "root", got.CreatedBy)
	require.Empty(t, got.Ignored)
	require.Empty(t, got.secret)
}

func TestStruct_PointerDestination(t *testing.T) {
	c := newCursor([]string{"id"}, []any{int64(3)})
	require.True(t, c.Next())

	got, err := Struct[*account]()(c)
	require.NoError(t, err)
	require.Equal(t, int64(3), got.ID)
}

type withPtrEmbed struct {
	*Audit
	ID int64 `db:"id"`
}

func TestStruct_AllocatesEmbeddedPointer(t *testing.T) {
	c := newCursor([]string{"id", "created_by"}, []any{int64(1), "ops"})
	require.True(t, c.Next())

	got, err := Struct[withPtrEmbed]()(c)
	require.NoError(t, err)
	require.NotNil(t, got.Audit)
	require.Equal(t, "ops", got.CreatedBy)
}

func TestStruct_NotAStruct(t *testing.T) {
	c := newCursor([]string{"n"}, []any{int64(1)})
	require.True(t, c.Next())
	_, err := Struct[int]()(c)
	require.ErrorIs(t, err, ErrNotStruct)
}

func TestStrictStruct_Mismatch(t *testing.T) {
	type pair struct {
		A int64 `db:"a"`
		B int64 `db:"b"`
	}

	c := newCursor([]string{"a", "c"}, []any{int64(1), int64(2)})
	require.True(t, c.Next())
	_, err := StrictStruct[pair]()(c)
	require.ErrorIs(t, err, ErrColumnMismatch)

	c = newCursor([]string{"a"}, []any{int64(1)})
	require.True(t, c.Next())
	_, err = StrictStruct[pair]()(c)
	require.ErrorIs(t, err, ErrColumnMismatch)

	c = newCursor([]string{"b", "a"}, []any{int64(2), int64(1)})
	require.True(t, c.Next())
	got, err := StrictStruct[pair]()(c)
	require.NoError(t, err)
	require.Equal(t, pair{A: 1, B: 2}, got)
}

func TestStruct_PlanCachedPerColumnSet(t *testing.T) {
	type row struct {
		X int64 `db:"x"`
	}
	before := plans.Len()

	for i := 0; i < 3; i++ {
		c := newCursor([]string{"x"}, []any{int64(i)})
		require.True(t, c.Next())
		_, err := Struct[row]()(c)
		require.NoError(t, err)
	}
	require.Equal(t, before+1, plans.Len())

	c := newCursor([]string{"x", "y"}, []any{int64(1), int64(2)})
	require.True(t, c.Next())
	_, err := Struct[row]()(c)
	require.NoError(t, err)
	require.Equal(t, before+2, plans.Len())
}
