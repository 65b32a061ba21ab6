// Package rowmap decodes cursor rows into Go values.
//
// A RowMapper sees one row at the cursor's current position and must not move
// the cursor. A ResultExtractor receives the whole cursor and reads it however
// it likes; it must not close it.
package rowmap

import (
	"errors"

	"github.com/tuannm99/novaexec/driver"
	"github.com/tuannm99/novaexec/internal/errs"
)

var (
	ErrNotStruct      = errors.New("rowmap: destination is not a struct")
	ErrColumnMismatch = errors.New("rowmap: columns do not match destination")
	ErrUnsupported    = errors.New("rowmap: unsupported destination type")
)

// Row is the read-only view of the current row.
type Row interface {
	// Columns is resolved once per cursor; repeated calls are free.
	Columns() ([]driver.Column, error)
	Scan(dest ...any) error
}

// Cursor is a Row that can advance.
type Cursor interface {
	Row
	Next() bool
	Err() error
}

type RowMapper[T any] func(Row) (T, error)

type ResultExtractor[T any] func(Cursor) (T, error)

// List collects every row through m. The result is never nil.
func List[T any](m RowMapper[T]) ResultExtractor[[]T] {
	return func(c Cursor) ([]T, error) {
		out := make([]T, 0)
		for c.Next() {
			v, err := m(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		if err := c.Err(); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// First maps the first row and ignores the rest. An empty cursor yields
// ErrNoRows.
func First[T any](m RowMapper[T]) ResultExtractor[T] {
	return func(c Cursor) (T, error) {
		var zero T
		if !c.Next() {
			if err := c.Err(); err != nil {
				return zero, err
			}
			return zero, errs.ErrNoRows
		}
		return m(c)
	}
}

// Scalar scans the single column of a row into T.
func Scalar[T any]() RowMapper[T] {
	return func(r Row) (T, error) {
		var v T
		err := r.Scan(&v)
		return v, err
	}
}

// Values scans a row into a slice holding one driver value per column.
func Values() RowMapper[[]any] {
	return func(r Row) ([]any, error) {
		cols, err := r.Columns()
		if err != nil {
			return nil, err
		}
		return scanValues(r, len(cols))
	}
}

// ColumnMap maps a row to column name -> value.
func ColumnMap() RowMapper[map[string]any] {
	return func(r Row) (map[string]any, error) {
		cols, err := r.Columns()
		if err != nil {
			return nil, err
		}
		return scanMap(r, driver.ColumnNames(cols))
	}
}

// ColumnMaps reads column metadata once and maps every row to a
// column name -> value map.
func ColumnMaps() ResultExtractor[[]map[string]any] {
	return func(c Cursor) ([]map[string]any, error) {
		cols, err := c.Columns()
		if err != nil {
			return nil, err
		}
		names := driver.ColumnNames(cols)

		out := make([]map[string]any, 0)
		for c.Next() {
			m, err := scanMap(c, names)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		if err := c.Err(); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func scanValues(r Row, n int) ([]any, error) {
	vals := make([]any, n)
	dest := make([]any, n)
	for i := range vals {
		dest[i] = &vals[i]
	}
	if err := r.Scan(dest...); err != nil {
		return nil, err
	}
	return vals, nil
}

func scanMap(r Row, names []string) (map[string]any, error) {
	vals, err := scanValues(r, len(names))
	if err != nil {
		return nil, err
	}
	m := make(map[string]any, len(names))
	for i, name := range names {
		m[name] = vals[i]
	}
	return m, nil
}
