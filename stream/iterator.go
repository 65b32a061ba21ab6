// Package stream delivers query rows lazily: pulled one at a time through an
// Iterator, or pushed to a Subscriber as it signals demand through a Publisher.
//
// Both keep the statement, cursor and (outside a transaction) the connection
// open until the rows are exhausted, an error occurs, or the consumer closes or
// cancels. Release happens exactly once on whichever comes first.
package stream

import (
	"fmt"
	"iter"

	"github.com/tuannm99/novaexec/internal/errs"
	"github.com/tuannm99/novaexec/internal/executor"
	"github.com/tuannm99/novaexec/rowmap"
)

type State int

const (
	Open State = iota
	Exhausted
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Exhausted:
		return "exhausted"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// pull advances cur and maps one row. ok is false once the cursor is done; err
// is set when the driver or the mapper failed.
func pull[T any](cur *executor.Cursor, m rowmap.RowMapper[T]) (v T, ok bool, err error) {
	if !cur.Next() {
		return v, false, cur.Err()
	}
	v, err = m(cur)
	if err != nil {
		return v, false, errs.Driver(fmt.Sprintf("map row %d", cur.Rows()), cur.SQL(), err)
	}
	return v, true, nil
}

// Iterator is a pull sequence over query rows.
//
// The caller must Close it on every exit path; abandoning an open iterator
// leaks its connection. Typical use:
//
//	it, err := novaexec.QueryAsStream(ctx, st, mapper)
//	if err != nil { ... }
//	defer it.Close()
//	for it.Next() {
//		use(it.Value())
//	}
//	if err := it.Err(); err != nil { ... }
//
// An Iterator is not safe for concurrent use.
type Iterator[T any] struct {
	cur    *executor.Cursor
	mapper rowmap.RowMapper[T]
	state  State
	value  T
	err    error
}

// NewIterator takes ownership of cur.
func NewIterator[T any](cur *executor.Cursor, mapper rowmap.RowMapper[T]) *Iterator[T] {
	return &Iterator[T]{cur: cur, mapper: mapper}
}

// Next advances to the next row. It returns false at the end of the rows, on
// error, or after Close; resources are released by then.
func (it *Iterator[T]) Next() bool {
	if it.state != Open {
		return false
	}
	v, ok, err := pull(it.cur, it.mapper)
	if !ok {
		var zero T
		it.value = zero
		it.err = err
		it.state = Exhausted
		it.cur.Release()
		return false
	}
	it.value = v
	return true
}

// Value is the row produced by the last successful Next.
func (it *Iterator[T]) Value() T { return it.value }

// Err is the error that stopped iteration, if any.
func (it *Iterator[T]) Err() error { return it.err }

func (it *Iterator[T]) State() State { return it.state }

// Close releases the resources. It is idempotent.
func (it *Iterator[T]) Close() error {
	if it.state == Closed {
		return nil
	}
	it.state = Closed
	it.cur.Release()
	return nil
}

// All adapts the iterator to a range-over-func sequence. Breaking out of the
// loop closes the iterator; a terminal error is yielded last with a zero value.
func (it *Iterator[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		defer it.Close()
		for it.Next() {
			if !yield(it.Value(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			var zero T
			yield(zero, err)
		}
	}
}

// Collect drains the iterator into a slice and closes it.
func (it *Iterator[T]) Collect() ([]T, error) {
	defer it.Close()
	out := make([]T, 0)
	for it.Next() {
		out = append(out, it.Value())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
