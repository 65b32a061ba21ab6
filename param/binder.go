package param

import (
	"math"
	"time"

	"github.com/tuannm99/novaexec/internal/errs"
)

// bindFunc turns a resolved payload into the value handed to the driver.
type bindFunc func(v any) any

func passThrough(v any) any { return v }

// binders is indexed by Kind, one entry per variant. Valuers pass through so
// the driver can apply its own conversions.
var binders = [...]bindFunc{
	KindNull:   func(any) any { return nil },
	KindBool:   passThrough,
	KindInt:    passThrough,
	KindUint:   bindUint,
	KindFloat:  passThrough,
	KindText:   passThrough,
	KindBytes:  passThrough,
	KindTime:   passThrough,
	KindArray:  passThrough,
	KindValuer: passThrough,
}

// bindUint narrows to int64 when it fits; many drivers reject uint64 outright.
func bindUint(v any) any {
	u := v.(uint64)
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return u
}

// Setter fills a Binder for one execution.
type Setter func(b *Binder) error

// Binder is the positional binding area of a statement. Positions are 1-based;
// unset positions below the highest bound one are NULL.
type Binder struct {
	args []any
}

// NewBinder returns a binder with room for n parameters.
func NewBinder(n int) *Binder {
	return &Binder{args: make([]any, 0, n)}
}

// Clear drops every binding while keeping capacity.
func (b *Binder) Clear() {
	clear(b.args)
	b.args = b.args[:0]
}

// Len is the highest bound position.
func (b *Binder) Len() int { return len(b.args) }

// Args returns a copy of the bound values in position order.
func (b *Binder) Args() []any {
	out := make([]any, len(b.args))
	copy(out, b.args)
	return out
}

// Set binds v at pos.
func (b *Binder) Set(pos int, v Value) error {
	if pos < 1 {
		return errs.Config("parameter position", "%d is not positive", pos)
	}
	for len(b.args) < pos {
		b.args = append(b.args, nil)
	}
	b.args[pos-1] = binders[v.kind](v.v)
	return nil
}

// Bind resolves x and binds it at pos.
func (b *Binder) Bind(pos int, x any) error {
	v, err := Of(x)
	if err != nil {
		return err
	}
	return b.Set(pos, v)
}

// BindAll binds vs at positions 1..len(vs).
func (b *Binder) BindAll(vs []Value) error {
	for i, v := range vs {
		if err := b.Set(i+1, v); err != nil {
			return err
		}
	}
	return nil
}

func (b *Binder) SetNull(pos int) error              { return b.Set(pos, Null()) }
func (b *Binder) SetBool(pos int, v bool) error      { return b.Set(pos, Bool(v)) }
func (b *Binder) SetInt(pos int, v int64) error      { return b.Set(pos, Int(v)) }
func (b *Binder) SetFloat(pos int, v float64) error  { return b.Set(pos, Float(v)) }
func (b *Binder) SetText(pos int, v string) error    { return b.Set(pos, Text(v)) }
func (b *Binder) SetBytes(pos int, v []byte) error   { return b.Set(pos, Bytes(v)) }
func (b *Binder) SetTime(pos int, v time.Time) error { return b.Set(pos, Time(v)) }
func (b *Binder) SetArray(pos int, slice any) error  { return b.Set(pos, Array(slice)) }

// Fixed returns a Setter that binds vs positionally.
func Fixed(vs []Value) Setter {
	return func(b *Binder) error { return b.BindAll(vs) }
}
