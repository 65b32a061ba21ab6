// Package param binds positional statement parameters.
//
// A Value is a closed variant over the parameter kinds the engine knows how to
// bind. The kind and the normalized payload are resolved once, in Of, so binding
// never has to inspect the dynamic type again.
package param

import (
	sqldriver "database/sql/driver"
	"fmt"
	"reflect"
	"time"

	"github.com/tuannm99/novaexec/internal/errs"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindText
	KindBytes
	KindTime
	KindArray
	KindValuer
)

var kindNames = [...]string{
	KindNull:   "null",
	KindBool:   "bool",
	KindInt:    "int",
	KindUint:   "uint",
	KindFloat:  "float",
	KindText:   "text",
	KindBytes:  "bytes",
	KindTime:   "time",
	KindArray:  "array",
	KindValuer: "valuer",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Value is one resolved parameter.
type Value struct {
	kind Kind
	v    any
}

func Null() Value                     { return Value{kind: KindNull} }
func Bool(b bool) Value               { return Value{kind: KindBool, v: b} }
func Int(i int64) Value               { return Value{kind: KindInt, v: i} }
func Uint(u uint64) Value             { return Value{kind: KindUint, v: u} }
func Float(f float64) Value           { return Value{kind: KindFloat, v: f} }
func Text(s string) Value             { return Value{kind: KindText, v: s} }
func Time(t time.Time) Value          { return Value{kind: KindTime, v: t} }
func Valuer(v sqldriver.Valuer) Value { return Value{kind: KindValuer, v: v} }

// Bytes keeps a private copy so later mutation by the caller does not leak
// into a queued batch.
func Bytes(b []byte) Value {
	if b == nil {
		return Null()
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindBytes, v: cp}
}

// Array passes a slice through untouched; array support is driver specific.
func Array(slice any) Value {
	if slice == nil {
		return Null()
	}
	return Value{kind: KindArray, v: slice}
}

func (v Value) Kind() Kind { return v.kind }

// Any returns the driver-facing payload.
func (v Value) Any() any { return v.v }

func (v Value) String() string {
	if v.kind == KindNull {
		return "NULL"
	}
	return fmt.Sprintf("%s(%v)", v.kind, v.v)
}

// Of resolves the kind of x. Unsupported dynamic types yield a configuration
// error.
func Of(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case sqldriver.Valuer:
		if isNilPointer(x) {
			return Null(), nil
		}
		return Valuer(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Uint(uint64(t)), nil
	case uint8:
		return Uint(uint64(t)), nil
	case uint16:
		return Uint(uint64(t)), nil
	case uint32:
		return Uint(uint64(t)), nil
	case uint64:
		return Uint(t), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case string:
		return Text(t), nil
	case []byte:
		return Bytes(t), nil
	case time.Time:
		return Time(t), nil
	}
	return ofReflect(reflect.ValueOf(x))
}

// ofReflect handles pointers and named types over the basic kinds.
func ofReflect(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return Null(), nil
		}
		return Of(rv.Elem().Interface())
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Uint(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil
	case reflect.String:
		return Text(rv.String()), nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return Bytes(rv.Bytes()), nil
		}
		if rv.IsNil() {
			return Null(), nil
		}
		return Array(rv.Interface()), nil
	case reflect.Array:
		return Array(rv.Interface()), nil
	}
	return Value{}, errs.Config("parameter", "unsupported type %T", rv.Interface())
}

func isNilPointer(x any) bool {
	rv := reflect.ValueOf(x)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}

// Values resolves a positional argument list.
func Values(args ...any) ([]Value, error) {
	out := make([]Value, len(args))
	for i, a := range args {
		v, err := Of(a)
		if err != nil {
			return nil, fmt.Errorf("param: argument %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}
