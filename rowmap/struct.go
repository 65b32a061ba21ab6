package rowmap

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/tuannm99/novaexec/driver"
	"github.com/tuannm99/novaexec/internal/plancache"
)

// planKey identifies a column layout for one destination type.
type planKey struct {
	typ    reflect.Type
	cols   string
	strict bool
}

// structPlan holds, per result column, the field index path it scans into.
// A nil path discards the column.
type structPlan struct {
	paths [][]int
}

var plans = plancache.New[planKey, *structPlan](plancache.DefaultCapacity)

// Struct maps columns onto fields of T, which must be a struct or a pointer to
// one. Columns match `db:"name"` tags first, then field names case
// insensitively; embedded structs are flattened. Unmatched columns are skipped.
func Struct[T any]() RowMapper[T] {
	return structMapper[T](false)
}

// StrictStruct is Struct, but every column must match a field and every field
// must be filled.
func StrictStruct[T any]() RowMapper[T] {
	return structMapper[T](true)
}

func structMapper[T any](strict bool) RowMapper[T] {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	isPtr := rt.Kind() == reflect.Pointer
	base := rt
	if isPtr {
		base = rt.Elem()
	}

	return func(r Row) (T, error) {
		var zero T
		if base.Kind() != reflect.Struct {
			return zero, fmt.Errorf("%w: %s", ErrNotStruct, rt)
		}

		cols, err := r.Columns()
		if err != nil {
			return zero, err
		}
		names := driver.ColumnNames(cols)

		key := planKey{typ: base, cols: strings.Join(names, "\x00"), strict: strict}
		plan, err := plans.GetOrCreate(key, func() (*structPlan, error) {
			return buildPlan(base, names, strict)
		})
		if err != nil {
			return zero, err
		}

		pv := reflect.New(base)
		dest := make([]any, len(plan.paths))
		for i, path := range plan.paths {
			if path == nil {
				var discard any
				dest[i] = &discard
				continue
			}
			dest[i] = fieldByPath(pv.Elem(), path).Addr().Interface()
		}
		if err := r.Scan(dest...); err != nil {
			return zero, err
		}

		if isPtr {
			return pv.Interface().(T), nil
		}
		return pv.Elem().Interface().(T), nil
	}
}

type fieldIndex struct {
	tagged   map[string][]int
	untagged map[string][]int
	count    int
}

func buildPlan(base reflect.Type, names []string, strict bool) (*structPlan, error) {
	idx := &fieldIndex{tagged: map[string][]int{}, untagged: map[string][]int{}}
	collectFields(base, nil, idx)

	plan := &structPlan{paths: make([][]int, len(names))}
	matched := 0
	for i, name := range names {
		if p, ok := idx.tagged[name]; ok {
			plan.paths[i] = p
			matched++
			continue
		}
		if p, ok := idx.untagged[strings.ToLower(name)]; ok {
			plan.paths[i] = p
			matched++
			continue
		}
		if strict {
			return nil, fmt.Errorf("%w: column %q has no field in %s", ErrColumnMismatch, name, base)
		}
	}
	if strict && matched < idx.count {
		return nil, fmt.Errorf("%w: %d columns for %d fields of %s", ErrColumnMismatch, matched, idx.count, base)
	}
	return plan, nil
}

func collectFields(t reflect.Type, prefix []int, idx *fieldIndex) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		path := append(append([]int(nil), prefix...), i)

		tag := parseTagName(field)
		if tag == "-" {
			continue
		}

		ft := field.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if field.Anonymous && tag == "" && ft.Kind() == reflect.Struct {
			// An unexported embedded pointer cannot be allocated through reflect.
			if field.Type.Kind() == reflect.Pointer && !field.IsExported() {
				continue
			}
			collectFields(ft, path, idx)
			continue
		}
		if !field.IsExported() {
			continue
		}

		idx.count++
		if tag != "" {
			if _, dup := idx.tagged[tag]; !dup {
				idx.tagged[tag] = path
			}
			continue
		}
		lower := strings.ToLower(field.Name)
		if _, dup := idx.untagged[lower]; !dup {
			idx.untagged[lower] = path
		}
	}
}

func parseTagName(field reflect.StructField) string {
	key := field.Tag.Get("db")
	if len(key) == 0 {
		return ""
	}
	options := strings.Split(key, ",")
	return strings.TrimSpace(options[0])
}

// fieldByPath walks path from v, allocating nil embedded pointers on the way.
func fieldByPath(v reflect.Value, path []int) reflect.Value {
	for i, fi := range path {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(fi)
	}
	return v
}
