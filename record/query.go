package record

import (
	"encoding/json"
	"reflect"
	"strings"
)

// Predicate selects records during a Query scan.
type Predicate func(Record) bool

// Filters maps a field to the value it must hold. A slice value means
// "the field is a member of this list".
//
//	record.Where(record.Filters{
//	    "requester_id": userID,
//	    "status":       []string{"pending", "approved"},
//	})
type Filters map[string]any

// Where builds a predicate that requires every filter to match.
func Where(f Filters) Predicate {
	return func(r Record) bool {
		for field, want := range f {
			if !fieldMatches(r[field], want) {
				return false
			}
		}
		return true
	}
}

// Eq requires field to equal v.
func Eq(field string, v any) Predicate {
	return func(r Record) bool { return valuesEqual(r[field], v) }
}

// In requires field to equal one of vs.
func In[T any](field string, vs ...T) Predicate {
	return func(r Record) bool {
		for _, v := range vs {
			if valuesEqual(r[field], v) {
				return true
			}
		}
		return false
	}
}

// ContainsFold requires the string field to contain sub, ignoring case.
func ContainsFold(field, sub string) Predicate {
	sub = strings.ToLower(sub)
	return func(r Record) bool {
		return strings.Contains(strings.ToLower(r.String(field)), sub)
	}
}

// And requires all predicates to match.
func And(ps ...Predicate) Predicate {
	return func(r Record) bool {
		for _, p := range ps {
			if p != nil && !p(r) {
				return false
			}
		}
		return true
	}
}

// Or requires at least one predicate to match.
func Or(ps ...Predicate) Predicate {
	return func(r Record) bool {
		for _, p := range ps {
			if p != nil && p(r) {
				return true
			}
		}
		return false
	}
}

func fieldMatches(got, want any) bool {
	if want == nil {
		return got == nil
	}
	rv := reflect.ValueOf(want)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := 0; i < rv.Len(); i++ {
			if valuesEqual(got, rv.Index(i).Interface()) {
				return true
			}
		}
		return false
	}
	return valuesEqual(got, want)
}

// valuesEqual compares decoded JSON values with typed Go values. Numbers compare
// by value and string-kinded types (type Status string) compare as strings.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	if av.Kind() == reflect.String && bv.Kind() == reflect.String {
		return av.String() == bv.String()
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		return f, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
