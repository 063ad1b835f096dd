package record

import (
	"encoding/json"
	"reflect"
	"sort"
	"time"
)

// dateLayouts are tried in order when checking date and datetime fields.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Validate checks every declared field present in rec against its type.
//
// Absent and nil fields are skipped, which is what makes partial updates safe.
// Fields not declared in the schema pass through unchecked. Fields are visited
// in name order and the first violation is returned.
func Validate(c Collection, rec Record) error {
	names := make([]string, 0, len(c.Fields))
	for name := range c.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v, ok := rec[name]
		if !ok || v == nil {
			continue
		}
		ft := c.Fields[name]
		if !matches(ft, v) {
			return &ValidationError{Collection: c.Name, Field: name, Expected: ft, Got: v}
		}
	}
	return nil
}

func matches(ft FieldType, v any) bool {
	switch ft {
	case TypeString, TypeText:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		return isNumber(v)
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeJSON:
		k := reflect.ValueOf(v).Kind()
		return k == reflect.Map || k == reflect.Slice || k == reflect.Array || k == reflect.Struct
	case TypeDate, TypeDateTime:
		switch t := v.(type) {
		case time.Time:
			return !t.IsZero()
		case string:
			_, ok := ParseTime(t)
			return ok
		}
		return false
	default:
		// Unknown declarations are not enforced.
		return true
	}
}

func isNumber(v any) bool {
	if n, ok := v.(json.Number); ok {
		_, err := n.Float64()
		return err == nil
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// ParseTime parses s with the accepted date/datetime layouts.
func ParseTime(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
