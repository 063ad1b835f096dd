package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is one stored object: a JSON object decoded into a map.
type Record map[string]any

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the field as a string, or "" when absent or not a string.
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// Decode converts the record into v through its JSON form.
func (r Record) Decode(v any) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	return nil
}

// From converts any JSON-serialisable value into a Record.
func From(v any) (Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decoding %T into record: %w", v, err)
	}
	return r, nil
}

// Timestamp formats t the way the store stamps created_at and updated_at.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
