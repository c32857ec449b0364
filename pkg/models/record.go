package models

import (
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Record is one row of a collection. Column order is preserved across decode and encode so
// the rewritten file diffs cleanly against its source.
type Record struct {
	fields *orderedmap.OrderedMap[string, any]
}

// NewRecord returns an empty record
func NewRecord() *Record {
	return &Record{fields: orderedmap.New[string, any]()}
}

func (r *Record) ensure() {
	if r.fields == nil {
		r.fields = orderedmap.New[string, any]()
	}
}

// Get returns the raw value of a column
func (r *Record) Get(key string) (any, bool) {
	if r.fields == nil {
		return nil, false
	}
	return r.fields.Get(key)
}

// GetString returns a column value only if it is a string
func (r *Record) GetString(key string) (string, bool) {
	v, ok := r.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Set stores a column value. Existing columns keep their position.
func (r *Record) Set(key string, value any) {
	r.ensure()
	r.fields.Set(key, value)
}

// Keys returns the column names in source order
func (r *Record) Keys() []string {
	if r.fields == nil {
		return nil
	}
	keys := make([]string, 0, r.fields.Len())
	for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Len returns the number of columns
func (r *Record) Len() int {
	if r.fields == nil {
		return 0
	}
	return r.fields.Len()
}

// Clone returns a copy whose top-level columns can be changed independently
func (r *Record) Clone() *Record {
	c := NewRecord()
	if r.fields == nil {
		return c
	}
	for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
		c.fields.Set(pair.Key, pair.Value)
	}
	return c
}

func (r *Record) MarshalJSON() ([]byte, error) {
	r.ensure()
	return json.Marshal(r.fields)
}

// UnmarshalJSON decodes string columns into Go strings. Every other value (numbers, bools,
// nested objects and arrays) is kept as the raw JSON the source sent, so large ids keep their
// digits and nested keys keep their order when the record is written back.
func (r *Record) UnmarshalJSON(data []byte) error {
	raw := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(data, raw); err != nil {
		return err
	}
	r.fields = orderedmap.New[string, any]()
	for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
		v, err := decodeColumn(pair.Value)
		if err != nil {
			return fmt.Errorf("column '%s': %w", pair.Key, err)
		}
		r.fields.Set(pair.Key, v)
	}
	return nil
}

func decodeColumn(v json.RawMessage) (any, error) {
	if len(v) == 0 || v[0] != '"' {
		return v, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, err
	}
	return s, nil
}
