package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is a free-form JSON object stored in a TEXT (SQLite) or JSONB
// (Postgres) column. A nil map round-trips as an empty object so callers
// never have to nil-check before indexing.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal JSONMap: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = JSONMap{}
		return nil
	case []byte:
		return m.unmarshal(v)
	case string:
		return m.unmarshal([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
}

func (m *JSONMap) unmarshal(b []byte) error {
	if len(b) == 0 {
		*m = JSONMap{}
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("unmarshal JSONMap: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	*m = out
	return nil
}

// Clone returns a deep copy of the map. Mutating the copy never touches the
// original — required by the patch engine, which must be able to abandon a
// half-applied patch list without corrupting the stored state.
func (m JSONMap) Clone() JSONMap {
	if m == nil {
		return JSONMap{}
	}
	return JSONMap(deepCopyMap(m))
}

func deepCopyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case JSONMap:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// StringList is an ordered list of strings stored as a JSON array column.
// Used for depends_on, channel members, capability sets and similar fields
// where ordering is part of the contract.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, fmt.Errorf("marshal StringList: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
	if len(b) == 0 {
		*l = StringList{}
		return nil
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("unmarshal StringList: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	*l = out
	return nil
}

// Contains reports whether s is present in the list.
func (l StringList) Contains(s string) bool {
	for _, e := range l {
		if e == s {
			return true
		}
	}
	return false
}

// Clone returns a copy of the list that can be appended to without
// aliasing the original's backing array.
func (l StringList) Clone() StringList {
	if l == nil {
		return StringList{}
	}
	out := make(StringList, len(l))
	copy(out, l)
	return out
}
