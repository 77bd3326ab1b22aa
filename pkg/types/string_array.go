package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringArray stores an ordered list of strings as a JSON column. Used for
// multi-value identity hashes (email_all/phone_all) and surface domain
// allow-lists; JSON keeps the column portable between Postgres and the SQLite
// harness used in repository tests.
type StringArray []string

// Value implements driver.Valuer.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	raw, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (a *StringArray) Scan(value any) error {
	if value == nil {
		*a = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported string array source %T", value)
	}
	if len(raw) == 0 {
		*a = nil
		return nil
	}
	return json.Unmarshal(raw, (*[]string)(a))
}

// Contains reports whether the array holds value.
func (a StringArray) Contains(value string) bool {
	for _, item := range a {
		if item == value {
			return true
		}
	}
	return false
}

// Union appends the values missing from the array, preserving first-appearance
// order. Order independence of the resulting set makes this safe to recompute
// under concurrent writers.
func (a StringArray) Union(values ...string) StringArray {
	out := a
	for _, value := range values {
		if value == "" || out.Contains(value) {
			continue
		}
		out = append(out, value)
	}
	return out
}
