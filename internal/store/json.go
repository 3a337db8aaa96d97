package store

import "encoding/json"

// EncodeJSON marshals v for storage in a TEXT column, defaulting to "null"
// only if marshaling itself fails (which indicates a programmer error in
// the caller's type, not a runtime condition to recover from gracefully).
func EncodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// DecodeJSON unmarshals a TEXT column into v. An empty string decodes as a
// no-op, leaving v at its zero value, since some columns default to "".
func DecodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
