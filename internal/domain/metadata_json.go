package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// UnmarshalMetadata decodes a JSON object into Metadata. Integral numbers become
// int64 and the rest float64, so stored metadata reads back as it was written.
func UnmarshalMetadata(data []byte) (Metadata, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	for k, v := range m {
		m[k] = JSONValue(v)
	}
	return Metadata(m), nil
}

// JSONValue converts json.Number values produced by a UseNumber decoder, recursively.
func JSONValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		for i := range t {
			t[i] = JSONValue(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = JSONValue(t[k])
		}
		return t
	default:
		return v
	}
}
