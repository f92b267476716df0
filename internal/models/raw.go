package models

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Flatten turns a JSON object into a RawRecord, joining nested object keys
// with "." the way the upstream feed is normalized (location.latitude).
// Arrays and scalars are kept as raw values.
func Flatten(obj gjson.Result) (RawRecord, error) {
	if !obj.IsObject() {
		return nil, fmt.Errorf("expected JSON object, got %s", obj.Type)
	}
	rec := make(RawRecord)
	flattenInto(rec, "", obj)
	return rec, nil
}

func flattenInto(rec RawRecord, prefix string, obj gjson.Result) {
	obj.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if prefix != "" {
			name = prefix + "." + name
		}
		if value.IsObject() {
			flattenInto(rec, name, value)
			return true
		}
		rec[name] = json.RawMessage(value.Raw)
		return true
	})
}

// Get returns the gjson view of a field; Exists is false when the key is absent.
func (r RawRecord) Get(key string) gjson.Result {
	raw, ok := r[key]
	if !ok {
		return gjson.Result{}
	}
	return gjson.ParseBytes(raw)
}

// Text returns the field as text when it is a non-empty string or a number.
func (r RawRecord) Text(key string) (string, bool) {
	v := r.Get(key)
	switch v.Type {
	case gjson.String:
		if v.Str == "" {
			return "", false
		}
		return v.Str, true
	case gjson.Number:
		return v.Raw, true
	default:
		return "", false
	}
}

// With returns a copy of r with key set to the JSON encoding of value.
func (r RawRecord) With(key string, value any) (RawRecord, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	out := make(RawRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	out[key] = encoded
	return out, nil
}
