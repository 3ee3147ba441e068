package platform

import (
	"encoding/json"

	gojson "github.com/goccy/go-json"
)

// MergeFields sets fields on a raw listing object, replacing existing keys.
// A listing that is not a JSON object is returned unchanged so Normalize can
// reject it.
func MergeFields(raw json.RawMessage, fields map[string]any) json.RawMessage {
	if len(fields) == 0 {
		return raw
	}
	var obj map[string]json.RawMessage
	if err := gojson.Unmarshal(raw, &obj); err != nil || obj == nil {
		return raw
	}
	for k, v := range fields {
		b, err := gojson.Marshal(v)
		if err != nil {
			continue
		}
		obj[k] = b
	}
	out, err := gojson.Marshal(obj)
	if err != nil {
		return raw
	}
	return out
}
