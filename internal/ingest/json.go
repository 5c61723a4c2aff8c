package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"threatlens/internal/normalize"
)

// ParseJSONBytes reads one JSON object. Numbers keep their literal text and
// nested objects such as {"event": {...}, "probability": 0.9} are flattened.
func ParseJSONBytes(data []byte) (*normalize.EventFields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

func ParseJSONMap(obj map[string]interface{}) *normalize.EventFields {
	fields := &normalize.EventFields{Extras: map[string]string{}}
	assignJSON(fields, obj)
	return fields
}

func assignJSON(fields *normalize.EventFields, obj map[string]interface{}) {
	for key, val := range obj {
		switch v := val.(type) {
		case nil:
		case map[string]interface{}:
			assignJSON(fields, v)
		case []interface{}:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			fields.Assign(key, strings.Join(parts, ","))
		default:
			fields.Assign(key, fmt.Sprint(v))
		}
	}
}
