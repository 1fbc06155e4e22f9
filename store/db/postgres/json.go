package postgres

import (
	"encoding/json"
)

// toJSON serializes list/map columns; empty input keeps the column default.
func toJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func fromJSON(data string, v any) {
	if data == "" {
		return
	}
	// Malformed stored JSON yields the zero value.
	_ = json.Unmarshal([]byte(data), v)
}
