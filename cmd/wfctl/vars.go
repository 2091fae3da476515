package main

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseVariables turns key=value pairs into condition variables. Values that
// are valid JSON keep their JSON type, anything else is a string.
func parseVariables(pairs []string) (map[string]interface{}, error) {
	vars := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable %q, expected key=value", pair)
		}

		var value interface{}
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		vars[key] = value
	}
	return vars, nil
}
