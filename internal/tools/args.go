package tools

import (
	"encoding/json"
	"math"
	"strings"
)

// ArgString returns args[key] as a trimmed string.
func ArgString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

// ArgInt returns args[key] as an integer. ok is false when the value is
// missing, non-numeric or fractional.
func ArgInt(args map[string]any, key string) (int64, bool) {
	switch v := args[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

// ArgStrings returns args[key] as a slice of non-empty trimmed strings.
func ArgStrings(args map[string]any, key string) []string {
	var out []string
	switch v := args[key].(type) {
	case []string:
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
	}
	return out
}
