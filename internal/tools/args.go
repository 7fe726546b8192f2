package tools

import (
	"encoding/json"
	"strings"
)

// ParseArguments decodes raw model-supplied arguments. Anything that is
// not a JSON object (empty, malformed, an array, a bare value) becomes
// an empty map; schema validation then reports what is missing.
func ParseArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}
