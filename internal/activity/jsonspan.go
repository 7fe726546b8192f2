package activity

import "errors"

var errNoJSONObject = errors.New("no JSON object found")

// firstObject returns the first balanced {...} span in text. Braces
// inside JSON strings are ignored.
func firstObject(text string) (string, error) {
	start := -1
	depth := 0
	inString, escaped := false, false

	for i := 0; i < len(text); i++ {
		c := text[i]
		if start < 0 {
			if c == '{' {
				start, depth = i, 1
			}
			continue
		}
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", errNoJSONObject
}
