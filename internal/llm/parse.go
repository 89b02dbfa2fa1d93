package llm

import (
	"encoding/json"
	"fmt"
)

// ParseModelJSON decodes the first balanced JSON object found in text into T.
// Models often wrap JSON in prose or code fences; anything outside the object
// is ignored. A missing or undecodable object is a contract violation.
func ParseModelJSON[T any](text string) (T, error) {
	var out T
	obj, ok := extractJSONObject(text)
	if !ok {
		return out, contractViolation("parse model output", ErrNoJSONObject)
	}
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return out, contractViolation("parse model output", fmt.Errorf("decode JSON: %w", err))
	}
	return out, nil
}

// extractJSONObject returns the first {...} span whose braces balance,
// ignoring braces inside JSON strings. It makes one pass over text, keeping
// the offsets of unclosed braces on a stack. Quotes outside any brace are
// prose and do not open a string.
func extractJSONObject(text string) (string, bool) {
	var open []int
	bestStart, bestEnd := -1, -1
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
		c := text[i]
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
			inString = len(open) > 0
		case '{':
			open = append(open, i)
		case '}':
			if len(open) == 0 {
				continue
			}
			start := open[len(open)-1]
			open = open[:len(open)-1]
			if bestStart < 0 || start < bestStart {
				bestStart, bestEnd = start, i
			}
			// Every earlier brace is closed, so nothing later can start sooner.
			if len(open) == 0 {
				return text[bestStart : bestEnd+1], true
			}
		}
	}
	if bestStart < 0 {
		return "", false
	}
	return text[bestStart : bestEnd+1], true
}
