package executor

import (
	"encoding/json"
	"fmt"
)

// ExtractJSON finds the first well-formed JSON object or array embedded in
// the given text. Agents frequently wrap their structured output in prose
// or markdown code fences; this scans for a '{' or '[' and tracks nesting
// depth (string- and escape-aware) until the value closes, then validates
// the candidate. Returns an error if no valid JSON value is present.
func ExtractJSON(s string) (string, error) {
	for start := 0; start < len(s); start++ {
		open := s[start]
		if open != '{' && open != '[' {
			continue
		}

		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(s); i++ {
			c := s[i]
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
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
			if depth == 0 {
				candidate := s[start : i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, nil
				}
				break
			}
		}
		// Candidate never closed or failed validation; keep scanning
		// from the next start character.
	}
	return "", fmt.Errorf("no valid JSON object or array found in text")
}
