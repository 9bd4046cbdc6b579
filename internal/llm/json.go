package llm

import (
	"encoding/json"
	"strings"
)

// ExtractJSON pulls the first balanced JSON object out of model
// output, tolerating prose or markdown fences around it. Models asked
// for strict JSON still wrap it often enough that callers should not
// unmarshal the raw content directly.
func ExtractJSON(text string) ([]byte, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
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
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				raw := []byte(text[start : i+1])
				if json.Valid(raw) {
					return raw, true
				}
				return nil, false
			}
		}
	}
	return nil, false
}
