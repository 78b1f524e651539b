// Package llmjson extracts JSON objects embedded in free-form LLM replies:
// fenced code blocks, then the first balanced top-level object, used by
// every extraction stage that expects "JSON, possibly wrapped in prose or a
// markdown fence" back from the model.
package llmjson

import (
	"fmt"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Extract returns the first JSON object found in reply, preferring a fenced
// ```json ... ``` block, then the first balanced `{...}` span found
// anywhere in the text.
func Extract(reply string) ([]byte, error) {
	if m := fencedBlock.FindStringSubmatch(reply); m != nil {
		return []byte(strings.TrimSpace(m[1])), nil
	}
	return FirstObject(reply)
}

// FirstObject scans s for the first balanced `{...}` span, respecting
// string literals and escapes, and returns its bytes.
func FirstObject(s string) ([]byte, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if start < 0 {
			if c == '{' {
				start = i
				depth = 1
			}
			continue
		}
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
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
				return []byte(s[start : i+1]), nil
			}
		}
	}
	return nil, fmt.Errorf("llmjson: no balanced JSON object found in reply")
}
