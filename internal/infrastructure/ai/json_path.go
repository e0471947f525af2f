package ai

import (
	"fmt"
	"strconv"
	"strings"
)

// extractJSONPath navigates a JSON object using a simple path syntax.
// Supports: "field", "field.nested", "array[0]", "field[0].nested"
func extractJSONPath(data map[string]interface{}, path string) (string, error) {
	current, err := walkJSONPath(data, path)
	if err != nil {
		return "", err
	}
	if str, ok := current.(string); ok {
		return str, nil
	}
	return "", fmt.Errorf("final value is not a string: %T", current)
}

func walkJSONPath(data map[string]interface{}, path string) (interface{}, error) {
	var current interface{} = data
	for _, part := range parseJSONPath(path) {
		switch part.kind {
		case "field":
			obj, ok := current.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("expected object at '%s'", part.value)
			}
			var found bool
			current, found = obj[part.value]
			if !found {
				return nil, fmt.Errorf("field '%s' not found", part.value)
			}

		case "index":
			arr, ok := current.([]interface{})
			if !ok {
				return nil, fmt.Errorf("expected array at index %s", part.value)
			}
			idx, err := strconv.Atoi(part.value)
			if err != nil {
				return nil, fmt.Errorf("invalid index %q", part.value)
			}
			if idx < 0 || idx >= len(arr) {
				return nil, fmt.Errorf("index %d out of bounds (len=%d)", idx, len(arr))
			}
			current = arr[idx]
		}
	}
	return current, nil
}

type pathPart struct {
	kind  string // "field" or "index"
	value string
}

// parseJSONPath converts "content[0].text" into structured path parts.
// Examples:
//   - "content[0].text" → [{field, "content"}, {index, "0"}, {field, "text"}]
//   - "choices[0].message.content" → [{field, "choices"}, {index, "0"}, {field, "message"}, {field, "content"}]
func parseJSONPath(path string) []pathPart {
	var parts []pathPart
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			parts = append(parts, pathPart{kind: "field", value: current.String()})
			current.Reset()
		}
	}

	for i := 0; i < len(path); i++ {
		ch := path[i]
		switch ch {
		case '.':
			flush()
		case '[':
			flush()
			j := i + 1
			for j < len(path) && path[j] != ']' {
				j++
			}
			if j < len(path) {
				parts = append(parts, pathPart{kind: "index", value: path[i+1 : j]})
				i = j
			}
		default:
			current.WriteByte(ch)
		}
	}
	flush()
	return parts
}

// fallbackPaths are tried in order when the configured path yields nothing.
var fallbackPaths = []string{
	"content",
	"content[0].text",
	"message.content",
	"response",
	"choices[0].message.content",
	"choices[0].text",
}

// normalizeContent extracts text from the response shapes seen across
// backends: a plain string, an array of text parts, or a nested message.
func normalizeContent(response map[string]interface{}) (string, bool) {
	for _, path := range fallbackPaths {
		value, err := walkJSONPath(response, path)
		if err != nil {
			continue
		}
		if text, ok := textOf(value); ok {
			return text, true
		}
	}
	return "", false
}

func textOf(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return "", false
		}
		return v, true
	case []interface{}:
		var b strings.Builder
		for _, item := range v {
			switch part := item.(type) {
			case string:
				b.WriteString(part)
			case map[string]interface{}:
				if text, ok := part["text"].(string); ok {
					b.WriteString(text)
				}
			}
		}
		if strings.TrimSpace(b.String()) == "" {
			return "", false
		}
		return b.String(), true
	default:
		return "", false
	}
}
