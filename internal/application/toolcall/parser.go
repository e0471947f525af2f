// Package toolcall extracts structured actions from model output and
// validates them into typed domain actions.
package toolcall

import (
	"encoding/json"
	"reflect"
	"regexp"
	"strings"

	"github.com/doeshing/shai-agent/internal/domain"
)

var (
	toolNameKeys       = []string{"tool_name", "toolName", "tool", "action"}
	parameterKeys      = []string{"parameters", "params", "arguments", "input"}
	idempotencyKeyKeys = []string{"idempotency_key", "idempotencyKey"}
)

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\n?(.*?)```")

// Parser locates at most one tool call in a model response.
//
// Native function calls win over text; inside text a fenced block wins over
// a bare object. Malformed JSON is treated as a plain answer. Two or more
// distinct calls in one turn are an error, never a silent pick.
type Parser struct{}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// FromCompletion extracts the tool call of a normalised completion.
func (p *Parser) FromCompletion(completion domain.Completion) (*domain.ToolCall, error) {
	if len(completion.ToolCalls) > 0 {
		return single(completion.ToolCalls)
	}
	return p.Extract(completion.Content)
}

// Extract scans free text. It returns nil without error when no tool call is present.
func (p *Parser) Extract(content string) (*domain.ToolCall, error) {
	var fenced []domain.ToolCall
	for _, match := range fencedBlock.FindAllStringSubmatch(content, -1) {
		fenced = append(fenced, callsFromJSON(strings.TrimSpace(match[1]))...)
	}
	if len(fenced) > 0 {
		return single(fenced)
	}

	var bare []domain.ToolCall
	for _, candidate := range balancedObjects(content) {
		bare = append(bare, callsFromJSON(candidate)...)
	}
	if len(bare) > 0 {
		return single(bare)
	}
	return nil, nil
}

// single collapses identical repeats and rejects genuinely different calls.
func single(calls []domain.ToolCall) (*domain.ToolCall, error) {
	first := calls[0]
	for _, other := range calls[1:] {
		if other.ToolName != first.ToolName || !reflect.DeepEqual(other.Parameters, first.Parameters) {
			return nil, domain.ErrMultipleToolCalls
		}
	}
	return &first, nil
}

func callsFromJSON(raw string) []domain.ToolCall {
	if raw == "" {
		return nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil
	}

	switch value := decoded.(type) {
	case map[string]any:
		if call, ok := toCall(value); ok {
			return []domain.ToolCall{call}
		}
	case []any:
		var calls []domain.ToolCall
		for _, item := range value {
			if obj, ok := item.(map[string]any); ok {
				if call, ok := toCall(obj); ok {
					calls = append(calls, call)
				}
			}
		}
		return calls
	}
	return nil
}

func toCall(obj map[string]any) (domain.ToolCall, bool) {
	name, ok := firstString(obj, toolNameKeys)
	if !ok || strings.TrimSpace(name) == "" {
		return domain.ToolCall{}, false
	}

	params, found, ok := nestedParameters(obj)
	if !ok {
		return domain.ToolCall{}, false
	}
	if !found {
		params = flattenedParameters(obj)
	}

	call := domain.ToolCall{ToolName: domain.ToolName(strings.TrimSpace(name)), Parameters: params}
	if key, ok := firstString(obj, idempotencyKeyKeys); ok {
		call.IdempotencyKey = key
	}
	return call, true
}

func nestedParameters(obj map[string]any) (map[string]any, bool, bool) {
	for _, key := range parameterKeys {
		raw, present := obj[key]
		if !present {
			continue
		}
		switch value := raw.(type) {
		case map[string]any:
			return value, true, true
		case string:
			// function-call style arguments arrive as an encoded object
			var decoded map[string]any
			if err := json.Unmarshal([]byte(value), &decoded); err != nil {
				return nil, true, false
			}
			return decoded, true, true
		default:
			return nil, true, false
		}
	}
	return nil, false, true
}

// flattenedParameters accepts {"tool": "x", "command": "ls"} by treating
// every non-reserved key as a parameter.
func flattenedParameters(obj map[string]any) map[string]any {
	params := map[string]any{}
	for key, value := range obj {
		if contains(toolNameKeys, key) || contains(idempotencyKeyKeys, key) {
			continue
		}
		params[key] = value
	}
	return params
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func firstString(obj map[string]any, keys []string) (string, bool) {
	for _, key := range keys {
		if value, ok := obj[key].(string); ok {
			return value, true
		}
	}
	return "", false
}

// balancedObjects returns every top-level {...} span whose braces balance,
// ignoring braces inside JSON strings.
func balancedObjects(content string) []string {
	var out []string
	depth, start := 0, -1
	inString, escaped := false, false

	for i := 0; i < len(content); i++ {
		c := content[i]
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
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				out = append(out, content[start:i+1])
				start = -1
			}
		}
	}
	return out
}
