package toolcall

import "github.com/doeshing/shai-agent/internal/ports"

// Definitions advertises the three tools to backends with native function
// calling. The property names are the canonical parameter names accepted
// by the Validator.
func Definitions() []ports.ToolDefinition {
	idempotency := map[string]any{
		"type":        "string",
		"description": "Optional key; repeating a call with the same key does not run it twice.",
	}
	return []ports.ToolDefinition{
		{
			Name:        "writeFile",
			Description: "Write text content to a file inside the project directory.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"filePath":        map[string]any{"type": "string", "description": "Path relative to the project root."},
					"content":         map[string]any{"type": "string"},
					"idempotency_key": idempotency,
				},
				"required": []string{"filePath", "content"},
			},
		},
		{
			Name:        "installPackage",
			Description: "Install a single package with the project's package manager.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"packageName":     map[string]any{"type": "string"},
					"idempotency_key": idempotency,
				},
				"required": []string{"packageName"},
			},
		},
		{
			Name:        "executeCommand",
			Description: "Run a read-only inspection command such as ls, cat or git status.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command":         map[string]any{"type": "string"},
					"args":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"idempotency_key": idempotency,
				},
				"required": []string{"command"},
			},
		},
	}
}
