package toolcall

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/doeshing/shai-agent/internal/domain"
)

func TestValidateProducesTypedActions(t *testing.T) {
	tests := []struct {
		name string
		call domain.ToolCall
		want domain.Action
	}{
		{
			name: "write file",
			call: domain.ToolCall{ToolName: domain.ToolWriteFile, Parameters: map[string]any{"filePath": " src/app.js ", "content": "console.log(1)"}},
			want: domain.WriteFileAction{Path: "src/app.js", Content: "console.log(1)"},
		},
		{
			name: "install package via alias",
			call: domain.ToolCall{ToolName: domain.ToolInstallPackage, Parameters: map[string]any{"package": "lodash"}},
			want: domain.InstallPackageAction{Name: "lodash"},
		},
		{
			name: "execute command with args",
			call: domain.ToolCall{ToolName: domain.ToolExecuteCommand, Parameters: map[string]any{"command": "ls", "args": []any{"-la", "src"}}},
			want: domain.ExecuteCommandAction{Command: "ls", Args: []string{"-la", "src"}},
		},
		{
			name: "execute command split on whitespace",
			call: domain.ToolCall{ToolName: domain.ToolExecuteCommand, Parameters: map[string]any{"command": "ls -la"}},
			want: domain.ExecuteCommandAction{Command: "ls", Args: []string{"-la"}},
		},
		{
			name: "execute command without args",
			call: domain.ToolCall{ToolName: domain.ToolExecuteCommand, Parameters: map[string]any{"command": "pwd"}},
			want: domain.ExecuteCommandAction{Command: "pwd"},
		},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Validate(tt.call)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name      string
		call      domain.ToolCall
		wantField string
	}{
		{
			name: "unknown tool",
			call: domain.ToolCall{ToolName: "deleteEverything", Parameters: map[string]any{"filePath": "a"}},
		},
		{
			name:      "placeholder path",
			call:      domain.ToolCall{ToolName: domain.ToolWriteFile, Parameters: map[string]any{"filePath": "path/to/file.js", "content": "x"}},
			wantField: "filePath",
		},
		{
			name:      "angle bracket placeholder",
			call:      domain.ToolCall{ToolName: domain.ToolWriteFile, Parameters: map[string]any{"filePath": "<filename>", "content": "x"}},
			wantField: "filePath",
		},
		{
			name:      "empty content",
			call:      domain.ToolCall{ToolName: domain.ToolWriteFile, Parameters: map[string]any{"filePath": "a.js", "content": ""}},
			wantField: "content",
		},
		{
			name:      "missing path",
			call:      domain.ToolCall{ToolName: domain.ToolWriteFile, Parameters: map[string]any{"content": "x"}},
			wantField: "filePath",
		},
		{
			name:      "non string path",
			call:      domain.ToolCall{ToolName: domain.ToolWriteFile, Parameters: map[string]any{"filePath": 42.0, "content": "x"}},
			wantField: "filePath",
		},
		{
			name:      "blank package",
			call:      domain.ToolCall{ToolName: domain.ToolInstallPackage, Parameters: map[string]any{"packageName": "  "}},
			wantField: "packageName",
		},
		{
			name:      "args not an array",
			call:      domain.ToolCall{ToolName: domain.ToolExecuteCommand, Parameters: map[string]any{"command": "ls", "args": "-la"}},
			wantField: "args",
		},
		{
			name:      "args with a number",
			call:      domain.ToolCall{ToolName: domain.ToolExecuteCommand, Parameters: map[string]any{"command": "ls", "args": []any{"-la", 1.0}}},
			wantField: "args",
		},
		{
			name:      "missing command",
			call:      domain.ToolCall{ToolName: domain.ToolExecuteCommand, Parameters: map[string]any{}},
			wantField: "command",
		},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := v.Validate(tt.call)
			require.Nil(t, action)

			var validationErr *domain.ToolValidationError
			require.True(t, errors.As(err, &validationErr), "got %v", err)
			require.Equal(t, tt.wantField, validationErr.Field)
		})
	}
}

func TestIsPlaceholderPath(t *testing.T) {
	placeholders := []string{"<path>", "{{filePath}}", "[file]", "$FILE", "path/to/x.js", "./path/to/x.js", "your_file.txt", "filename"}
	for _, path := range placeholders {
		require.True(t, IsPlaceholderPath(path), path)
	}

	real := []string{"src/index.js", "README.md", "components/Path.tsx", "docs/path-tools.md"}
	for _, path := range real {
		require.False(t, IsPlaceholderPath(path), path)
	}
}
