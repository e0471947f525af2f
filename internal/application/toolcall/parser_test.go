package toolcall

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/shai-agent/internal/domain"
)

func TestExtractFencedBlock(t *testing.T) {
	content := "Sure, I'll create it.\n```json\n{\"tool_name\": \"writeFile\", \"parameters\": {\"filePath\": \"src/a.js\", \"content\": \"x\"}}\n```\nDone."

	call, err := NewParser().Extract(content)
	require.NoError(t, err)
	require.NotNil(t, call)

	want := &domain.ToolCall{
		ToolName:   domain.ToolWriteFile,
		Parameters: map[string]any{"filePath": "src/a.js", "content": "x"},
	}
	if diff := cmp.Diff(want, call); diff != "" {
		t.Fatalf("Extract() mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractPrefersFencedOverBare(t *testing.T) {
	content := `I considered {"tool": "installPackage", "params": {"packageName": "left-pad"}} but instead:
` + "```\n" + `{"tool": "executeCommand", "params": {"command": "ls"}}` + "\n```"

	call, err := NewParser().Extract(content)
	require.NoError(t, err)
	require.NotNil(t, call)
	require.Equal(t, domain.ToolExecuteCommand, call.ToolName)
}

func TestExtractBareObjectFallback(t *testing.T) {
	content := `Running it now: {"toolName": "executeCommand", "parameters": {"command": "ls", "args": ["-la"]}, "idempotencyKey": "k1"} ok?`

	call, err := NewParser().Extract(content)
	require.NoError(t, err)
	require.NotNil(t, call)
	require.Equal(t, domain.ToolExecuteCommand, call.ToolName)
	require.Equal(t, "k1", call.IdempotencyKey)
	require.Equal(t, []any{"-la"}, call.Parameters["args"])
}

func TestExtractBracesInsideStrings(t *testing.T) {
	content := `{"tool": "writeFile", "parameters": {"filePath": "a.js", "content": "function f() { return '}'; }"}}`

	call, err := NewParser().Extract(content)
	require.NoError(t, err)
	require.NotNil(t, call)
	require.Equal(t, "function f() { return '}'; }", call.Parameters["content"])
}

func TestExtractFlattenedParameters(t *testing.T) {
	call, err := NewParser().Extract(`{"tool": "installPackage", "packageName": "lodash"}`)
	require.NoError(t, err)
	require.NotNil(t, call)
	require.Equal(t, map[string]any{"packageName": "lodash"}, call.Parameters)
}

func TestExtractEncodedArguments(t *testing.T) {
	call, err := NewParser().Extract(`{"tool_name": "executeCommand", "arguments": "{\"command\": \"pwd\"}"}`)
	require.NoError(t, err)
	require.NotNil(t, call)
	require.Equal(t, "pwd", call.Parameters["command"])
}

func TestExtractNoToolCall(t *testing.T) {
	tests := []string{
		"The capital of Georgia is Tbilisi.",
		"Config looks like {\"port\": 8080} in most setups.",
		"```json\n{\"tool_name\": \"writeFile\", \"parameters\": {\n```",
		"{ unbalanced",
	}
	for _, content := range tests {
		call, err := NewParser().Extract(content)
		require.NoError(t, err, content)
		require.Nil(t, call, content)
	}
}

func TestExtractMultipleActionsIsAnError(t *testing.T) {
	content := "```json\n{\"tool\": \"installPackage\", \"params\": {\"packageName\": \"a\"}}\n```\n" +
		"```json\n{\"tool\": \"executeCommand\", \"params\": {\"command\": \"ls\"}}\n```"

	call, err := NewParser().Extract(content)
	require.ErrorIs(t, err, domain.ErrMultipleToolCalls)
	require.Nil(t, call)
}

func TestExtractArrayOfActionsIsAnError(t *testing.T) {
	content := "```json\n[{\"tool\": \"installPackage\", \"params\": {\"packageName\": \"a\"}}, {\"tool\": \"installPackage\", \"params\": {\"packageName\": \"b\"}}]\n```"

	_, err := NewParser().Extract(content)
	require.ErrorIs(t, err, domain.ErrMultipleToolCalls)
}

func TestExtractRepeatedIdenticalCallCollapses(t *testing.T) {
	block := "```json\n{\"tool\": \"installPackage\", \"params\": {\"packageName\": \"a\"}}\n```\n"

	call, err := NewParser().Extract(block + "to repeat:\n" + block)
	require.NoError(t, err)
	require.NotNil(t, call)
}

func TestFromCompletionPrefersNativeCalls(t *testing.T) {
	completion := domain.Completion{
		Content: "```json\n{\"tool\": \"installPackage\", \"params\": {\"packageName\": \"a\"}}\n```",
		ToolCalls: []domain.ToolCall{{
			ToolName:   domain.ToolExecuteCommand,
			Parameters: map[string]any{"command": "ls"},
		}},
	}

	call, err := NewParser().FromCompletion(completion)
	require.NoError(t, err)
	require.Equal(t, domain.ToolExecuteCommand, call.ToolName)
}
