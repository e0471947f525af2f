package toolcall

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/doeshing/shai-agent/internal/domain"
)

func TestDefinitionsCoverEveryKnownTool(t *testing.T) {
	defs := Definitions()
	require.Len(t, defs, len(domain.KnownTools))
	for _, def := range defs {
		require.True(t, domain.ToolName(def.Name).IsKnown(), def.Name)
		properties := def.Schema["properties"].(map[string]any)
		for _, field := range def.Schema["required"].([]string) {
			require.Contains(t, properties, field)
			require.Contains(t, parameterAliases, field)
		}
	}
}
