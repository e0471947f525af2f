package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/doeshing/shai-agent/internal/domain"
)

func TestLoadWritesEmbeddedDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := NewFileLoader(path).Load(context.Background())
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(domain.SecureFilePermissions), info.Mode().Perm())

	small, err := cfg.ModelForTier(domain.TierSmall)
	require.NoError(t, err)
	require.Equal(t, domain.BackendOpenAI, small.GetBackend())
	require.Equal(t, []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}, cfg.GetRateLimitDelays())
	require.Equal(t, 2*time.Minute, cfg.GetConfirmationTimeout())
	require.NoError(t, cfg.ValidateConsistency())
}

func TestLoadHonoursEnvironmentOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  - name: local
    tier: small
    endpoint: http://localhost:11434/api/chat
  - name: big
    tier: large
    backend: openai
context:
  token_budget: 800
audit:
  store: memory
`), 0o600))
	t.Setenv(EnvConfigPath, path)

	loader := NewFileLoader("")
	require.Equal(t, path, loader.Path())

	cfg, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 800, cfg.GetTokenBudget())
	require.Equal(t, domain.AuditStoreMemory, cfg.GetAuditStore())
	require.Len(t, cfg.Models, 2)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("modles: []\n"))
	require.Error(t, err)
}

func TestParseExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Parse([]byte("audit:\n  path: ~/audit.db\nconfirmation:\n  store_path: ~/pending\n"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "audit.db"), cfg.Audit.Path)
	require.Equal(t, filepath.Join(home, "pending"), cfg.Confirmation.StorePath)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Empty(t, cfg.Models)
}
