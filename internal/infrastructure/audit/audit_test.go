package audit

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/ports"
)

func entry(i int, key string) domain.AuditEntry {
	return domain.AuditEntry{
		ID:             fmt.Sprintf("entry-%d", i),
		RequestID:      "req",
		ActionID:       fmt.Sprintf("action-%d", i),
		Tool:           domain.ToolExecuteCommand,
		Summary:        "executeCommand ls",
		IdempotencyKey: key,
		Success:        i%2 == 0,
		Output:         "out",
		DurationMS:     int64(i),
		CompletedAt:    time.Date(2025, 1, 1, 0, 0, i, 0, time.UTC),
	}
}

func logsUnderTest(t *testing.T) map[string]ports.AuditLog {
	t.Helper()
	sqlite, err := NewSQLiteLog(filepath.Join(t.TempDir(), "audit.db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]ports.AuditLog{
		"memory": NewMemoryLog(3),
		"sqlite": sqlite,
	}
}

func TestAuditLogEvictsOldestFirst(t *testing.T) {
	for name, log := range logsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 1; i <= 5; i++ {
				require.NoError(t, log.Append(ctx, entry(i, "")))
			}

			recent, err := log.Recent(ctx, 10)
			require.NoError(t, err)
			require.Len(t, recent, 3)
			require.Equal(t, "entry-5", recent[0].ID)
			require.Equal(t, "entry-3", recent[2].ID)
		})
	}
}

func TestAuditLogRecentLimit(t *testing.T) {
	for name, log := range logsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 1; i <= 3; i++ {
				require.NoError(t, log.Append(ctx, entry(i, "")))
			}
			recent, err := log.Recent(ctx, 1)
			require.NoError(t, err)
			require.Len(t, recent, 1)
			require.Equal(t, "entry-3", recent[0].ID)
		})
	}
}

func TestAuditLogLookupByIdempotencyKey(t *testing.T) {
	for name, log := range logsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, log.Append(ctx, entry(1, "key-a")))
			require.NoError(t, log.Append(ctx, entry(2, "key-b")))

			found, ok, err := log.Lookup(ctx, "key-b")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "entry-2", found.ID)
			require.True(t, found.Success)
			require.Equal(t, domain.ToolExecuteCommand, found.Tool)
			require.True(t, found.CompletedAt.Equal(entry(2, "").CompletedAt))

			_, ok, err = log.Lookup(ctx, "missing")
			require.NoError(t, err)
			require.False(t, ok)

			_, ok, err = log.Lookup(ctx, "")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestSQLiteLogSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.db")
	log, err := NewSQLiteLog(path, 10)
	require.NoError(t, err)
	require.NoError(t, log.Append(context.Background(), entry(1, "persisted")))
	require.NoError(t, log.Close())

	reopened, err := NewSQLiteLog(path, 10)
	require.NoError(t, err)
	defer reopened.Close()

	_, ok, err := reopened.Lookup(context.Background(), "persisted")
	require.NoError(t, err)
	require.True(t, ok)
}
