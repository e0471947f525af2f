package executor

import (
	"bytes"
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/doeshing/shai-agent/internal/ports"
)

func TestLocalRunnerCapturesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on POSIX utilities")
	}
	result, err := NewLocalRunner().Run(context.Background(), ports.ProcessSpec{
		Name:    "echo",
		Args:    []string{"hello", "$HOME"},
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.ExitCode)
	// no shell: the variable is passed through literally
	require.Equal(t, "hello $HOME\n", result.Stdout)
}

func TestLocalRunnerReportsExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on POSIX utilities")
	}
	result, err := NewLocalRunner().Run(context.Background(), ports.ProcessSpec{
		Name: "ls",
		Args: []string{"/definitely/not/here"},
	})
	require.NoError(t, err)
	require.NotEqual(t, 0, result.ExitCode)
	require.NotEmpty(t, result.Stderr)
}

func TestLocalRunnerTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on POSIX utilities")
	}
	result, err := NewLocalRunner().Run(context.Background(), ports.ProcessSpec{
		Name:    "sleep",
		Args:    []string{"5"},
		Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	require.True(t, result.TimedOut)
	require.Equal(t, -1, result.ExitCode)
	require.Less(t, result.Duration, 5*time.Second)
}

func TestLocalRunnerDoesNotLeakEnvironment(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on POSIX utilities")
	}
	t.Setenv("SHAI_AGENT_TEST_API_KEY", "sk-should-not-leak")
	t.Setenv("OPENAI_API_KEY", "sk-should-not-leak")

	result, err := NewLocalRunner().Run(context.Background(), ports.ProcessSpec{
		Name:    "printenv",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	require.NotContains(t, result.Stdout, "sk-should-not-leak")
	require.Contains(t, result.Stdout, "PATH=")
}

func TestChildEnv(t *testing.T) {
	env := childEnv([]string{
		"PATH=/usr/bin",
		"LC_ALL=C",
		"Path=C:\\Windows",
		"ANTHROPIC_API_KEY=secret",
		"npm_config__authToken=secret",
		"malformed",
	})
	require.Equal(t, []string{"PATH=/usr/bin", "LC_ALL=C", "Path=C:\\Windows"}, env)
}

func TestLocalRunnerMissingProgram(t *testing.T) {
	_, err := NewLocalRunner().Run(context.Background(), ports.ProcessSpec{Name: "shai-agent-no-such-binary"})
	require.Error(t, err)
}

func TestLimitedWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &limitedWriter{w: &buf, max: 5}

	n, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = w.Write([]byte("defgh"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "abcde", buf.String())
	require.True(t, w.truncated)

	n, err = w.Write([]byte("more"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "abcde", buf.String())
}
