package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/doeshing/shai-agent/internal/ports"
)

// processWaitDelay bounds how long Wait lingers on inherited pipes after
// the process was killed.
const processWaitDelay = 2 * time.Second

// inheritedEnv names the only variables a child process sees. Credentials
// such as model API keys stay in the agent process.
var inheritedEnv = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "LOGNAME": true,
	"LANG": true, "TERM": true, "TZ": true, "TMPDIR": true, "TMP": true, "TEMP": true,
	"NPM_CONFIG_CACHE": true, "NPM_CONFIG_REGISTRY": true,
	"SYSTEMROOT": true, "COMSPEC": true, "PATHEXT": true, "USERPROFILE": true,
	"APPDATA": true, "LOCALAPPDATA": true,
}

// LocalRunner spawns programs directly, never through a shell.
type LocalRunner struct{}

// NewLocalRunner builds a new runner.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

// Run implements ports.ProcessRunner. A non-zero exit status is reported
// through ExitCode, not as an error.
func (r *LocalRunner) Run(ctx context.Context, spec ports.ProcessSpec) (ports.ProcessResult, error) {
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, spec.Name, spec.Args...)
	c.Dir = spec.Dir
	c.Env = childEnv(os.Environ())
	c.WaitDelay = processWaitDelay

	var stdout, stderr bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdout, max: int64(spec.MaxOutputBytes)}
	stderrLimited := &limitedWriter{w: &stderr, max: int64(spec.MaxOutputBytes)}
	c.Stdout = stdoutLimited
	c.Stderr = stderrLimited

	start := time.Now()
	err := c.Run()

	result := ports.ProcessResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdoutLimited.truncated || stderrLimited.truncated,
		Duration:  time.Since(start),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("run %s: %w", spec.Name, err)
	}
	return result, nil
}

func childEnv(environ []string) []string {
	env := make([]string, 0, len(inheritedEnv))
	for _, kv := range environ {
		key, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		upper := strings.ToUpper(key)
		if inheritedEnv[upper] || strings.HasPrefix(upper, "LC_") {
			env = append(env, kv)
		}
	}
	return env
}

// limitedWriter is an io.Writer that limits total bytes written.
// A zero max disables the limit.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.max <= 0 {
		return lw.w.Write(p)
	}
	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		// report the full length so the child never sees a short write
		return n, err
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}

var _ ports.ProcessRunner = (*LocalRunner)(nil)
