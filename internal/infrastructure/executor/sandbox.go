// Package executor runs confirmed actions inside the project sandbox.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/infrastructure/metrics"
	"github.com/doeshing/shai-agent/internal/ports"
)

// maxAuditOutputBytes caps the output copied into an audit entry.
const maxAuditOutputBytes = 2048

// Config is the static sandbox configuration.
type Config struct {
	Root           string
	PackageManager string
	WriteTimeout   time.Duration
	InstallTimeout time.Duration
	CommandTimeout time.Duration
	MaxOutputBytes int
}

// ConfigFrom extracts the sandbox settings from the application config.
func ConfigFrom(cfg domain.Config) Config {
	return Config{
		Root:           cfg.Execution.ProjectRoot,
		PackageManager: cfg.GetPackageManager(),
		WriteTimeout:   cfg.GetWriteTimeout(),
		InstallTimeout: cfg.GetInstallTimeout(),
		CommandTimeout: cfg.GetCommandTimeout(),
		MaxOutputBytes: cfg.GetMaxOutputBytes(),
	}
}

// Sandbox implements ports.ActionExecutor. Every outcome, including a
// rejection before anything was spawned, produces one audit entry.
type Sandbox struct {
	cfg      Config
	root     string
	security ports.SecurityService
	runner   ports.ProcessRunner
	audit    ports.AuditLog
	logger   ports.Logger
	now      func() time.Time
	replays  singleflight.Group
}

// NewSandbox resolves the project root once; all later checks compare
// against the symlink-free absolute root.
func NewSandbox(cfg Config, security ports.SecurityService, runner ports.ProcessRunner, audit ports.AuditLog, logger ports.Logger) (*Sandbox, error) {
	if security == nil || runner == nil || audit == nil || logger == nil {
		return nil, errors.New("sandbox dependencies not satisfied")
	}
	rootInput := cfg.Root
	if rootInput == "" {
		rootInput = "."
	}
	abs, err := filepath.Abs(rootInput)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", root)
	}

	return &Sandbox{
		cfg:      withDefaults(cfg),
		root:     root,
		security: security,
		runner:   runner,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Root returns the resolved project root.
func (s *Sandbox) Root() string {
	return s.root
}

// Execute implements ports.ActionExecutor. A request carrying an
// idempotency key that was already recorded returns the recorded result
// without running or auditing again.
func (s *Sandbox) Execute(ctx context.Context, req domain.ExecutionRequest) domain.ExecutionResult {
	if req.IdempotencyKey == "" {
		return s.run(ctx, req)
	}

	value, _, _ := s.replays.Do(req.IdempotencyKey, func() (interface{}, error) {
		entry, found, err := s.audit.Lookup(ctx, req.IdempotencyKey)
		if err != nil {
			s.logger.Warn("idempotency lookup failed", map[string]interface{}{
				"key":   req.IdempotencyKey,
				"error": err.Error(),
			})
		}
		if found {
			replayed := entry.Result()
			replayed.Metadata = map[string]string{"replayed": "true", "audit_id": entry.ID}
			return replayed, nil
		}
		return s.run(ctx, req), nil
	})
	return value.(domain.ExecutionResult)
}

func (s *Sandbox) run(ctx context.Context, req domain.ExecutionRequest) domain.ExecutionResult {
	start := s.now()
	visit := &actionRun{ctx: ctx, sandbox: s}

	var result domain.ExecutionResult
	if req.Action == nil {
		result = domain.ExecutionResult{Error: "no action to execute"}
	} else if err := req.Action.Accept(visit); err != nil {
		result = visit.result
		result.Success = false
		result.Error = err.Error()
	} else {
		result = visit.result
	}
	result.DurationMS = s.now().Sub(start).Milliseconds()

	s.record(ctx, req, result)
	return result
}

func (s *Sandbox) record(ctx context.Context, req domain.ExecutionRequest, result domain.ExecutionResult) {
	tool := domain.ToolName("")
	summary := ""
	if req.Action != nil {
		tool = req.Action.Tool()
		summary = domain.DescribeAction(req.Action)
	}

	entry := domain.AuditEntry{
		ID:             uuid.NewString(),
		RequestID:      req.RequestID,
		ActionID:       req.ActionID,
		Tool:           tool,
		Summary:        summary,
		IdempotencyKey: req.IdempotencyKey,
		Success:        result.Success,
		Output:         truncate(result.Result, maxAuditOutputBytes),
		Error:          result.Error,
		DurationMS:     result.DurationMS,
		CompletedAt:    s.now().UTC(),
	}
	// the audit write must not be lost to a cancelled request
	if err := s.audit.Append(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Error("append audit entry", err, map[string]interface{}{
			"request_id": req.RequestID,
			"tool":       string(tool),
		})
	}

	metrics.ObserveToolExecution(string(tool), result.Success)
	s.logger.Info("action executed", map[string]interface{}{
		"request_id":  req.RequestID,
		"tool":        string(tool),
		"success":     result.Success,
		"duration_ms": result.DurationMS,
	})
}

// actionRun dispatches one action to its handler.
type actionRun struct {
	ctx     context.Context
	sandbox *Sandbox
	result  domain.ExecutionResult
}

func (r *actionRun) VisitWriteFile(action domain.WriteFileAction) error {
	result, err := r.sandbox.writeFile(r.ctx, action)
	r.result = result
	return err
}

func (r *actionRun) VisitInstallPackage(action domain.InstallPackageAction) error {
	result, err := r.sandbox.installPackage(r.ctx, action)
	r.result = result
	return err
}

func (r *actionRun) VisitExecuteCommand(action domain.ExecuteCommandAction) error {
	result, err := r.sandbox.executeCommand(r.ctx, action)
	r.result = result
	return err
}

func (s *Sandbox) writeFile(ctx context.Context, action domain.WriteFileAction) (domain.ExecutionResult, error) {
	target, rel, err := s.resolveWritePath(action.Path)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	if err := s.security.CheckWritePath(rel); err != nil {
		return domain.ExecutionResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()

	err = runWithContext(ctx, func() error {
		if err := os.MkdirAll(filepath.Dir(target), domain.DirectoryPermissions); err != nil {
			return fmt.Errorf("create parent directories: %w", err)
		}
		if err := os.WriteFile(target, []byte(action.Content), domain.WrittenFilePermissions); err != nil {
			return fmt.Errorf("write file: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	written := len(action.Content)
	return domain.ExecutionResult{
		Success: true,
		Result:  fmt.Sprintf("wrote %d bytes to %s", written, rel),
		Metadata: map[string]string{
			"path":  rel,
			"bytes": strconv.Itoa(written),
		},
	}, nil
}

func (s *Sandbox) installPackage(ctx context.Context, action domain.InstallPackageAction) (domain.ExecutionResult, error) {
	if err := s.security.CheckPackage(action.Name); err != nil {
		return domain.ExecutionResult{}, err
	}
	spec := ports.ProcessSpec{
		Name:           s.cfg.PackageManager,
		Args:           installArgs(s.cfg.PackageManager, action.Name),
		Dir:            s.root,
		Timeout:        s.cfg.InstallTimeout,
		MaxOutputBytes: s.cfg.MaxOutputBytes,
	}
	return s.spawn(ctx, spec)
}

func (s *Sandbox) executeCommand(ctx context.Context, action domain.ExecuteCommandAction) (domain.ExecutionResult, error) {
	if err := s.security.CheckCommand(action.Command, action.Args); err != nil {
		return domain.ExecutionResult{}, err
	}
	spec := ports.ProcessSpec{
		Name:           action.Command,
		Args:           action.Args,
		Dir:            s.root,
		Timeout:        s.cfg.CommandTimeout,
		MaxOutputBytes: s.cfg.MaxOutputBytes,
	}
	return s.spawn(ctx, spec)
}

func (s *Sandbox) spawn(ctx context.Context, spec ports.ProcessSpec) (domain.ExecutionResult, error) {
	processResult, err := s.runner.Run(ctx, spec)
	output := combineOutput(processResult)
	metadata := map[string]string{
		"exit_code": strconv.Itoa(processResult.ExitCode),
		"truncated": strconv.FormatBool(processResult.Truncated),
	}
	result := domain.ExecutionResult{Result: output, Metadata: metadata}

	switch {
	case err != nil:
		return result, err
	case processResult.TimedOut:
		metadata["timed_out"] = "true"
		return result, fmt.Errorf("%s timed out after %s", spec.Name, spec.Timeout)
	case processResult.ExitCode != 0:
		return result, fmt.Errorf("%s exited with status %d", spec.Name, processResult.ExitCode)
	}
	result.Success = true
	return result, nil
}

// resolveWritePath confines path to the root. The parent directory is
// resolved through symlinks, and an existing symlink target must resolve
// inside the root as well.
func (s *Sandbox) resolveWritePath(path string) (string, string, error) {
	if strings.TrimSpace(path) == "" {
		return "", "", &domain.PathSafetyError{Path: path, Reason: "empty path"}
	}
	if strings.ContainsRune(path, 0) {
		return "", "", &domain.PathSafetyError{Path: path, Reason: "path contains a NUL byte"}
	}

	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(s.root, candidate)
	}
	candidate = filepath.Clean(candidate)
	if !within(s.root, candidate) || candidate == s.root {
		return "", "", &domain.PathSafetyError{Path: path, Reason: "outside the project root"}
	}

	parent, err := resolveExisting(filepath.Dir(candidate))
	if err != nil {
		return "", "", &domain.PathSafetyError{Path: path, Reason: "cannot resolve parent directory: " + err.Error()}
	}
	if !within(s.root, parent) && parent != s.root {
		return "", "", &domain.PathSafetyError{Path: path, Reason: "parent directory resolves outside the project root"}
	}

	target := filepath.Join(parent, filepath.Base(candidate))
	if info, err := os.Lstat(target); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(target)
			if err != nil || !within(s.root, resolved) {
				return "", "", &domain.PathSafetyError{Path: path, Reason: "symlink resolves outside the project root"}
			}
			target = resolved
		} else if info.IsDir() {
			return "", "", &domain.PathSafetyError{Path: path, Reason: "target is a directory"}
		}
	}

	rel, err := filepath.Rel(s.root, target)
	if err != nil {
		return "", "", &domain.PathSafetyError{Path: path, Reason: err.Error()}
	}
	return target, filepath.ToSlash(rel), nil
}

// resolveExisting evaluates symlinks on the deepest existing ancestor of
// dir and re-appends the missing remainder.
func resolveExisting(dir string) (string, error) {
	current := dir
	var missing []string
	for {
		if _, err := os.Lstat(current); err == nil {
			resolved, err := filepath.EvalSymlinks(current)
			if err != nil {
				return "", err
			}
			return filepath.Join(append([]string{resolved}, missing...)...), nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return dir, nil
		}
		missing = append([]string{filepath.Base(current)}, missing...)
		current = parent
	}
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func installArgs(manager, name string) []string {
	switch manager {
	case "npm":
		return []string{"install", "--ignore-scripts", "--no-audit", "--no-fund", name}
	case "pnpm", "yarn":
		return []string{"add", "--ignore-scripts", name}
	default:
		return []string{"install", name}
	}
}

func combineOutput(result ports.ProcessResult) string {
	output := result.Stdout
	if result.Stderr != "" {
		if output != "" {
			output += "\n"
		}
		output += result.Stderr
	}
	if result.Truncated {
		output += domain.TruncatedMarker
	}
	return output
}

func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + domain.TruncatedMarker
}

// runWithContext stops waiting when ctx ends. File IO is not interruptible,
// so a late write may still land; the caller reports the timeout.
func runWithContext(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("write timed out: %w", ctx.Err())
	}
}

func withDefaults(cfg Config) Config {
	if cfg.PackageManager == "" {
		cfg.PackageManager = domain.DefaultPackageManager
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = domain.DefaultWriteTimeout
	}
	if cfg.InstallTimeout <= 0 {
		cfg.InstallTimeout = domain.DefaultInstallTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = domain.DefaultCommandTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = domain.DefaultMaxOutputBytes
	}
	return cfg
}

var _ ports.ActionExecutor = (*Sandbox)(nil)
