// Package config loads the agent configuration from YAML.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/doeshing/shai-agent/assets"
	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/pkg/filesystem"
	"github.com/doeshing/shai-agent/internal/ports"
)

// EnvConfigPath overrides the default config location.
const EnvConfigPath = "SHAI_AGENT_CONFIG"

// FileLoader loads YAML configuration from ~/.shai-agent/config.yaml (overridable via SHAI_AGENT_CONFIG).
type FileLoader struct {
	overridePath string
}

// NewFileLoader builds a new loader. An empty path uses the environment
// override or the default location.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{overridePath: path}
}

// Path returns the file the loader reads.
func (l *FileLoader) Path() string {
	return l.resolvePath()
}

// Load implements ports.ConfigProvider. A missing file is created from the
// embedded default with owner-only permissions.
func (l *FileLoader) Load(context.Context) (domain.Config, error) {
	path := l.resolvePath()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := writeDefault(path); err != nil {
			return domain.Config{}, err
		}
		data = assets.DefaultConfigYAML
	} else if err != nil {
		return domain.Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return domain.Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML and expands home-relative paths. Unknown keys are
// rejected.
func Parse(data []byte) (domain.Config, error) {
	var cfg domain.Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return domain.Config{}, err
	}
	return expandPaths(cfg), nil
}

// Default returns the embedded default configuration.
func Default() (domain.Config, error) {
	return Parse(assets.DefaultConfigYAML)
}

func (l *FileLoader) resolvePath() string {
	if l.overridePath != "" {
		return filesystem.ExpandHome(l.overridePath)
	}
	if custom := os.Getenv(EnvConfigPath); custom != "" {
		return filesystem.ExpandHome(custom)
	}
	return filepath.Join(filesystem.AppDir(), "config.yaml")
}

func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, assets.DefaultConfigYAML, domain.SecureFilePermissions); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

func expandPaths(cfg domain.Config) domain.Config {
	cfg.Execution.ProjectRoot = filesystem.ExpandHome(cfg.Execution.ProjectRoot)
	cfg.Execution.RulesFile = filesystem.ExpandHome(cfg.Execution.RulesFile)
	cfg.Confirmation.StorePath = filesystem.ExpandHome(cfg.Confirmation.StorePath)
	cfg.Audit.Path = filesystem.ExpandHome(cfg.Audit.Path)
	return cfg
}

var _ ports.ConfigProvider = (*FileLoader)(nil)
