package assets

import (
	_ "embed"
)

// DefaultConfigYAML contains the embedded default configuration.
//
//go:embed defaults/config.yaml
var DefaultConfigYAML []byte

// DefaultSandboxYAML contains the embedded default sandbox rules.
//
//go:embed defaults/sandbox.yaml
var DefaultSandboxYAML []byte

// DefaultSystemPrompt is the system message template used when a model
// definition does not declare its own prompt.
//
//go:embed defaults/system_prompt.tmpl
var DefaultSystemPrompt string
