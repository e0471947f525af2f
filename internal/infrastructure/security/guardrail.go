package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/doeshing/shai-agent/assets"
	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/pkg/filesystem"
	"github.com/doeshing/shai-agent/internal/ports"
)

// Guardrail implements the SecurityService port.
type Guardrail struct {
	patterns    []compiledPattern
	rules       Rules
	allowed     map[string]bool
	denied      map[string]bool
	packageName *regexp.Regexp
}

type compiledPattern struct {
	re   *regexp.Regexp
	rule DangerPattern
}

// DangerPattern describes a regex-based guardrail rule.
type DangerPattern struct {
	Pattern string `yaml:"pattern"`
	Level   string `yaml:"level"`
	Message string `yaml:"message"`
	Action  string `yaml:"action"`
}

// CommandRules configures executeCommand.
type CommandRules struct {
	Allow       []string            `yaml:"allow"`
	Deny        []string            `yaml:"deny"`
	Subcommands map[string][]string `yaml:"subcommands"`
	DeniedFlags map[string][]string `yaml:"denied_flags"`
}

// ArgumentRules configures per-argument checks.
type ArgumentRules struct {
	SensitiveNames []string `yaml:"sensitive_names"`
}

// PathRules is a segment, basename-glob and extension deny-list.
type PathRules struct {
	DenySegments   []string `yaml:"deny_segments"`
	DenyNames      []string `yaml:"deny_names"`
	DenyExtensions []string `yaml:"deny_extensions"`
}

// PackageRules configures installPackage.
type PackageRules struct {
	NamePattern string `yaml:"name_pattern"`
	MaxLength   int    `yaml:"max_length"`
}

// Rules is the sandbox policy.
type Rules struct {
	DangerPatterns []DangerPattern `yaml:"danger_patterns"`
	Commands       CommandRules    `yaml:"commands"`
	Arguments      ArgumentRules   `yaml:"arguments"`
	WritePaths     PathRules       `yaml:"write_paths"`
	ContextPaths   PathRules       `yaml:"context_paths"`
	Packages       PackageRules    `yaml:"packages"`
}

// RulesFile is the YAML schema root.
type RulesFile struct {
	Rules Rules `yaml:"rules"`
}

// Characters a shell would interpret. Nothing here is ever run through a
// shell, but a model emitting them is trying to compose commands.
const shellMetacharacters = ";&|$`<>(){}[]!*?~'\"\\\n\r\t"

// NewGuardrail loads sandbox rules from disk, or the embedded defaults when
// the file is missing. Sections absent from the file keep their defaults.
func NewGuardrail(path string) (*Guardrail, error) {
	rules, err := loadRules(path)
	if err != nil {
		return nil, err
	}
	return newGuardrail(rules)
}

// NewGuardrailFromRules builds a guardrail from already-parsed rules.
func NewGuardrailFromRules(rules Rules) (*Guardrail, error) {
	return newGuardrail(rules)
}

func newGuardrail(rules Rules) (*Guardrail, error) {
	var compiled []compiledPattern
	for _, pattern := range rules.DangerPatterns {
		re, err := regexp.Compile(pattern.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile danger pattern %q: %w", pattern.Pattern, err)
		}
		compiled = append(compiled, compiledPattern{
			re:   re,
			rule: pattern,
		})
	}

	namePattern, err := regexp.Compile(rules.Packages.NamePattern)
	if err != nil {
		return nil, fmt.Errorf("compile package name pattern: %w", err)
	}

	return &Guardrail{
		patterns:    compiled,
		rules:       rules,
		allowed:     toSet(rules.Commands.Allow),
		denied:      toSet(rules.Commands.Deny),
		packageName: namePattern,
	}, nil
}

// Rules returns the active policy.
func (g *Guardrail) Rules() Rules {
	return g.rules
}

// Evaluate implements ports.SecurityService.
func (g *Guardrail) Evaluate(command string) (domain.RiskAssessment, error) {
	if g == nil {
		return domain.RiskAssessment{}, errors.New("guardrail nil")
	}
	assessment := domain.RiskAssessment{
		Level:  domain.RiskSafe,
		Action: domain.ActionAllow,
	}
	highest := domain.RiskSafe
	for _, pattern := range g.patterns {
		if pattern.re.MatchString(command) {
			ruleLevel := parseRiskLevel(pattern.rule.Level)
			if moreSevere(ruleLevel, highest) {
				highest = ruleLevel
				assessment.Level = ruleLevel
			}
			if parseAction(pattern.rule.Action) == domain.ActionBlock {
				assessment.Action = domain.ActionBlock
			}
			assessment.Reasons = append(assessment.Reasons, pattern.rule.Message)
			assessment.MatchedRules = append(assessment.MatchedRules, pattern.rule.Pattern)
		}
	}
	return assessment, nil
}

// CheckCommand validates an executeCommand program and its arguments.
// The deny-list is consulted before the allow-list.
func (g *Guardrail) CheckCommand(command string, args []string) error {
	if command == "" {
		return &domain.CommandRejectedError{Command: command, Reason: "empty command"}
	}
	if strings.ContainsAny(command, `/\`) {
		return &domain.CommandRejectedError{Command: command, Reason: "command must be a bare program name"}
	}
	if strings.ContainsAny(command, shellMetacharacters+" ") {
		return &domain.CommandRejectedError{Command: command, Reason: "command contains shell metacharacters"}
	}
	if g.denied[command] {
		return &domain.CommandRejectedError{Command: command, Reason: "command is on the deny-list"}
	}
	if !g.allowed[command] {
		return &domain.CommandRejectedError{Command: command, Reason: "command is not on the allow-list"}
	}

	if subcommands, ok := g.rules.Commands.Subcommands[command]; ok {
		if len(args) == 0 || !slices.Contains(subcommands, args[0]) {
			return &domain.CommandRejectedError{
				Command: command,
				Reason:  fmt.Sprintf("%s requires one of the subcommands: %s", command, strings.Join(subcommands, ", ")),
			}
		}
	}

	deniedFlags := g.rules.Commands.DeniedFlags[command]
	for _, arg := range args {
		if reason := g.argumentProblem(arg); reason != "" {
			return &domain.CommandRejectedError{Command: command, Reason: fmt.Sprintf("argument %q %s", arg, reason)}
		}
		for _, flag := range deniedFlags {
			if flagMatches(flag, arg) {
				return &domain.CommandRejectedError{Command: command, Reason: fmt.Sprintf("argument %q is not permitted for %s", arg, command)}
			}
		}
	}

	assessment, err := g.Evaluate(strings.TrimSpace(command + " " + strings.Join(args, " ")))
	if err != nil {
		return err
	}
	if assessment.Blocked() {
		return &domain.CommandRejectedError{Command: command, Reason: strings.Join(assessment.Reasons, "; ")}
	}
	return nil
}

// flagMatches treats a trailing * as a prefix wildcard. Exact entries also
// match their --flag=value form.
func flagMatches(flag, arg string) bool {
	if prefix, ok := strings.CutSuffix(flag, "*"); ok {
		return strings.HasPrefix(arg, prefix)
	}
	return arg == flag || strings.HasPrefix(arg, flag+"=")
}

func (g *Guardrail) argumentProblem(arg string) string {
	switch {
	case strings.HasPrefix(arg, "/"), strings.HasPrefix(arg, "~"), windowsAbsolute(arg):
		return "is an absolute path"
	case strings.Contains(arg, ".."):
		return "traverses to a parent directory"
	case strings.ContainsAny(arg, shellMetacharacters):
		return "contains shell metacharacters"
	}
	lower := strings.ToLower(arg)
	for _, name := range g.rules.Arguments.SensitiveNames {
		if strings.Contains(lower, strings.ToLower(name)) {
			return "references a sensitive file"
		}
	}
	return ""
}

// CheckPackage validates an installPackage name.
func (g *Guardrail) CheckPackage(name string) error {
	if name == "" {
		return &domain.CommandRejectedError{Command: name, Reason: "empty package name"}
	}
	if strings.ContainsAny(name, shellMetacharacters+" ") {
		return &domain.CommandRejectedError{Command: name, Reason: "package name contains shell metacharacters"}
	}
	if limit := g.rules.Packages.MaxLength; limit > 0 && len(name) > limit {
		return &domain.CommandRejectedError{Command: name, Reason: "package name is too long"}
	}
	if !g.packageName.MatchString(name) {
		return &domain.CommandRejectedError{Command: name, Reason: "package name is not a valid registry name"}
	}
	return nil
}

// CheckWritePath applies the write deny-list to a root-relative path.
// Root confinement is the executor's job; this only inspects names.
func (g *Guardrail) CheckWritePath(relPath string) error {
	if reason := matchPathRules(g.rules.WritePaths, relPath); reason != "" {
		return &domain.PathSafetyError{Path: relPath, Reason: reason}
	}
	return nil
}

// AllowsContextPath reports whether a file may be shown to the model.
func (g *Guardrail) AllowsContextPath(path string) bool {
	return matchPathRules(g.rules.ContextPaths, path) == ""
}

func matchPathRules(rules PathRules, path string) string {
	clean := filepath.ToSlash(filepath.Clean(path))
	segments := strings.Split(clean, "/")
	base := segments[len(segments)-1]

	for _, segment := range segments[:len(segments)-1] {
		for _, denied := range rules.DenySegments {
			if segment == denied {
				return fmt.Sprintf("directory %s is protected", denied)
			}
		}
	}
	for _, denied := range rules.DenySegments {
		if base == denied {
			return fmt.Sprintf("directory %s is protected", denied)
		}
	}
	lowerBase := strings.ToLower(base)
	for _, pattern := range rules.DenyNames {
		if ok, _ := filepath.Match(strings.ToLower(pattern), lowerBase); ok {
			return fmt.Sprintf("file name matches protected pattern %s", pattern)
		}
	}
	ext := strings.ToLower(filepath.Ext(base))
	for _, denied := range rules.DenyExtensions {
		if ext != "" && ext == strings.ToLower(denied) {
			return fmt.Sprintf("extension %s is excluded", denied)
		}
	}
	return ""
}

func windowsAbsolute(arg string) bool {
	return len(arg) >= 3 && arg[1] == ':' && (arg[2] == '\\' || arg[2] == '/')
}

// DefaultRules returns the embedded sandbox policy.
func DefaultRules() (Rules, error) {
	var file RulesFile
	if err := yaml.Unmarshal(assets.DefaultSandboxYAML, &file); err != nil {
		return Rules{}, fmt.Errorf("parse embedded sandbox rules: %w", err)
	}
	return file.Rules, nil
}

func loadRules(path string) (Rules, error) {
	defaults, err := DefaultRules()
	if err != nil {
		return Rules{}, err
	}
	data, err := os.ReadFile(expandPath(path))
	if err != nil {
		// fall back to defaults
		return defaults, nil
	}
	var file RulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Rules{}, fmt.Errorf("parse sandbox rules: %w", err)
	}
	return mergeRules(file.Rules, defaults), nil
}

func mergeRules(custom, defaults Rules) Rules {
	if len(custom.DangerPatterns) == 0 {
		custom.DangerPatterns = defaults.DangerPatterns
	}
	if len(custom.Commands.Allow) == 0 {
		custom.Commands.Allow = defaults.Commands.Allow
	}
	if len(custom.Commands.Deny) == 0 {
		custom.Commands.Deny = defaults.Commands.Deny
	}
	if custom.Commands.Subcommands == nil {
		custom.Commands.Subcommands = defaults.Commands.Subcommands
	}
	if custom.Commands.DeniedFlags == nil {
		custom.Commands.DeniedFlags = defaults.Commands.DeniedFlags
	}
	if len(custom.Arguments.SensitiveNames) == 0 {
		custom.Arguments = defaults.Arguments
	}
	if isEmptyPathRules(custom.WritePaths) {
		custom.WritePaths = defaults.WritePaths
	}
	if isEmptyPathRules(custom.ContextPaths) {
		custom.ContextPaths = defaults.ContextPaths
	}
	if custom.Packages.NamePattern == "" {
		custom.Packages = defaults.Packages
	}
	return custom
}

func isEmptyPathRules(rules PathRules) bool {
	return len(rules.DenySegments) == 0 && len(rules.DenyNames) == 0 && len(rules.DenyExtensions) == 0
}

func parseRiskLevel(value string) domain.RiskLevel {
	switch strings.ToLower(value) {
	case "low":
		return domain.RiskLow
	case "medium":
		return domain.RiskMedium
	case "high":
		return domain.RiskHigh
	case "critical":
		return domain.RiskCritical
	default:
		return domain.RiskSafe
	}
}

func parseAction(value string) domain.GuardrailAction {
	if strings.EqualFold(value, string(domain.ActionBlock)) {
		return domain.ActionBlock
	}
	return domain.ActionAllow
}

func moreSevere(next domain.RiskLevel, current domain.RiskLevel) bool {
	order := map[domain.RiskLevel]int{
		domain.RiskSafe:     0,
		domain.RiskLow:      1,
		domain.RiskMedium:   2,
		domain.RiskHigh:     3,
		domain.RiskCritical: 4,
	}
	return order[next] > order[current]
}

func expandPath(path string) string {
	if path == "" {
		return filepath.Join(filesystem.UserHomeDir(), ".shai-agent", "sandbox.yaml")
	}
	return filesystem.ExpandHome(path)
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, value := range values {
		set[value] = true
	}
	return set
}

var _ ports.SecurityService = (*Guardrail)(nil)
