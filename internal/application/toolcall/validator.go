package toolcall

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/doeshing/shai-agent/internal/domain"
)

type writeFileParams struct {
	FilePath string `json:"filePath" validate:"notblank,notplaceholder"`
	Content  string `json:"content" validate:"required"`
}

type installPackageParams struct {
	PackageName string `json:"packageName" validate:"notblank"`
}

type executeCommandParams struct {
	Command string   `json:"command" validate:"notblank"`
	Args    []string `json:"args" validate:"omitempty,dive,notblank"`
}

// Accepted spellings per canonical parameter name.
var parameterAliases = map[string][]string{
	"filePath":    {"filePath", "file_path", "path", "filename"},
	"content":     {"content", "contents", "text"},
	"packageName": {"packageName", "package_name", "package", "name"},
	"command":     {"command", "cmd", "program"},
	"args":        {"args", "arguments", "argv"},
}

var placeholderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^<[^>]*>$`),
	regexp.MustCompile(`^\{\{.*\}\}$`),
	regexp.MustCompile(`^\[[^\]]*\]$`),
	regexp.MustCompile(`^\$\{?[A-Za-z_]+\}?$`),
	regexp.MustCompile(`(?i)(?:^|/)path/to/`),
	regexp.MustCompile(`(?i)^(?:file_?path|file_?name|your[_-]?file(?:[._-]\w+)?|placeholder|example[_-]?path|filename\.ext|\.\.\.)$`),
}

// Validator converts raw tool calls into typed actions.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator with the tool-specific rules registered.
func NewValidator() *Validator {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = validate.RegisterValidation("notplaceholder", func(fl validator.FieldLevel) bool {
		return !IsPlaceholderPath(fl.Field().String())
	})
	return &Validator{validate: validate}
}

// Validate checks the allow-list first, then the per-tool schema.
func (v *Validator) Validate(call domain.ToolCall) (domain.Action, error) {
	if !call.ToolName.IsKnown() {
		return nil, &domain.ToolValidationError{Tool: call.ToolName, Reason: "is not an allowed tool"}
	}

	switch call.ToolName {
	case domain.ToolWriteFile:
		return v.writeFile(call)
	case domain.ToolInstallPackage:
		return v.installPackage(call)
	case domain.ToolExecuteCommand:
		return v.executeCommand(call)
	}
	return nil, &domain.ToolValidationError{Tool: call.ToolName, Reason: "has no validator"}
}

func (v *Validator) writeFile(call domain.ToolCall) (domain.Action, error) {
	var params writeFileParams
	var err error
	if params.FilePath, err = stringParam(call, "filePath"); err != nil {
		return nil, err
	}
	if params.Content, err = stringParam(call, "content"); err != nil {
		return nil, err
	}
	if err := v.check(call.ToolName, params); err != nil {
		return nil, err
	}
	return domain.WriteFileAction{Path: strings.TrimSpace(params.FilePath), Content: params.Content}, nil
}

func (v *Validator) installPackage(call domain.ToolCall) (domain.Action, error) {
	var params installPackageParams
	var err error
	if params.PackageName, err = stringParam(call, "packageName"); err != nil {
		return nil, err
	}
	if err := v.check(call.ToolName, params); err != nil {
		return nil, err
	}
	return domain.InstallPackageAction{Name: strings.TrimSpace(params.PackageName)}, nil
}

func (v *Validator) executeCommand(call domain.ToolCall) (domain.Action, error) {
	var params executeCommandParams
	var err error
	if params.Command, err = stringParam(call, "command"); err != nil {
		return nil, err
	}
	if params.Args, err = stringSliceParam(call, "args"); err != nil {
		return nil, err
	}
	if err := v.check(call.ToolName, params); err != nil {
		return nil, err
	}

	command := strings.TrimSpace(params.Command)
	args := params.Args
	// "ls -la" with no args array is split on whitespace only; quoting is
	// never interpreted, so quoted tokens fail the executor's argument checks.
	if fields := strings.Fields(command); len(fields) > 1 && len(args) == 0 {
		command, args = fields[0], fields[1:]
	}
	return domain.ExecuteCommandAction{Command: command, Args: args}, nil
}

func (v *Validator) check(tool domain.ToolName, params any) error {
	err := v.validate.Struct(params)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		first := fieldErrs[0]
		return &domain.ToolValidationError{Tool: tool, Field: first.Field(), Reason: reasonFor(first.Tag())}
	}
	return &domain.ToolValidationError{Tool: tool, Reason: err.Error()}
}

func reasonFor(tag string) string {
	switch tag {
	case "required":
		return "is required"
	case "notblank":
		return "must not be blank"
	case "notplaceholder":
		return "looks like a placeholder, not a real path"
	default:
		return fmt.Sprintf("failed %s", tag)
	}
}

func lookup(call domain.ToolCall, canonical string) (any, bool) {
	for _, alias := range parameterAliases[canonical] {
		if value, ok := call.Parameters[alias]; ok {
			return value, true
		}
	}
	return nil, false
}

// stringParam returns "" for a missing value so the struct rules report it.
func stringParam(call domain.ToolCall, canonical string) (string, error) {
	raw, ok := lookup(call, canonical)
	if !ok || raw == nil {
		return "", nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", &domain.ToolValidationError{Tool: call.ToolName, Field: canonical, Reason: "must be a string"}
	}
	return value, nil
}

func stringSliceParam(call domain.ToolCall, canonical string) ([]string, error) {
	raw, ok := lookup(call, canonical)
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		if typed, ok := raw.([]string); ok {
			return append([]string(nil), typed...), nil
		}
		return nil, &domain.ToolValidationError{Tool: call.ToolName, Field: canonical, Reason: "must be an array of strings"}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		value, ok := item.(string)
		if !ok {
			return nil, &domain.ToolValidationError{Tool: call.ToolName, Field: canonical, Reason: "must be an array of strings"}
		}
		out = append(out, value)
	}
	return out, nil
}

// IsPlaceholderPath reports template-looking paths such as "<path>" or
// "path/to/file.js" that a model emits when it did not know the real name.
func IsPlaceholderPath(path string) bool {
	trimmed := strings.TrimSpace(path)
	for _, pattern := range placeholderPatterns {
		if pattern.MatchString(trimmed) {
			return true
		}
	}
	return false
}
