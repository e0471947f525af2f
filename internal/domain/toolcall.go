package domain

import (
	"fmt"
	"strings"
)

// ToolName identifies one of the side-effecting tools the model may request.
type ToolName string

const (
	ToolWriteFile      ToolName = "writeFile"
	ToolInstallPackage ToolName = "installPackage"
	ToolExecuteCommand ToolName = "executeCommand"
)

// KnownTools is the closed allow-list of tool names.
var KnownTools = []ToolName{ToolWriteFile, ToolInstallPackage, ToolExecuteCommand}

// IsKnown reports whether the name is on the allow-list.
func (n ToolName) IsKnown() bool {
	for _, known := range KnownTools {
		if n == known {
			return true
		}
	}
	return false
}

// ToolCall is the raw structured action emitted by the model.
type ToolCall struct {
	ToolName       ToolName       `json:"tool_name"`
	Parameters     map[string]any `json:"parameters"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// Action is a validated tool call. The set of implementations is closed:
// every consumer handles the kinds through ActionVisitor, so adding a kind
// means extending the visitor and every implementation of it.
type Action interface {
	Tool() ToolName
	Accept(ActionVisitor) error
}

// ActionVisitor dispatches on the concrete action kind.
type ActionVisitor interface {
	VisitWriteFile(WriteFileAction) error
	VisitInstallPackage(InstallPackageAction) error
	VisitExecuteCommand(ExecuteCommandAction) error
}

// WriteFileAction writes Content to Path, relative to the project root.
type WriteFileAction struct {
	Path    string
	Content string
}

func (WriteFileAction) Tool() ToolName { return ToolWriteFile }

func (a WriteFileAction) Accept(v ActionVisitor) error { return v.VisitWriteFile(a) }

// InstallPackageAction installs a single package with the configured manager.
type InstallPackageAction struct {
	Name string
}

func (InstallPackageAction) Tool() ToolName { return ToolInstallPackage }

func (a InstallPackageAction) Accept(v ActionVisitor) error { return v.VisitInstallPackage(a) }

// ExecuteCommandAction runs an allow-listed program with arguments, without a shell.
type ExecuteCommandAction struct {
	Command string
	Args    []string
}

func (ExecuteCommandAction) Tool() ToolName { return ToolExecuteCommand }

func (a ExecuteCommandAction) Accept(v ActionVisitor) error { return v.VisitExecuteCommand(a) }

// DescribeAction renders a short, log-safe summary of an action. File
// contents are reduced to their size.
func DescribeAction(action Action) string {
	var d describer
	_ = action.Accept(&d)
	return d.text
}

type describer struct{ text string }

func (d *describer) VisitWriteFile(a WriteFileAction) error {
	d.text = fmt.Sprintf("writeFile %s (%d bytes)", a.Path, len(a.Content))
	return nil
}

func (d *describer) VisitInstallPackage(a InstallPackageAction) error {
	d.text = "installPackage " + a.Name
	return nil
}

func (d *describer) VisitExecuteCommand(a ExecuteCommandAction) error {
	d.text = strings.TrimSpace("executeCommand " + a.Command + " " + strings.Join(a.Args, " "))
	return nil
}
