package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/ports"
)

// previewRunes bounds how much of a parameter value is shown.
const previewRunes = 200

// confirmedByCLI is recorded as the approver of terminal decisions.
const confirmedByCLI = "cli"

// Prompter implements ports.Confirmer on a terminal.
type Prompter struct {
	lines   *LineReader
	out     io.Writer
	spinner *Spinner
}

// NewPrompter constructs a prompter. The spinner, if any, is stopped
// before the question is printed.
func NewPrompter(lines *LineReader, out io.Writer, spinner *Spinner) *Prompter {
	return &Prompter{lines: lines, out: out, spinner: spinner}
}

// RequestConfirmation shows the proposed action and waits for y/N. Only
// an explicit yes confirms.
func (p *Prompter) RequestConfirmation(ctx context.Context, conf domain.ActionConfirmation) (domain.ConfirmationDecision, error) {
	if p.spinner != nil {
		p.spinner.Stop()
	}

	call := conf.ToolCall
	fmt.Fprintf(p.out, "\nThe assistant wants to run %s\n", call.ToolName)
	keys := make([]string, 0, len(call.Parameters))
	for key := range call.Parameters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(p.out, "  %s: %s\n", key, preview(call.Parameters[key]))
	}

	fmt.Fprint(p.out, "Continue? [y/N]: ")
	line, err := p.lines.Next(ctx)
	if err != nil {
		fmt.Fprintln(p.out)
		return domain.ConfirmationDecision{}, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return domain.ConfirmationDecision{
		Confirmed:   answer == "y" || answer == "yes",
		ConfirmedBy: confirmedByCLI,
	}, nil
}

func preview(value any) string {
	text := fmt.Sprint(value)
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	runes := []rune(text)
	return fmt.Sprintf("%s... (%d characters)", string(runes[:previewRunes]), len(runes))
}

var _ ports.Confirmer = (*Prompter)(nil)
