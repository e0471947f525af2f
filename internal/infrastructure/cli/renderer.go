package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/doeshing/shai-agent/internal/domain"
)

// RenderResponse prints the reply, followed by routing details when verbose.
func RenderResponse(out io.Writer, resp domain.ProcessResponse, verbose bool) {
	fmt.Fprintln(out, resp.Response)
	if resp.ToolExecuted != nil && !resp.ToolExecuted.Success {
		fmt.Fprintf(out, "(%s failed)\n", resp.ToolExecuted.Tool)
	}
	if !verbose {
		return
	}
	fmt.Fprintf(out, "\npolicy: %s  model: %s  request: %s\n", resp.Policy, resp.Model, resp.RequestID)
	if resp.ToolExecuted != nil {
		fmt.Fprintf(out, "tool: %s  success: %t  duration: %dms\n",
			resp.ToolExecuted.Tool, resp.ToolExecuted.Success, resp.ToolExecuted.DurationMS)
	}
}

// renderAuditEntry prints one audit log line.
func renderAuditEntry(out io.Writer, entry domain.AuditEntry) {
	status := "ok"
	if !entry.Success {
		status = "failed"
	}
	fmt.Fprintf(out, "%s  %-6s %-14s %s (%dms)\n",
		entry.CompletedAt.Local().Format("2006-01-02 15:04:05"), status, entry.Tool, entry.Summary, entry.DurationMS)
	if entry.Error != "" {
		fmt.Fprintf(out, "    error: %s\n", entry.Error)
	}
}

func renderHealthReport(out io.Writer, report domain.HealthReport) {
	for _, check := range report.Checks {
		fmt.Fprintf(out, "[%s] %s - %s\n", strings.ToUpper(string(check.Status)), check.Name, check.Details)
	}
}
