// Package ui prints styled status output to stderr, keeping stdout free
// for machine-readable results.
package ui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	pathStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

func emit(style lipgloss.Style, format string, a ...interface{}) {
	fmt.Fprintln(os.Stderr, style.Render(fmt.Sprintf(format, a...)))
}

func Header(format string, a ...interface{})  { emit(headerStyle, format, a...) }
func Info(format string, a ...interface{})    { emit(infoStyle, format, a...) }
func Success(format string, a ...interface{}) { emit(successStyle, format, a...) }
func Warning(format string, a ...interface{}) { emit(warningStyle, format, a...) }
func Error(format string, a ...interface{})   { emit(errorStyle, format, a...) }

func Path(format string, a ...interface{}) {
	emit(pathStyle, "  "+format, a...)
}

// PrintApplySummary reports the outcome of a patch transaction.
func PrintApplySummary(applied, created, conflicted []string) {
	Header("\n--- Apply Summary ---")

	if len(applied) == 0 && len(created) == 0 && len(conflicted) == 0 {
		Info("No files were updated.")
		return
	}

	if len(applied) > 0 {
		Success("Applied diff to %d file(s):", len(applied))
		for _, f := range applied {
			Path("- %s", f)
		}
	}
	if len(created) > 0 {
		Success("Created %d new file(s):", len(created))
		for _, f := range created {
			Path("- %s", f)
		}
	}
	if len(conflicted) > 0 {
		Warning("Conflict markers left in %d file(s), resolve manually:", len(conflicted))
		for _, f := range conflicted {
			Path("- %s", f)
		}
	}
}

// PrintRevertSummary reports the outcome of a revert.
func PrintRevertSummary(reverted []string) {
	Header("\n--- Revert Summary ---")
	if len(reverted) == 0 {
		Info("No files were reverted.")
		return
	}
	Success("Reverted %d file(s):", len(reverted))
	for _, f := range reverted {
		Path("- %s", f)
	}
}
