// Package output renders cqi results for the terminal and for files.
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/joescharf/cqi/internal/models"
)

// UI writes status lines, tables and reports. Warnings, errors and dry-run
// notices go to ErrOut so stdout stays parseable.
type UI struct {
	Verbose bool
	DryRun  bool
	Out     io.Writer
	ErrOut  io.Writer
}

// New creates a UI on stdout/stderr.
func New() *UI {
	return &UI{Out: os.Stdout, ErrOut: os.Stderr}
}

// fieldWidth aligns the labels of Field lines.
const fieldWidth = 16

type level struct {
	prefix string
	stderr bool
}

var (
	levelInfo    = level{prefix: color.New(color.FgHiBlue).Sprint("i")}
	levelSuccess = level{prefix: color.New(color.FgHiGreen).Sprint("✓")}
	levelWarning = level{prefix: color.New(color.FgHiYellow).Sprint("⚠"), stderr: true}
	levelError   = level{prefix: color.New(color.FgHiRed).Sprint("✗"), stderr: true}
	levelVerbose = level{prefix: color.New(color.FgHiBlue).Sprint("  →")}

	highlight = color.New(color.FgHiCyan).SprintFunc()

	severityColors = map[models.IssueSeverity]*color.Color{
		models.SeverityCritical: color.New(color.FgHiRed, color.Bold),
		models.SeverityHigh:     color.New(color.FgHiRed),
		models.SeverityMedium:   color.New(color.FgHiYellow),
		models.SeverityLow:      color.New(color.FgHiCyan),
		models.SeverityInfo:     color.New(color.FgHiGreen),
	}
)

func (u *UI) emit(l level, format string, a ...any) {
	w := u.Out
	if l.stderr {
		w = u.ErrOut
	}
	fmt.Fprintf(w, "%s %s\n", l.prefix, fmt.Sprintf(format, a...))
}

func (u *UI) Info(format string, a ...any)    { u.emit(levelInfo, format, a...) }
func (u *UI) Success(format string, a ...any) { u.emit(levelSuccess, format, a...) }
func (u *UI) Warning(format string, a ...any) { u.emit(levelWarning, format, a...) }
func (u *UI) Error(format string, a ...any)   { u.emit(levelError, format, a...) }

func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		u.emit(levelVerbose, format, a...)
	}
}

func (u *UI) DryRunMsg(format string, a ...any) {
	if u.DryRun {
		u.emit(levelWarning, "[DRY-RUN] "+format, a...)
	}
}

// Field prints one aligned "label: value" line of a report header.
func (u *UI) Field(label, format string, a ...any) {
	fmt.Fprintf(u.Out, "%-*s%s\n", fieldWidth, label+":", fmt.Sprintf(format, a...))
}

// Highlight marks identifiers such as paths and session ids.
func Highlight(s string) string { return highlight(s) }

// SeverityColor colors a severity name by urgency. Unknown names are
// returned unchanged.
func SeverityColor(severity string) string {
	c, ok := severityColors[models.IssueSeverity(severity)]
	if !ok {
		return severity
	}
	return c.Sprint(severity)
}

// ScoreColor formats a 0-100 quality score colored by band.
func ScoreColor(score float64) string {
	s := fmt.Sprintf("%.1f", score)
	switch {
	case score >= 80:
		return severityColors[models.SeverityInfo].Sprint(s)
	case score >= 50:
		return severityColors[models.SeverityMedium].Sprint(s)
	default:
		return severityColors[models.SeverityHigh].Sprint(s)
	}
}

// Table creates a borderless, left-aligned table.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}
