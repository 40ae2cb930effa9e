package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joescharf/cqi/internal/models"
	"github.com/joescharf/cqi/internal/report"
)

// Format is a report rendering.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// ParseFormat accepts a format name or common alias.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "table":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown format %q (want text, json, yaml or markdown)", s)
}

// WriteReport renders rep to w in format. Text output goes through a plain UI
// so it can be written to files.
func WriteReport(w io.Writer, rep *report.Report, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(rep))
		return err
	default:
		u := &UI{Out: w, ErrOut: w}
		return u.Report(rep)
	}
}

// Report prints the summary block followed by the issues table.
func (u *UI) Report(rep *report.Report) error {
	s := rep.Summary
	u.Field("Repository", "%s", rep.Repository)
	if rep.Branch != "" {
		u.Field("Branch", "%s", rep.Branch)
	}
	u.Field("Files analyzed", "%d", s.FilesAnalyzed)
	u.Field("Iterations", "%d", rep.Iterations)
	u.Field("Issues", "%d in %d files", s.TotalIssues, s.FilesAffected)
	u.Field("Quality score", "%s (%s)", ScoreColor(s.QualityScore), report.Grade(s.QualityScore))

	if s.TotalIssues == 0 {
		fmt.Fprintln(u.Out)
		u.Success("No issues found")
		return nil
	}

	var parts []string
	for _, sev := range models.Severities {
		if n := s.BySeverity[sev]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", SeverityColor(string(sev)), n))
		}
	}
	u.Field("By severity", "%s", strings.Join(parts, ", "))
	fmt.Fprintln(u.Out)
	return u.IssuesTable(rep.Issues)
}

// IssuesTable prints one row per issue.
func (u *UI) IssuesTable(issues []models.Issue) error {
	table := u.Table([]string{"SEVERITY", "CATEGORY", "LOCATION", "TITLE"})
	for _, is := range issues {
		table.Append([]string{
			SeverityColor(string(is.Severity)),
			string(is.Category),
			location(is),
			is.Title,
		})
	}
	return table.Render()
}

func location(is models.Issue) string {
	if n := is.LineNumber(); n > 0 {
		return fmt.Sprintf("%s:%d", is.FilePath, n)
	}
	return is.FilePath
}

// Markdown renders rep as a Markdown document.
func Markdown(rep *report.Report) string {
	s := rep.Summary
	var sb strings.Builder
	sb.WriteString("# Code Quality Report\n\n")
	fmt.Fprintf(&sb, "- **Repository:** %s\n", rep.Repository)
	if rep.Branch != "" {
		fmt.Fprintf(&sb, "- **Branch:** %s\n", rep.Branch)
	}
	if rep.Commit != "" {
		fmt.Fprintf(&sb, "- **Commit:** %s\n", rep.Commit)
	}
	fmt.Fprintf(&sb, "- **Generated:** %s\n", rep.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "- **Files analyzed:** %d\n", s.FilesAnalyzed)
	fmt.Fprintf(&sb, "- **Quality score:** %.1f (%s)\n\n", s.QualityScore, report.Grade(s.QualityScore))

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Severity | Count |\n|---|---|\n")
	for _, sev := range models.Severities {
		if n := s.BySeverity[sev]; n > 0 {
			fmt.Fprintf(&sb, "| %s | %d |\n", sev, n)
		}
	}
	sb.WriteString("\n| Category | Count |\n|---|---|\n")
	for _, cat := range models.Categories {
		if n := s.ByCategory[cat]; n > 0 {
			fmt.Fprintf(&sb, "| %s | %d |\n", cat, n)
		}
	}

	sb.WriteString("\n## Issues\n")
	if len(rep.Issues) == 0 {
		sb.WriteString("\nNo issues found.\n")
		return sb.String()
	}
	for i, is := range rep.Issues {
		fmt.Fprintf(&sb, "\n### %d. [%s] %s\n\n", i+1, strings.ToUpper(string(is.Severity)), is.Title)
		fmt.Fprintf(&sb, "- **Category:** %s\n", is.Category)
		fmt.Fprintf(&sb, "- **Location:** `%s`\n", location(is))
		if is.Description != "" {
			fmt.Fprintf(&sb, "\n%s\n", is.Description)
		}
		if is.Snippet != "" {
			fmt.Fprintf(&sb, "\n```\n%s\n```\n", strings.TrimRight(is.Snippet, "\n"))
		}
		if is.Suggestion != "" {
			fmt.Fprintf(&sb, "\n**Suggestion:** %s\n", is.Suggestion)
		}
	}
	return sb.String()
}
