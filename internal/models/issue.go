package models

import (
	"strconv"
	"strings"
	"time"
)

// IssueCategory classifies what kind of problem an issue describes.
type IssueCategory string

const (
	CategorySecurity        IssueCategory = "security"
	CategoryPerformance     IssueCategory = "performance"
	CategoryDuplication     IssueCategory = "duplication"
	CategoryComplexity      IssueCategory = "complexity"
	CategoryTesting         IssueCategory = "testing"
	CategoryDocumentation   IssueCategory = "documentation"
	CategoryStyle           IssueCategory = "style"
	CategoryMaintainability IssueCategory = "maintainability"
)

// Categories lists every valid category in reporting priority order.
var Categories = []IssueCategory{
	CategorySecurity,
	CategoryPerformance,
	CategoryComplexity,
	CategoryDuplication,
	CategoryTesting,
	CategoryMaintainability,
	CategoryDocumentation,
	CategoryStyle,
}

// Valid reports whether c is one of the known categories.
func (c IssueCategory) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory matches s case-insensitively; unknown values map to maintainability.
func ParseCategory(s string) IssueCategory {
	c := IssueCategory(strings.ToLower(strings.TrimSpace(s)))
	if c.Valid() {
		return c
	}
	return CategoryMaintainability
}

// IssueSeverity represents how urgent an issue is.
type IssueSeverity string

const (
	SeverityCritical IssueSeverity = "critical"
	SeverityHigh     IssueSeverity = "high"
	SeverityMedium   IssueSeverity = "medium"
	SeverityLow      IssueSeverity = "low"
	SeverityInfo     IssueSeverity = "info"
)

// Severities lists every valid severity, most severe first.
var Severities = []IssueSeverity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
	SeverityInfo,
}

// Valid reports whether s is one of the known severities.
func (s IssueSeverity) Valid() bool {
	for _, known := range Severities {
		if s == known {
			return true
		}
	}
	return false
}

// Rank returns a sort key where lower means more severe.
func (s IssueSeverity) Rank() int {
	for i, known := range Severities {
		if s == known {
			return i
		}
	}
	return len(Severities)
}

// ParseSeverity matches s case-insensitively; unknown values map to medium.
func ParseSeverity(s string) IssueSeverity {
	sev := IssueSeverity(strings.ToLower(strings.TrimSpace(s)))
	if sev.Valid() {
		return sev
	}
	return SeverityMedium
}

// Metadata keys recorded on every issue.
const (
	MetaStage      = "stage"
	MetaIteration  = "iteration"
	MetaDetectedAt = "detected_at"
	MetaFocus      = "focus"
	MetaImpact     = "impact"
	MetaReferences = "references"
)

// Issue is a single code-quality problem found during an orchestration run.
// Issues are append-only once created.
type Issue struct {
	Category    IssueCategory  `json:"category" yaml:"category"`
	Severity    IssueSeverity  `json:"severity" yaml:"severity"`
	Title       string         `json:"title" yaml:"title"`
	Description string         `json:"description" yaml:"description"`
	FilePath    string         `json:"file_path" yaml:"file_path"`
	Line        *int           `json:"line_number,omitempty" yaml:"line_number,omitempty"`
	Column      *int           `json:"column_number,omitempty" yaml:"column_number,omitempty"`
	Suggestion  string         `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	Snippet     string         `json:"code_snippet,omitempty" yaml:"code_snippet,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// LineNumber returns the line or 0 when unknown.
func (i Issue) LineNumber() int {
	if i.Line == nil {
		return 0
	}
	return *i.Line
}

// Stage returns the component that produced the issue.
func (i Issue) Stage() string {
	s, _ := i.Metadata[MetaStage].(string)
	return s
}

// Iteration returns the orchestration iteration that produced the issue.
func (i Issue) Iteration() int {
	switch v := i.Metadata[MetaIteration].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// Fingerprint identifies an issue by location and wording. Two reports of the
// same problem in the same place share a fingerprint.
func (i Issue) Fingerprint() string {
	var b strings.Builder
	b.WriteString(i.FilePath)
	b.WriteByte('|')
	if i.Line != nil {
		b.WriteString(strconv.Itoa(*i.Line))
	}
	b.WriteByte('|')
	b.WriteString(string(i.Category))
	b.WriteByte('|')
	b.WriteString(strings.ToLower(strings.TrimSpace(i.Title)))
	return b.String()
}

// Provenance builds the metadata map every issue carries.
func Provenance(stage string, iteration int, at time.Time) map[string]any {
	return map[string]any{
		MetaStage:      stage,
		MetaIteration:  iteration,
		MetaDetectedAt: at.UTC().Format(time.RFC3339),
	}
}

// IntPtr returns a pointer to n, or nil when n is not a positive line/column.
func IntPtr(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}
