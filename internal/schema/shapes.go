package schema

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/joescharf/cqi/internal/models"
)

// ResponseShape describes the structured answer the model must produce when
// it stops calling tools.
type ResponseShape struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

// IssueShape is the wire form of one issue in a model reply.
type IssueShape struct {
	Category     string   `json:"category" jsonschema:"enum=security,enum=performance,enum=duplication,enum=complexity,enum=testing,enum=documentation,enum=style,enum=maintainability"`
	Severity     string   `json:"severity" jsonschema:"enum=critical,enum=high,enum=medium,enum=low,enum=info"`
	Title        string   `json:"title" jsonschema_description:"Brief descriptive title of the issue."`
	Description  string   `json:"description" jsonschema_description:"Detailed explanation of the issue."`
	FilePath     string   `json:"file_path" jsonschema_description:"Path to the file containing the issue."`
	LineNumber   *int     `json:"line_number,omitempty"`
	ColumnNumber *int     `json:"column_number,omitempty"`
	Suggestion   string   `json:"suggestion,omitempty" jsonschema_description:"Specific recommendation to fix the issue."`
	CodeSnippet  string   `json:"code_snippet,omitempty"`
	Impact       string   `json:"impact,omitempty"`
	References   []string `json:"references,omitempty"`
}

// DefaultIssueTitle names an issue the model left untitled.
const DefaultIssueTitle = "AI-detected issue"

// normalize coerces the enums to known values and trims the text fields. It
// reports false for an entry with neither title nor description. An empty
// file_path is left for the caller to fill in.
func (s *IssueShape) normalize() bool {
	s.Title = strings.TrimSpace(s.Title)
	s.Description = strings.TrimSpace(s.Description)
	if s.Title == "" && s.Description == "" {
		return false
	}
	if s.Title == "" {
		s.Title = DefaultIssueTitle
	}
	s.Category = string(models.ParseCategory(s.Category))
	s.Severity = string(models.ParseSeverity(s.Severity))
	s.FilePath = strings.TrimSpace(s.FilePath)
	return true
}

// Finding converts the wire issue into a typed reviewer finding.
func (s IssueShape) Finding() models.Finding {
	f := models.Finding{
		Category:    models.ParseCategory(s.Category),
		Severity:    models.ParseSeverity(s.Severity),
		Title:       strings.TrimSpace(s.Title),
		Description: strings.TrimSpace(s.Description),
		FilePath:    strings.TrimSpace(s.FilePath),
		Suggestion:  s.Suggestion,
		Snippet:     s.CodeSnippet,
		Impact:      s.Impact,
		References:  s.References,
	}
	if s.LineNumber != nil {
		f.Line = *s.LineNumber
	}
	if s.ColumnNumber != nil {
		f.Column = *s.ColumnNumber
	}
	return f
}

// AnalysisResponse is the final answer shape of analysis mode and of the
// single-file reviewer. Issues are decoded one at a time: an entry that is
// not a usable issue is dropped and counted instead of failing the reply.
type AnalysisResponse struct {
	Issues  []IssueShape   `json:"issues" jsonschema_description:"List of code quality issues found. Use an empty list when there are none."`
	Summary map[string]any `json:"summary,omitempty"`
	Dropped int            `json:"-"`
}

func (AnalysisResponse) RequiredFields() []string { return []string{"issues"} }

func (AnalysisResponse) ListField() string { return "issues" }

// UnmarshalJSON decodes each issue independently so one malformed entry does
// not discard the others.
func (r *AnalysisResponse) UnmarshalJSON(data []byte) error {
	var wire struct {
		Issues  []json.RawMessage `json:"issues"`
		Summary json.RawMessage   `json:"summary"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	r.Summary = nil
	if len(wire.Summary) > 0 {
		var summary map[string]any
		if json.Unmarshal(wire.Summary, &summary) == nil {
			r.Summary = summary
		}
	}

	r.Dropped = 0
	if wire.Issues == nil {
		r.Issues = nil
		return nil
	}
	r.Issues = make([]IssueShape, 0, len(wire.Issues))
	for _, raw := range wire.Issues {
		var issue IssueShape
		if err := json.Unmarshal(raw, &issue); err != nil {
			r.Dropped++
			continue
		}
		r.Issues = append(r.Issues, issue)
	}
	return nil
}

// Validate requires the issues list and normalizes every entry, dropping
// the ones with no content.
func (r *AnalysisResponse) Validate() error {
	if r.Issues == nil {
		return errors.New("issues is required")
	}
	kept := r.Issues[:0]
	for _, issue := range r.Issues {
		if !issue.normalize() {
			r.Dropped++
			continue
		}
		kept = append(kept, issue)
	}
	r.Issues = kept
	return nil
}

// Fallback leaves the response with an empty issue list.
func (r *AnalysisResponse) Fallback() {
	r.Issues = []IssueShape{}
	r.Summary = nil
	r.Dropped = 0
}

// Findings converts every wire issue.
func (r AnalysisResponse) Findings() []models.Finding {
	out := make([]models.Finding, 0, len(r.Issues))
	for _, issue := range r.Issues {
		out = append(out, issue.Finding())
	}
	return out
}

// ChatResponse is the final answer shape of chat mode.
type ChatResponse struct {
	Answer           string   `json:"answer" jsonschema_description:"The answer to the user's question. May be partial while analysis is ongoing."`
	FilesToAnalyze   []string `json:"files_to_analyze,omitempty" jsonschema_description:"Files that still need to be examined before the answer is complete."`
	AnalysisComplete bool     `json:"analysis_complete" jsonschema_description:"True when the answer is final and no more files need to be examined."`
}

func (ChatResponse) RequiredFields() []string { return []string{"answer", "analysis_complete"} }

func (ChatResponse) ListField() string { return "" }

func (ChatResponse) Validate() error { return nil }

// Fallback yields an empty, incomplete answer.
func (r *ChatResponse) Fallback() {
	r.Answer = ""
	r.FilesToAnalyze = []string{}
	r.AnalysisComplete = false
}

// AnalysisShape is the response shape advertised in analysis mode.
func AnalysisShape() ResponseShape {
	return ResponseShape{
		Name:        "AnalysisResponseSchema",
		Description: "Provide 'issues' (list, required). Each issue has category, severity, title, description, file_path and optionally line_number, suggestion and code_snippet.",
		Schema:      Reflect(&AnalysisResponse{}),
	}
}

// ChatShape is the response shape advertised in chat mode.
func ChatShape() ResponseShape {
	return ResponseShape{
		Name:        "ChatResponseSchema",
		Description: "Provide 'answer' (string), 'files_to_analyze' (list) and 'analysis_complete' (boolean).",
		Schema:      Reflect(&ChatResponse{}),
	}
}
