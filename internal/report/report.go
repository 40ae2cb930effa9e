// Package report summarizes, scores and orders the issues of an analysis run.
package report

import (
	"sort"
	"time"

	"github.com/joescharf/cqi/internal/models"
)

// Severity weights used by the quality score.
const (
	weightCritical = 10
	weightHigh     = 5
	weightMedium   = 2
	weightLow      = 1
)

// Summary is the aggregate view of an analysis outcome.
type Summary struct {
	TotalIssues   int                          `json:"total_issues" yaml:"total_issues"`
	BySeverity    map[models.IssueSeverity]int `json:"by_severity" yaml:"by_severity"`
	ByCategory    map[models.IssueCategory]int `json:"by_category" yaml:"by_category"`
	FilesAffected int                          `json:"files_affected" yaml:"files_affected"`
	FilesAnalyzed int                          `json:"files_analyzed" yaml:"files_analyzed"`
	QualityScore  float64                      `json:"quality_score" yaml:"quality_score"`
}

// Report is a complete analysis result ready for rendering.
type Report struct {
	Repository  string         `json:"repository" yaml:"repository"`
	Branch      string         `json:"branch,omitempty" yaml:"branch,omitempty"`
	Commit      string         `json:"commit,omitempty" yaml:"commit,omitempty"`
	RunID       string         `json:"run_id" yaml:"run_id"`
	GeneratedAt time.Time      `json:"generated_at" yaml:"generated_at"`
	Iterations  int            `json:"iterations" yaml:"iterations"`
	Analyzed    []string       `json:"analyzed_files" yaml:"analyzed_files"`
	Summary     Summary        `json:"summary" yaml:"summary"`
	Issues      []models.Issue `json:"issues" yaml:"issues"`
}

// Summarize counts issues by severity, category and file. filesAnalyzed is
// recorded as given.
func Summarize(issues []models.Issue, filesAnalyzed int) Summary {
	s := Summary{
		TotalIssues:   len(issues),
		BySeverity:    make(map[models.IssueSeverity]int),
		ByCategory:    make(map[models.IssueCategory]int),
		FilesAnalyzed: filesAnalyzed,
		QualityScore:  QualityScore(issues),
	}
	files := make(map[string]bool)
	for _, is := range issues {
		s.BySeverity[is.Severity]++
		s.ByCategory[is.Category]++
		files[is.FilePath] = true
	}
	s.FilesAffected = len(files)
	return s
}

// QualityScore maps issues onto 0-100, higher is better. It depends only on
// the severity mix: all critical scores 0, no issues scores 100.
func QualityScore(issues []models.Issue) float64 {
	if len(issues) == 0 {
		return 100
	}
	weighted := 0
	for _, is := range issues {
		weighted += severityWeight(is.Severity)
	}
	max := len(issues) * weightCritical
	score := 100 - float64(weighted)/float64(max)*100
	if score < 0 {
		return 0
	}
	return score
}

func severityWeight(s models.IssueSeverity) int {
	switch s {
	case models.SeverityCritical:
		return weightCritical
	case models.SeverityHigh:
		return weightHigh
	case models.SeverityMedium:
		return weightMedium
	default:
		return weightLow
	}
}

// Prioritize returns a copy of issues ordered by severity, category priority,
// file and line.
func Prioritize(issues []models.Issue) []models.Issue {
	out := append([]models.Issue(nil), issues...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
			return ra < rb
		}
		if ca, cb := categoryRank(a.Category), categoryRank(b.Category); ca != cb {
			return ca < cb
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		return a.LineNumber() < b.LineNumber()
	})
	return out
}

func categoryRank(c models.IssueCategory) int {
	for i, known := range models.Categories {
		if c == known {
			return i
		}
	}
	return len(models.Categories)
}

// Grade converts a quality score into a letter grade.
func Grade(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}
