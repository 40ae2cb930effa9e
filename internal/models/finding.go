package models

// Finding is what a single-file reviewer reports for one problem. The
// coordinator turns findings into Issues by stamping provenance.
type Finding struct {
	Category    IssueCategory
	Severity    IssueSeverity
	Title       string
	Description string
	FilePath    string
	Line        int
	Column      int
	Suggestion  string
	Snippet     string
	Impact      string
	References  []string
}
