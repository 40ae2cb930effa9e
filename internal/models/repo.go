package models

// RepoContext is the repository information handed to reviewers alongside
// each file.
type RepoContext struct {
	Root        string   `json:"root"`
	Name        string   `json:"name,omitempty"`
	ProjectType string   `json:"project_type,omitempty"`
	Languages   []string `json:"languages,omitempty"`
	TotalFiles  int      `json:"total_files"`
}

// SearchHit is one code-search result.
type SearchHit struct {
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Snippet   string  `json:"snippet"`
	Score     float64 `json:"score"`
}
