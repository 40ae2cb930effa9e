package models

// Mode selects how an orchestration run terminates and what it returns.
type Mode string

const (
	ModeAnalysis Mode = "analysis"
	ModeChat     Mode = "chat"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeAnalysis || m == ModeChat
}

// AnalysisOutcome is the ordered list of issues an analysis run detected.
// Insertion order is detection order; duplicates across files are allowed.
type AnalysisOutcome struct {
	Issues []Issue `json:"issues" yaml:"issues"`
}

// ChatOutcome is the final answer of a chat run.
type ChatOutcome struct {
	Answer    string   `json:"answer" yaml:"answer"`
	Complete  bool     `json:"complete" yaml:"complete"`
	FileHints []string `json:"file_hints,omitempty" yaml:"file_hints,omitempty"`
	SessionID string   `json:"session_id,omitempty" yaml:"session_id,omitempty"`
}
