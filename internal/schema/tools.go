package schema

import (
	"encoding/json"
	"strings"

	"github.com/invopop/jsonschema"
)

// ToolName is the closed set of tools the orchestrator can advertise.
type ToolName string

const (
	ToolAnalyzeFile       ToolName = "AnalyzeFile"
	ToolAnalyzeFilesBatch ToolName = "AnalyzeFilesBatch"
	ToolQueryFile         ToolName = "QueryFile"
	ToolQueryCodebase     ToolName = "QueryCodebase"
)

// ToolNames lists every known tool in catalogue order.
var ToolNames = []ToolName{
	ToolAnalyzeFile,
	ToolAnalyzeFilesBatch,
	ToolQueryFile,
	ToolQueryCodebase,
}

// Known reports whether n is one of the declared tools.
func (n ToolName) Known() bool {
	for _, known := range ToolNames {
		if n == known {
			return true
		}
	}
	return false
}

// DefaultFocus is used when the model does not name an analysis focus.
const DefaultFocus = "general"

// DefaultSearchLimit caps QueryCodebase results when the model gives no limit.
const DefaultSearchLimit = 10

// AnalyzeFileArgs are the arguments of AnalyzeFile.
type AnalyzeFileArgs struct {
	FilePath      string `json:"file_path" jsonschema_description:"The path to the file to analyze, relative to the repository root."`
	AnalysisFocus string `json:"analysis_focus,omitempty" jsonschema_description:"Specific focus area for analysis such as security or performance. Defaults to general."`
}

// ApplyDefaults fills optional arguments.
func (a *AnalyzeFileArgs) ApplyDefaults() {
	a.FilePath = strings.TrimSpace(a.FilePath)
	if strings.TrimSpace(a.AnalysisFocus) == "" {
		a.AnalysisFocus = DefaultFocus
	}
}

// FileRequest is one entry of a batch analysis request.
type FileRequest struct {
	FilePath      string `json:"file_path" jsonschema_description:"Path to the file, relative to the repository root."`
	AnalysisFocus string `json:"analysis_focus,omitempty" jsonschema_description:"Optional focus area for this file."`
}

// AnalyzeFilesBatchArgs are the arguments of AnalyzeFilesBatch. Models send
// either a list of file objects or a flat list of paths with one shared focus;
// both are accepted.
type AnalyzeFilesBatchArgs struct {
	Files         []FileRequest `json:"files,omitempty" jsonschema_description:"Files to analyze in parallel. Each entry has file_path and an optional analysis_focus."`
	FilePaths     []string      `json:"file_paths,omitempty" jsonschema_description:"Alternative flat list of file paths to analyze."`
	AnalysisFocus string        `json:"analysis_focus,omitempty" jsonschema_description:"Focus applied to entries that do not name their own."`
}

// ApplyDefaults is a no-op; defaults are resolved per request in Requests.
func (a *AnalyzeFilesBatchArgs) ApplyDefaults() {}

// Requests flattens both argument styles into one ordered request list.
func (a AnalyzeFilesBatchArgs) Requests() []FileRequest {
	shared := strings.TrimSpace(a.AnalysisFocus)
	if shared == "" {
		shared = DefaultFocus
	}
	out := make([]FileRequest, 0, len(a.Files)+len(a.FilePaths))
	for _, f := range a.Files {
		focus := strings.TrimSpace(f.AnalysisFocus)
		if focus == "" {
			focus = shared
		}
		out = append(out, FileRequest{FilePath: strings.TrimSpace(f.FilePath), AnalysisFocus: focus})
	}
	for _, p := range a.FilePaths {
		out = append(out, FileRequest{FilePath: strings.TrimSpace(p), AnalysisFocus: shared})
	}
	return out
}

// QueryFileArgs are the arguments of QueryFile.
type QueryFileArgs struct {
	FilePath string `json:"file_path" jsonschema_description:"The path to the file to query, relative to the repository root."`
	Question string `json:"question" jsonschema_description:"The question to ask about the file."`
}

// ApplyDefaults trims the arguments.
func (a *QueryFileArgs) ApplyDefaults() {
	a.FilePath = strings.TrimSpace(a.FilePath)
	a.Question = strings.TrimSpace(a.Question)
}

// QueryCodebaseArgs are the arguments of QueryCodebase.
type QueryCodebaseArgs struct {
	Question    string `json:"question" jsonschema_description:"The question or search terms to look up across the indexed codebase."`
	SearchLimit int    `json:"search_limit,omitempty" jsonschema_description:"The maximum number of search results to return. Defaults to 10."`
}

// ApplyDefaults fills optional arguments.
func (a *QueryCodebaseArgs) ApplyDefaults() {
	a.Question = strings.TrimSpace(a.Question)
	if a.SearchLimit <= 0 {
		a.SearchLimit = DefaultSearchLimit
	}
}

// Tool is one entry of the tool catalogue handed to the completion service.
type Tool struct {
	Name        ToolName       `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Options controls which tools a run advertises.
type Options struct {
	// HasIndex enables QueryCodebase; only set it when a search index exists
	// for the repository being analyzed.
	HasIndex bool
}

var toolDescriptions = map[ToolName]string{
	ToolAnalyzeFile:       "Analyzes a specific file for code quality issues and returns a summary of what was found.",
	ToolAnalyzeFilesBatch: "Analyzes several files in parallel. Prefer this when more than one file needs a deep review.",
	ToolQueryFile:         "Answers a focused question about a single file by reading its content.",
	ToolQueryCodebase:     "Searches the indexed codebase and returns the most relevant code snippets for a question.",
}

var toolArgs = map[ToolName]any{
	ToolAnalyzeFile:       &AnalyzeFileArgs{},
	ToolAnalyzeFilesBatch: &AnalyzeFilesBatchArgs{},
	ToolQueryFile:         &QueryFileArgs{},
	ToolQueryCodebase:     &QueryCodebaseArgs{},
}

// Catalogue returns the tools enabled for a run, in a stable order.
func Catalogue(opts Options) []Tool {
	out := make([]Tool, 0, len(ToolNames))
	for _, name := range ToolNames {
		if name == ToolQueryCodebase && !opts.HasIndex {
			continue
		}
		out = append(out, Declaration(name))
	}
	return out
}

// Declaration returns the catalogue entry for a single tool.
func Declaration(name ToolName) Tool {
	return Tool{
		Name:        name,
		Description: toolDescriptions[name],
		InputSchema: Reflect(toolArgs[name]),
	}
}

// Reflect produces an inline JSON schema object for v.
func Reflect(v any) map[string]any {
	if v == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	data, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

// RequiredFields returns the "required" list of a reflected schema.
func RequiredFields(s map[string]any) []string {
	raw, _ := s["required"].([]any)
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if str, ok := r.(string); ok {
			out = append(out, str)
		}
	}
	return out
}
