package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/joescharf/cqi/internal/coordinator"
	"github.com/joescharf/cqi/internal/decode"
	"github.com/joescharf/cqi/internal/runstate"
	"github.com/joescharf/cqi/internal/schema"
)

const analysisSystem = `You are the main orchestrator for a comprehensive code analysis system. Your role is to strategically select which files to analyze and coordinate the analysis process.

Your workflow:
1. Call the analysis tools for the files that matter most
2. Wait for and read the tool results
3. Only then return {"issues": [...]} with the compiled findings

Choose files to analyze based on:
- Main entry points and core business logic
- Configuration and dependency manifests
- Test files and test configuration
- Large or complex files
- Files with security implications
- Files that have not been analyzed yet

Prefer AnalyzeFilesBatch with 3 to 5 files per call. Continue selecting and analyzing files until the important parts of the repository are covered.

%s

You MUST use the tools to analyze files. Do not return file lists in your answer.
If nothing is left to analyze, return an empty issues list: {"issues": []}`

type analysisMode struct {
	req   Request
	state *runstate.State
	now   func() time.Time
}

func newAnalysisMode(req Request, state *runstate.State, now func() time.Time) *analysisMode {
	return &analysisMode{req: req, state: state, now: now}
}

func (m *analysisMode) system(hasIndex bool) string {
	s := fmt.Sprintf(analysisSystem, categoryGuide)
	if hasIndex {
		s += "\nUse QueryCodebase to search across the whole indexed codebase before choosing files."
	}
	return s
}

func (m *analysisMode) shape() schema.ResponseShape { return schema.AnalysisShape() }

func (m *analysisMode) initialPrompt(hasIndex bool) string {
	var sb strings.Builder
	sb.WriteString("You are analyzing a software repository for code quality, security, performance, and maintainability issues.\n\n")
	sb.WriteString(repositoryOverview(m.req.Tree, m.req.RepoInfo))
	sb.WriteString("\nAVAILABLE FILES:\n")
	sb.WriteString(formatFiles(firstFiles(m.req.Tree.Files, initialFileLimit)))
	if n := len(m.req.Tree.Files); n > initialFileLimit {
		fmt.Fprintf(&sb, "\n... and %d more files", n-initialFileLimit)
	}
	sb.WriteString("\n\n")
	if focus := strings.TrimSpace(m.req.Focus); focus != "" && focus != schema.DefaultFocus {
		fmt.Fprintf(&sb, "ANALYSIS FOCUS: %s. Pass it as analysis_focus where it applies.\n\n", focus)
	}
	sb.WriteString("Start by identifying the most critical files and analyze them with AnalyzeFile or AnalyzeFilesBatch.\n")
	sb.WriteString("After analyzing files, answer with the issues field (required, may be an empty list).\n\n")
	sb.WriteString(toolGuide(hasIndex))
	return sb.String()
}

func (m *analysisMode) iterationPrompt(hasIndex bool) string {
	analyzed := m.state.Analyzed()
	remaining := remainingFiles(m.req.Tree, m.state.Claimed)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Continue the analysis process. You have already analyzed %d files.\n\n", len(analyzed))
	sb.WriteString("REMAINING FILES TO CONSIDER:\n")
	sb.WriteString(formatFiles(firstFiles(remaining, remainingFileLimit)))
	sb.WriteString("\n\nANALYZED FILES:\n")
	sb.WriteString(analyzedList(analyzed))
	sb.WriteString("\n\nContinue analyzing important files that have not been analyzed yet: supporting files and utilities, tests, documentation, and anything large, complex or security sensitive.\n")
	sb.WriteString("When you are ready, answer with the issues field. Each issue needs category, severity, title, description, file_path, line_number and suggestion. Use an empty list if you found nothing new.\n\n")
	sb.WriteString(toolGuide(hasIndex))
	return sb.String()
}

// final merges the issues of a final answer. The run stops on the first final
// answer that adds nothing new, which also stops a model that merely forgot
// to call tools.
func (m *analysisMode) final(text string, iteration int) bool {
	resp, _ := decode.Decode[schema.AnalysisResponse](text)
	at := m.now()
	added := 0
	for _, f := range resp.Findings() {
		if f.FilePath == "" {
			continue
		}
		added += m.state.MergeIssues(coordinator.ToIssue(f, Stage, f.FilePath, "", iteration, at))
	}
	return added == 0
}
