package reviewer

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/joescharf/cqi/internal/llm"
	"github.com/joescharf/cqi/internal/models"
	"github.com/joescharf/cqi/internal/schema"
)

const reviewSystem = `You are a specialized code analysis agent that analyzes individual files for quality issues.

For each issue found, provide:
- Clear, actionable description with specific line number
- Concrete suggestions for improvement
- Impact assessment

Valid Categories (use ONLY these):
- security: Vulnerabilities, authentication issues, input validation
- performance: Bottlenecks, algorithm complexity, resource usage
- duplication: Code duplication and DRY violations
- complexity: Hard to understand/maintain code
- testing: Missing tests or coverage gaps
- documentation: Missing/poor documentation
- style: Code formatting issues
- maintainability: Design issues, coupling, architectural concerns

Valid severities: critical, high, medium, low, info.

Prioritize high-impact issues that affect security, performance, or maintainability.`

const querySystemPrompt = `You answer questions about a single source file. Base every answer only on the file content you are given, cite the exact code you rely on, and say plainly when the answer is not in the file.`

func reviewSystemPrompt(shape schema.ResponseShape) string {
	return llm.SystemPrompt(reviewSystem, &shape)
}

var focusInstructions = map[string]string{
	"security":      "Focus on: input validation, injection risks, authentication, data exposure, crypto issues",
	"performance":   "Focus on: algorithm complexity, inefficient loops, memory usage, query optimization, I/O operations",
	"architecture":  "Focus on: design patterns, coupling, separation of concerns, abstractions, dependencies",
	"testing":       "Focus on: missing tests, coverage gaps, edge cases, test quality",
	"documentation": "Focus on: missing docstrings, unclear names, type hints, outdated docs",
	"general":       "Analyze all aspects: security, performance, maintainability, testing, documentation",
}

// FocusInstructions returns the review guidance for focus, falling back to general.
func FocusInstructions(focus string) string {
	if s, ok := focusInstructions[strings.ToLower(strings.TrimSpace(focus))]; ok {
		return s
	}
	return focusInstructions["general"]
}

var languages = map[string]string{
	".py":    "Python",
	".js":    "JavaScript",
	".jsx":   "JavaScript/React",
	".ts":    "TypeScript",
	".tsx":   "TypeScript/React",
	".java":  "Java",
	".cpp":   "C++",
	".c":     "C",
	".cs":    "C#",
	".go":    "Go",
	".rb":    "Ruby",
	".php":   "PHP",
	".swift": "Swift",
	".kt":    "Kotlin",
	".rs":    "Rust",
	".scala": "Scala",
	".r":     "R",
	".sql":   "SQL",
	".sh":    "Shell",
	".yaml":  "YAML",
	".yml":   "YAML",
	".json":  "JSON",
	".xml":   "XML",
	".html":  "HTML",
	".css":   "CSS",
	".scss":  "SCSS",
	".vue":   "Vue",
	".dart":  "Dart",
}

// Language maps a file path to a language name by extension.
func Language(path string) string {
	if l, ok := languages[strings.ToLower(filepath.Ext(path))]; ok {
		return l
	}
	return "Unknown"
}

// truncateLines keeps the first max lines and reports the original count.
func truncateLines(content string, max int) (string, int, bool) {
	lines := strings.Split(content, "\n")
	total := len(lines)
	if total <= max {
		return content, total, false
	}
	return strings.Join(lines[:max], "\n"), total, true
}

func codeBlock(content, language string) string {
	return "```" + strings.ToLower(language) + "\n" + content + "\n```"
}

func buildReviewPrompt(path, content, focus string, repo models.RepoContext, maxLines int) string {
	lang := Language(path)
	body, total, truncated := truncateLines(content, maxLines)

	var sb strings.Builder
	if repo.ProjectType != "" || repo.Name != "" {
		sb.WriteString("Repository context:\n")
		if repo.Name != "" {
			fmt.Fprintf(&sb, "- name: %s\n", repo.Name)
		}
		if repo.ProjectType != "" {
			fmt.Fprintf(&sb, "- project_type: %s\n", repo.ProjectType)
		}
		if len(repo.Languages) > 0 {
			fmt.Fprintf(&sb, "- main_file_types: %s\n", strings.Join(repo.Languages, ", "))
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Analyze this %s file:\nPath: %s (%d lines)\n\n", lang, path, total)
	fmt.Fprintf(&sb, "ANALYSIS FOCUS: %s\n%s\n\n", strings.ToUpper(focus), FocusInstructions(focus))
	sb.WriteString("FILE CONTENT:\n")
	sb.WriteString(codeBlock(body, lang))
	if truncated {
		fmt.Fprintf(&sb, "\n\n[Note: File truncated to first %d lines]", maxLines)
	}
	sb.WriteString("\n\nProvide detailed issues with exact line numbers, clear descriptions, and actionable suggestions.")
	return sb.String()
}

func buildQueryPrompt(path, content, question string, maxLines int) string {
	lang := Language(path)
	body, _, truncated := truncateLines(content, maxLines)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Answer this question based ONLY on the %s file content:\n\n", lang)
	fmt.Fprintf(&sb, "QUESTION: %s\n\n", question)
	fmt.Fprintf(&sb, "FILE: %s\n", path)
	sb.WriteString(codeBlock(body, lang))
	if truncated {
		fmt.Fprintf(&sb, "\n\n[Note: File truncated to first %d lines]", maxLines)
	}
	sb.WriteString("\n\nAnswer directly citing exact code. If not found in this file, say so and suggest where else to look. Don't speculate.")
	return sb.String()
}
