package orchestrator

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/joescharf/cqi/internal/git"
	"github.com/joescharf/cqi/internal/repotree"
	"github.com/joescharf/cqi/internal/schema"
)

// File listing limits for prompts.
const (
	initialFileLimit   = 50
	remainingFileLimit = 30
	analyzedFileLimit  = 10
)

const categoryGuide = `Valid issue categories (use ONLY these):
- security: Security vulnerabilities and risks
- performance: Performance bottlenecks and optimization opportunities
- duplication: Code duplication and DRY violations
- complexity: Complex code that's hard to understand or maintain
- testing: Missing tests or testing issues
- documentation: Missing or poor documentation
- style: Code style and formatting issues
- maintainability: Design issues, architectural concerns, coupling, and cohesion problems`

func repositoryOverview(tree *repotree.Tree, info *git.RepoInfo) string {
	var sb strings.Builder
	sb.WriteString("REPOSITORY OVERVIEW:\n")
	fmt.Fprintf(&sb, "- Path: %s\n", tree.Root)
	fmt.Fprintf(&sb, "- Project Type: %s\n", tree.ProjectType())
	fmt.Fprintf(&sb, "- Total Files: %d\n", tree.Stats.TotalFiles)
	fmt.Fprintf(&sb, "- Total Directories: %d\n", tree.Stats.TotalDirs)
	fmt.Fprintf(&sb, "- Total Size: %s\n", humanize.IBytes(uint64(tree.Stats.TotalSize)))

	exts := tree.TopExtensions(5)
	names := make([]string, 0, len(exts))
	for _, e := range exts {
		names = append(names, e.Ext)
	}
	fmt.Fprintf(&sb, "- Main File Types: %s\n", strings.Join(names, ", "))

	if info != nil {
		if info.Branch != "" {
			fmt.Fprintf(&sb, "- Git Branch: %s\n", info.Branch)
		}
		if info.Head != "" {
			fmt.Fprintf(&sb, "- Git Head: %s", shortHash(info.Head))
			if info.LastCommitMessage != "" {
				fmt.Fprintf(&sb, " (%s)", info.LastCommitMessage)
			}
			sb.WriteString("\n")
		}
		if info.Dirty {
			sb.WriteString("- Working tree has uncommitted changes\n")
		}
	}
	return sb.String()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// formatFiles lists files with their size and extension.
func formatFiles(files []repotree.File) string {
	if len(files) == 0 {
		return "No files available"
	}
	lines := make([]string, 0, len(files))
	for _, f := range files {
		ext := f.Ext
		if ext == "" {
			ext = "no extension"
		}
		lines = append(lines, fmt.Sprintf("- %s (%.1fKB, %s)", f.Path, float64(f.Size)/1024, ext))
	}
	return strings.Join(lines, "\n")
}

func firstFiles(files []repotree.File, n int) []repotree.File {
	if len(files) > n {
		return files[:n]
	}
	return files
}

// remainingFiles returns tree files not yet claimed in the run.
func remainingFiles(tree *repotree.Tree, claimed func(string) bool) []repotree.File {
	var out []repotree.File
	for _, f := range tree.Files {
		if !claimed(f.Path) {
			out = append(out, f)
		}
	}
	return out
}

func analyzedList(paths []string) string {
	if len(paths) == 0 {
		return "None yet"
	}
	if len(paths) > analyzedFileLimit {
		return strings.Join(paths[:analyzedFileLimit], ", ") + "..."
	}
	return strings.Join(paths, ", ")
}

// toolSignatures lists the tools in the order the turn prompt presents them.
var toolSignatures = []struct {
	name    schema.ToolName
	args    string
	purpose string
}{
	{schema.ToolQueryFile, "file_path, question", "answer a focused question about a single file"},
	{schema.ToolQueryCodebase, "question", "search the indexed codebase to find patterns and answer cross-file questions"},
	{schema.ToolAnalyzeFile, "file_path, analysis_focus", "deep code-quality analysis of one file"},
	{schema.ToolAnalyzeFilesBatch, "files", "analyze several files in parallel"},
}

// toolGuide describes the enabled tools at the end of every turn prompt.
func toolGuide(hasIndex bool) string {
	var sb strings.Builder
	sb.WriteString("You have access to these tools:\n")
	n := 0
	for _, t := range toolSignatures {
		if t.name == schema.ToolQueryCodebase && !hasIndex {
			continue
		}
		n++
		fmt.Fprintf(&sb, "%d. %s(%s): %s\n", n, t.name, t.args, t.purpose)
	}
	sb.WriteString("\n")
	if hasIndex {
		fmt.Fprintf(&sb, "Strategy: use %s for specific file questions and %s for cross-file searches.", schema.ToolQueryFile, schema.ToolQueryCodebase)
	} else {
		fmt.Fprintf(&sb, "Strategy: use %s to answer specific questions about files.", schema.ToolQueryFile)
	}
	return sb.String()
}
