// Package repotree builds the filtered file listing of a repository that the
// orchestrator shows to the model.
package repotree

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/joescharf/cqi/internal/models"
)

// DefaultMaxFileSize skips files larger than 10 MiB.
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// DefaultIgnore returns the patterns skipped unless overridden.
func DefaultIgnore() []string {
	return []string{
		"*.pyc", "*.pyo", "*.pyd", "__pycache__", ".git", ".svn",
		"node_modules", ".env", "*.log", "*.tmp", ".DS_Store",
		"*.egg-info", "dist", "build", ".pytest_cache", ".coverage",
		".next", "coverage", ".venv", "venv", "vendor",
	}
}

// Options controls which files make it into a tree.
type Options struct {
	Ignore        []string
	MaxFileSize   int64
	IncludeHidden bool
}

// File is one file in the tree. Path is slash-separated and relative to the root.
type File struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Ext     string    `json:"extension,omitempty"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modified_time"`
}

// ExtCount is an extension with its file count.
type ExtCount struct {
	Ext   string `json:"extension"`
	Count int    `json:"count"`
}

// Stats summarizes a tree.
type Stats struct {
	TotalFiles   int            `json:"total_files"`
	TotalDirs    int            `json:"total_directories"`
	TotalSize    int64          `json:"total_size"`
	Extensions   map[string]int `json:"file_extensions"`
	LargestFiles []File         `json:"largest_files"`
	DeepestPath  int            `json:"deepest_path"`
}

// Tree is the filtered view of a repository.
type Tree struct {
	Root          string    `json:"root_path"`
	Files         []File    `json:"files"`
	Stats         Stats     `json:"statistics"`
	ConstructedAt time.Time `json:"constructed_at"`

	index map[string]bool
}

// Build walks root and returns the files that pass the filter, sorted by path.
func Build(root string, opts Options) (*Tree, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("path does not exist: %s", root)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", root)
	}
	if opts.Ignore == nil {
		opts.Ignore = DefaultIgnore()
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}

	t := &Tree{Root: abs, ConstructedAt: time.Now()}
	dirs := 1
	deepest := 0

	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			slog.Warn("could not access path", "path", path, "error", walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == abs {
			return nil
		}
		rel, err := filepath.Rel(abs, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if opts.ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		depth := strings.Count(rel, "/") + 1
		if depth > deepest {
			deepest = depth
		}
		if d.IsDir() {
			dirs++
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			slog.Warn("could not stat file", "path", rel, "error", err)
			return nil
		}
		if fi.Size() > opts.MaxFileSize {
			slog.Debug("skipping large file", "path", rel, "size", fi.Size())
			return nil
		}
		t.Files = append(t.Files, File{
			Name:    d.Name(),
			Path:    rel,
			Ext:     filepath.Ext(d.Name()),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	t.finish(dirs, deepest)
	return t, nil
}

// FromFiles builds a tree from an explicit file list without touching disk.
func FromFiles(root string, files ...File) *Tree {
	t := &Tree{Root: root, Files: append([]File(nil), files...), ConstructedAt: time.Now()}
	dirSet := map[string]bool{"": true}
	deepest := 0
	for i, f := range t.Files {
		if f.Name == "" {
			t.Files[i].Name = filepath.Base(f.Path)
		}
		if f.Ext == "" {
			t.Files[i].Ext = filepath.Ext(f.Path)
		}
		parts := strings.Split(f.Path, "/")
		if len(parts) > deepest {
			deepest = len(parts)
		}
		for j := 1; j < len(parts); j++ {
			dirSet[strings.Join(parts[:j], "/")] = true
		}
	}
	sort.Slice(t.Files, func(i, j int) bool { return t.Files[i].Path < t.Files[j].Path })
	t.finish(len(dirSet), deepest)
	return t
}

func (t *Tree) finish(dirs, deepest int) {
	st := Stats{TotalDirs: dirs, DeepestPath: deepest, Extensions: make(map[string]int)}
	t.index = make(map[string]bool, len(t.Files))
	for _, f := range t.Files {
		st.TotalFiles++
		st.TotalSize += f.Size
		ext := f.Ext
		if ext == "" {
			ext = "no_extension"
		}
		st.Extensions[ext]++
		t.index[f.Path] = true
	}

	largest := append([]File(nil), t.Files...)
	sort.SliceStable(largest, func(i, j int) bool { return largest[i].Size > largest[j].Size })
	if len(largest) > 10 {
		largest = largest[:10]
	}
	st.LargestFiles = largest
	t.Stats = st
}

func (o Options) ignored(rel string) bool {
	parts := strings.Split(rel, "/")
	if !o.IncludeHidden {
		for _, p := range parts {
			if strings.HasPrefix(p, ".") {
				return true
			}
		}
	}
	for _, pattern := range o.Ignore {
		for _, p := range parts {
			if matchPattern(pattern, p) {
				return true
			}
		}
	}
	return false
}

func matchPattern(pattern, name string) bool {
	if strings.ContainsAny(pattern, "*?[") {
		ok, err := filepath.Match(pattern, name)
		return err == nil && ok
	}
	return pattern == name
}

// Paths returns every file path in order.
func (t *Tree) Paths() []string {
	out := make([]string, len(t.Files))
	for i, f := range t.Files {
		out[i] = f.Path
	}
	return out
}

// Has reports whether path is part of the tree.
func (t *Tree) Has(path string) bool {
	if t.index != nil {
		return t.index[path]
	}
	for _, f := range t.Files {
		if f.Path == path {
			return true
		}
	}
	return false
}

// TopExtensions returns the n most common extensions, ties broken by name.
func (t *Tree) TopExtensions(n int) []ExtCount {
	out := make([]ExtCount, 0, len(t.Stats.Extensions))
	for ext, c := range t.Stats.Extensions {
		out = append(out, ExtCount{Ext: ext, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Ext < out[j].Ext
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// ProjectType guesses the dominant ecosystem from marker files and extensions.
func (t *Tree) ProjectType() string {
	has := func(name string) bool {
		for _, f := range t.Files {
			if f.Name == name {
				return true
			}
		}
		return false
	}
	ext := t.Stats.Extensions
	switch {
	case has("package.json"):
		return "Node.js/JavaScript"
	case ext[".go"] > 0 && has("go.mod"):
		return "Go"
	case ext[".py"] > 0 && (has("requirements.txt") || has("pyproject.toml") || has("setup.py")):
		return "Python"
	case ext[".java"] > 0:
		return "Java"
	case ext[".go"] > 0:
		return "Go"
	case ext[".rs"] > 0:
		return "Rust"
	case ext[".cpp"] > 0 || ext[".c"] > 0:
		return "C/C++"
	case ext[".cs"] > 0:
		return "C#"
	case ext[".rb"] > 0:
		return "Ruby"
	case ext[".php"] > 0:
		return "PHP"
	case ext[".py"] > 0:
		return "Python"
	}
	return "Mixed/Unknown"
}

// Summary renders a short human-readable description of the tree.
func (t *Tree) Summary() string {
	var sb strings.Builder
	sb.WriteString("Repository Tree Summary:\n")
	fmt.Fprintf(&sb, "- Root: %s\n", t.Root)
	fmt.Fprintf(&sb, "- Total files: %d\n", t.Stats.TotalFiles)
	fmt.Fprintf(&sb, "- Total directories: %d\n", t.Stats.TotalDirs)
	fmt.Fprintf(&sb, "- Total size: %s\n", humanize.IBytes(uint64(t.Stats.TotalSize)))
	fmt.Fprintf(&sb, "- Deepest path: %d levels\n", t.Stats.DeepestPath)

	if top := t.TopExtensions(5); len(top) > 0 {
		sb.WriteString("\nTop file extensions:\n")
		for _, e := range top {
			fmt.Fprintf(&sb, "- %s: %d files\n", e.Ext, e.Count)
		}
	}
	if len(t.Stats.LargestFiles) > 0 {
		sb.WriteString("\nLargest files:\n")
		for i, f := range t.Stats.LargestFiles {
			if i == 3 {
				break
			}
			fmt.Fprintf(&sb, "- %s: %s\n", f.Path, humanize.IBytes(uint64(f.Size)))
		}
	}
	return sb.String()
}

// RepoContext derives the reviewer context for this tree.
func (t *Tree) RepoContext() models.RepoContext {
	langs := make([]string, 0, 5)
	for _, e := range t.TopExtensions(5) {
		if e.Ext != "no_extension" {
			langs = append(langs, e.Ext)
		}
	}
	return models.RepoContext{
		Root:        t.Root,
		Name:        filepath.Base(t.Root),
		ProjectType: t.ProjectType(),
		Languages:   langs,
		TotalFiles:  t.Stats.TotalFiles,
	}
}
