// Package coordinator runs single-file reviews on behalf of an orchestration
// run, deduplicating work and fanning batches out in parallel.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joescharf/cqi/internal/models"
	"github.com/joescharf/cqi/internal/runstate"
	"github.com/joescharf/cqi/internal/schema"
)

// Stage is the provenance recorded on every issue the coordinator produces.
const Stage = "file_analysis_coordinator"

// AlreadyAnalyzed is the message returned for files reviewed earlier in the run.
const AlreadyAnalyzed = "File already analyzed"

// Reviewer performs a deep review of one file.
type Reviewer interface {
	Review(ctx context.Context, path, focus string, repo models.RepoContext) ([]models.Finding, error)
}

// Querier answers a question about one file.
type Querier interface {
	Query(ctx context.Context, path, question string, repo models.RepoContext) (string, error)
}

// Searcher looks up code snippets across an indexed repository.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]models.SearchHit, error)
}

var (
	ErrEmptyPath     = errors.New("file_path is required")
	ErrNoQuerier     = errors.New("file querying is not available")
	ErrNoSearchIndex = errors.New("codebase search index is not available")
)

// IssueSummary is the compact per-issue view returned to the model.
type IssueSummary struct {
	Title      string `json:"title"`
	Category   string `json:"category"`
	Severity   string `json:"severity"`
	LineNumber *int   `json:"line_number,omitempty"`
}

// FileReport is the tool result for one analyzed file.
type FileReport struct {
	Success     bool           `json:"success"`
	FilePath    string         `json:"file_path"`
	Skipped     bool           `json:"skipped,omitempty"`
	Message     string         `json:"message,omitempty"`
	Error       string         `json:"error,omitempty"`
	IssuesFound int            `json:"issues_found"`
	Issues      []IssueSummary `json:"issues,omitempty"`
}

// BatchReport is the tool result for a batch of files.
type BatchReport struct {
	Results            []FileReport `json:"batch_results"`
	TotalFilesAnalyzed int          `json:"total_files_analyzed"`
	TotalIssuesFound   int          `json:"total_issues_found"`
}

// Config wires collaborators into a Coordinator.
type Config struct {
	Reviewer Reviewer
	Querier  Querier
	Searcher Searcher
	Repo     models.RepoContext
	// MaxParallel bounds concurrent reviews in a batch; 0 means unlimited.
	MaxParallel int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Coordinator is scoped to one run and shares that run's state.
type Coordinator struct {
	cfg   Config
	state *runstate.State
}

// New creates a coordinator bound to state.
func New(state *runstate.State, cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{cfg: cfg, state: state}
}

// HasSearch reports whether a code-search index is wired in.
func (c *Coordinator) HasSearch() bool { return c.cfg.Searcher != nil }

// Analyze reviews one file unless it was already analyzed in this run.
func (c *Coordinator) Analyze(ctx context.Context, path, focus string) (FileReport, error) {
	if path == "" {
		return FileReport{}, ErrEmptyPath
	}
	if focus == "" {
		focus = schema.DefaultFocus
	}
	if !c.state.Claim(path) {
		c.cfg.Logger.Debug("file already analyzed", "file", path)
		return alreadyAnalyzed(path), nil
	}

	issues, err := c.review(ctx, path, focus)
	if err != nil {
		return FileReport{FilePath: path, Error: err.Error()}, fmt.Errorf("analyze %s: %w", path, err)
	}
	c.state.AddIssues(issues...)
	return fileReport(path, issues), nil
}

// AnalyzeBatch reviews new files concurrently and reports skipped ones. A
// failure in one file never affects the others.
func (c *Coordinator) AnalyzeBatch(ctx context.Context, reqs []schema.FileRequest) BatchReport {
	results := make([]FileReport, len(reqs))
	found := make([][]models.Issue, len(reqs))

	var g errgroup.Group
	if c.cfg.MaxParallel > 0 {
		g.SetLimit(c.cfg.MaxParallel)
	}

	for i, req := range reqs {
		path := req.FilePath
		if path == "" {
			results[i] = FileReport{Error: ErrEmptyPath.Error()}
			continue
		}
		// Claiming here, before any goroutine starts, also removes
		// duplicates within the batch.
		if !c.state.Claim(path) {
			results[i] = alreadyAnalyzed(path)
			continue
		}
		focus := req.AnalysisFocus
		if focus == "" {
			focus = schema.DefaultFocus
		}
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					c.cfg.Logger.Error("batch file analysis panicked", "file", path, "panic", p)
					results[i] = FileReport{FilePath: path, Error: fmt.Sprintf("reviewer panicked: %v", p)}
				}
			}()
			issues, err := c.review(ctx, path, focus)
			if err != nil {
				c.cfg.Logger.Warn("batch file analysis failed", "file", path, "error", err)
				results[i] = FileReport{FilePath: path, Error: err.Error()}
				return nil
			}
			found[i] = issues
			results[i] = fileReport(path, issues)
			return nil
		})
	}
	_ = g.Wait()

	report := BatchReport{Results: results}
	for i := range results {
		if len(found[i]) > 0 {
			c.state.AddIssues(found[i]...)
		}
		if results[i].Success && !results[i].Skipped {
			report.TotalFilesAnalyzed++
			report.TotalIssuesFound += results[i].IssuesFound
		}
	}
	return report
}

// Query answers a question about one file. Queries are not deduplicated.
func (c *Coordinator) Query(ctx context.Context, path, question string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	if c.cfg.Querier == nil {
		return "", ErrNoQuerier
	}
	answer, err := c.cfg.Querier.Query(ctx, path, question, c.cfg.Repo)
	if err != nil {
		return "", fmt.Errorf("query %s: %w", path, err)
	}
	return answer, nil
}

// Search runs a code-search query against the index.
func (c *Coordinator) Search(ctx context.Context, question string, limit int) ([]models.SearchHit, error) {
	if c.cfg.Searcher == nil {
		return nil, ErrNoSearchIndex
	}
	if limit <= 0 {
		limit = schema.DefaultSearchLimit
	}
	hits, err := c.cfg.Searcher.Search(ctx, question, limit)
	if err != nil {
		return nil, fmt.Errorf("search codebase: %w", err)
	}
	return hits, nil
}

func (c *Coordinator) review(ctx context.Context, path, focus string) ([]models.Issue, error) {
	findings, err := c.cfg.Reviewer.Review(ctx, path, focus, c.cfg.Repo)
	if err != nil {
		return nil, err
	}
	c.state.MarkAnalyzed(path)

	iteration := c.state.Iteration()
	at := c.cfg.Now()
	issues := make([]models.Issue, 0, len(findings))
	for _, f := range findings {
		issues = append(issues, ToIssue(f, Stage, path, focus, iteration, at))
	}
	c.cfg.Logger.Debug("file analyzed", "file", path, "focus", focus, "issues", len(issues))
	return issues, nil
}

// ToIssue stamps a reviewer finding with provenance. path is used when the
// finding names no file; invalid enums are normalized.
func ToIssue(f models.Finding, stage, path, focus string, iteration int, at time.Time) models.Issue {
	meta := models.Provenance(stage, iteration, at)
	if focus != "" {
		meta[models.MetaFocus] = focus
	}
	if f.Impact != "" {
		meta[models.MetaImpact] = f.Impact
	}
	if len(f.References) > 0 {
		meta[models.MetaReferences] = f.References
	}

	file := f.FilePath
	if file == "" {
		file = path
	}
	category := f.Category
	if !category.Valid() {
		category = models.CategoryMaintainability
	}
	severity := f.Severity
	if !severity.Valid() {
		severity = models.SeverityMedium
	}
	return models.Issue{
		Category:    category,
		Severity:    severity,
		Title:       f.Title,
		Description: f.Description,
		FilePath:    file,
		Line:        models.IntPtr(f.Line),
		Column:      models.IntPtr(f.Column),
		Suggestion:  f.Suggestion,
		Snippet:     f.Snippet,
		Metadata:    meta,
	}
}

func alreadyAnalyzed(path string) FileReport {
	return FileReport{Success: true, FilePath: path, Skipped: true, Message: AlreadyAnalyzed}
}

func fileReport(path string, issues []models.Issue) FileReport {
	r := FileReport{Success: true, FilePath: path, IssuesFound: len(issues)}
	for _, is := range issues {
		r.Issues = append(r.Issues, IssueSummary{
			Title:      is.Title,
			Category:   string(is.Category),
			Severity:   string(is.Severity),
			LineNumber: is.Line,
		})
	}
	return r
}
