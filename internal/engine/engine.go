// Package engine wires repository scanning, the orchestrator and persistence
// into the operations shared by the CLI, the REST API and the MCP server.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joescharf/cqi/internal/coordinator"
	"github.com/joescharf/cqi/internal/git"
	"github.com/joescharf/cqi/internal/models"
	"github.com/joescharf/cqi/internal/orchestrator"
	"github.com/joescharf/cqi/internal/report"
	"github.com/joescharf/cqi/internal/repotree"
	"github.com/joescharf/cqi/internal/schema"
	"github.com/joescharf/cqi/internal/search"
	"github.com/joescharf/cqi/internal/store"
)

// ErrNoChanges is returned when a --since filter leaves nothing to analyze.
var ErrNoChanges = errors.New("no changed files to analyze")

// Config wires collaborators into a Service.
type Config struct {
	Store      store.Store
	Completion orchestrator.CompletionService
	Reviewer   coordinator.Reviewer
	Querier    coordinator.Querier
	Git        git.Client

	Tree            repotree.Options
	MaxIterations   int
	HistoryMessages int
	MaxParallel     int
	ChunkLines      int

	Logger *slog.Logger
	Now    func() time.Time
}

// Service runs analyses, chats and indexing against local repositories.
type Service struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Service.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Git == nil {
		cfg.Git = git.NewClient()
	}
	return &Service{cfg: cfg, logger: cfg.Logger}
}

// AnalyzeRequest describes one analysis.
type AnalyzeRequest struct {
	Path  string `json:"path"`
	Focus string `json:"focus,omitempty"`
	// Since restricts the analysis to files changed relative to a git ref.
	Since         string `json:"since,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

// AskRequest describes one chat turn.
type AskRequest struct {
	Path      string `json:"path"`
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
	Owner     string `json:"owner,omitempty"`
	// PriorAnalysis is summarized into the prompt when set.
	PriorAnalysis *models.AnalysisOutcome `json:"prior_analysis,omitempty"`
	MaxIterations int                     `json:"max_iterations,omitempty"`
}

// AskResult is the answer of one chat turn.
type AskResult struct {
	RunID      string   `json:"run_id"`
	SessionID  string   `json:"session_id,omitempty"`
	Answer     string   `json:"answer"`
	Complete   bool     `json:"complete"`
	FileHints  []string `json:"file_hints,omitempty"`
	Iterations int      `json:"iterations"`
	Analyzed   []string `json:"analyzed_files"`
}

// Analyze scans the repository at req.Path and runs an analysis.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (*report.Report, error) {
	tree, err := s.tree(req.Path)
	if err != nil {
		return nil, err
	}
	info := s.describe(tree.Root)
	if req.Since != "" {
		tree, err = s.changedSince(tree, info, req.Since)
		if err != nil {
			return nil, err
		}
	}

	res, err := s.orchestrator(tree.Root).Run(ctx, orchestrator.Request{
		Tree:          tree,
		Mode:          models.ModeAnalysis,
		Focus:         req.Focus,
		RepoInfo:      info,
		MaxIterations: req.MaxIterations,
	})
	if err != nil {
		return nil, err
	}

	rep := &report.Report{
		Repository:  tree.Root,
		RunID:       res.RunID,
		GeneratedAt: s.cfg.Now(),
		Iterations:  res.Iterations,
		Analyzed:    res.Analyzed,
		Summary:     report.Summarize(res.Analysis.Issues, len(res.Analyzed)),
		Issues:      report.Prioritize(res.Analysis.Issues),
	}
	if info != nil {
		rep.Branch = info.Branch
		rep.Commit = info.Head
	}
	return rep, nil
}

// Ask answers a question about the repository at req.Path.
func (s *Service) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	tree, err := s.tree(req.Path)
	if err != nil {
		return nil, err
	}
	res, err := s.orchestrator(tree.Root).Run(ctx, orchestrator.Request{
		Tree:          tree,
		Mode:          models.ModeChat,
		Question:      req.Question,
		SessionID:     req.SessionID,
		Owner:         req.Owner,
		PriorAnalysis: req.PriorAnalysis,
		RepoInfo:      s.describe(tree.Root),
		MaxIterations: req.MaxIterations,
	})
	if err != nil {
		return nil, err
	}
	return &AskResult{
		RunID:      res.RunID,
		SessionID:  res.Chat.SessionID,
		Answer:     res.Chat.Answer,
		Complete:   res.Chat.Complete,
		FileHints:  res.Chat.FileHints,
		Iterations: res.Iterations,
		Analyzed:   res.Analyzed,
	}, nil
}

// Index rebuilds the code-search index for the repository at path.
func (s *Service) Index(ctx context.Context, path string) (*store.IndexInfo, error) {
	if s.cfg.Store == nil {
		return nil, errors.New("indexing requires a store")
	}
	tree, err := s.tree(path)
	if err != nil {
		return nil, err
	}
	return search.NewIndexer(s.cfg.Store, s.cfg.ChunkLines, s.logger).Index(ctx, tree)
}

// Tools returns the tool catalogue a run over path would offer the model.
func (s *Service) Tools(ctx context.Context, path string) ([]schema.Tool, error) {
	hasIndex := false
	if s.cfg.Store != nil && strings.TrimSpace(path) != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve path: %w", err)
		}
		hasIndex = search.NewSearcher(s.cfg.Store, abs).Available(ctx)
	}
	return schema.Catalogue(schema.Options{HasIndex: hasIndex}), nil
}

// Tree scans path with the configured filters.
func (s *Service) Tree(path string) (*repotree.Tree, error) {
	return s.tree(path)
}

func (s *Service) tree(path string) (*repotree.Tree, error) {
	if strings.TrimSpace(path) == "" {
		path = "."
	}
	tree, err := repotree.Build(path, s.cfg.Tree)
	if err != nil {
		return nil, fmt.Errorf("scan repository: %w", err)
	}
	s.logger.Debug("repository scanned", "root", tree.Root, "files", tree.Stats.TotalFiles)
	return tree, nil
}

// orchestrator builds an orchestrator whose search tool is bound to root.
func (s *Service) orchestrator(root string) *orchestrator.Orchestrator {
	cfg := orchestrator.Config{
		Completion:      s.cfg.Completion,
		MaxIterations:   s.cfg.MaxIterations,
		HistoryMessages: s.cfg.HistoryMessages,
		MaxParallel:     s.cfg.MaxParallel,
		Reviewer:        s.cfg.Reviewer,
		Querier:         s.cfg.Querier,
		Logger:          s.logger,
		Now:             s.cfg.Now,
	}
	if s.cfg.Store != nil {
		cfg.Conversations = s.cfg.Store
		cfg.Searcher = search.NewSearcher(s.cfg.Store, root)
	}
	return orchestrator.New(cfg)
}

func (s *Service) describe(root string) *git.RepoInfo {
	info, err := git.Describe(s.cfg.Git, root)
	if err != nil {
		s.logger.Debug("no git metadata", "root", root, "error", err)
		return nil
	}
	return info
}

// changedSince narrows tree to files changed since ref.
func (s *Service) changedSince(tree *repotree.Tree, info *git.RepoInfo, ref string) (*repotree.Tree, error) {
	if info == nil {
		return nil, fmt.Errorf("--since requires a git repository: %s", tree.Root)
	}
	changed, err := s.cfg.Git.ChangedFiles(tree.Root, ref)
	if err != nil {
		return nil, fmt.Errorf("list changes since %s: %w", ref, err)
	}
	return FilterChanged(tree, info.Root, changed)
}

// FilterChanged keeps the files of tree listed in changed. changed paths are
// relative to repoRoot, which may be an ancestor of tree.Root.
func FilterChanged(tree *repotree.Tree, repoRoot string, changed []string) (*repotree.Tree, error) {
	prefix := ""
	if rel, err := filepath.Rel(repoRoot, tree.Root); err == nil && rel != "." {
		prefix = filepath.ToSlash(rel) + "/"
	}
	want := make(map[string]bool, len(changed))
	for _, c := range changed {
		if strings.HasPrefix(c, prefix) {
			want[strings.TrimPrefix(c, prefix)] = true
		}
	}
	var files []repotree.File
	for _, f := range tree.Files {
		if want[f.Path] {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		return nil, ErrNoChanges
	}
	return repotree.FromFiles(tree.Root, files...), nil
}
