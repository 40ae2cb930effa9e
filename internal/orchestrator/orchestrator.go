// Package orchestrator runs the bounded model/tool loop that drives an
// analysis or chat run over one repository.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joescharf/cqi/internal/coordinator"
	"github.com/joescharf/cqi/internal/git"
	"github.com/joescharf/cqi/internal/llm"
	"github.com/joescharf/cqi/internal/models"
	"github.com/joescharf/cqi/internal/repotree"
	"github.com/joescharf/cqi/internal/runstate"
	"github.com/joescharf/cqi/internal/schema"
	"github.com/joescharf/cqi/internal/store"
	"github.com/joescharf/cqi/internal/tools"
)

// Stage is the provenance recorded on issues taken from final answers.
const Stage = "orchestrator_agent"

const (
	DefaultMaxIterations   = 10
	DefaultHistoryMessages = 5
)

var (
	ErrNoTree       = errors.New("repository tree is required")
	ErrInvalidMode  = errors.New("invalid mode")
	ErrNoQuestion   = errors.New("chat mode requires a question")
	ErrNoCompletion = errors.New("completion service is required")
	// ErrUnknownSession wraps store.ErrNotFound so callers can map it to a
	// not-found response.
	ErrUnknownSession = fmt.Errorf("chat session %w", store.ErrNotFound)
)

// CompletionService produces the next model turn.
type CompletionService interface {
	Complete(ctx context.Context, req llm.Request) (llm.Reply, error)
}

// ConversationStore persists chat history between runs.
type ConversationStore interface {
	CreateSession(ctx context.Context, owner string) (string, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	RecentMessages(ctx context.Context, sessionID string, n int) ([]*models.Message, error)
	AppendMessage(ctx context.Context, sessionID string, role models.MessageRole, content string) error
}

// availability is implemented by searchers that can tell whether an index
// exists for their repository.
type availability interface {
	Available(ctx context.Context) bool
}

// State is a step of the run state machine.
type State string

const (
	StateBuildingPrompt    State = "BUILDING_PROMPT"
	StateAwaitingModel     State = "AWAITING_MODEL"
	StateApplyingAction    State = "APPLYING_ACTION"
	StateContinue          State = "CONTINUE"
	StateTerminatedSuccess State = "TERMINATED_SUCCESS"
	StateTerminatedLimit   State = "TERMINATED_LIMIT"
	StateTerminatedError   State = "TERMINATED_ERROR"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateTerminatedSuccess || s == StateTerminatedLimit || s == StateTerminatedError
}

// Config wires collaborators shared by every run.
type Config struct {
	Completion    CompletionService
	Reviewer      coordinator.Reviewer
	Querier       coordinator.Querier
	Searcher      coordinator.Searcher
	Conversations ConversationStore

	MaxIterations   int
	HistoryMessages int
	MaxParallel     int

	Logger *slog.Logger
	Now    func() time.Time
}

// Orchestrator starts runs. It holds no per-run state and is safe for
// concurrent use.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.HistoryMessages <= 0 {
		cfg.HistoryMessages = DefaultHistoryMessages
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{cfg: cfg, logger: cfg.Logger}
}

// Request describes one run.
type Request struct {
	Tree     *repotree.Tree
	Mode     models.Mode
	Question string
	// SessionID continues an earlier chat; empty starts a new session.
	SessionID string
	Owner     string
	// Focus steers file selection in analysis mode.
	Focus string
	// PriorAnalysis is summarized into the chat prompt when set.
	PriorAnalysis *models.AnalysisOutcome
	RepoInfo      *git.RepoInfo
	// MaxIterations overrides the configured bound when positive.
	MaxIterations int
}

// RunResult is the outcome of one run.
type RunResult struct {
	RunID      string                  `json:"run_id"`
	Mode       models.Mode             `json:"mode"`
	State      State                   `json:"state"`
	Iterations int                     `json:"iterations"`
	Analyzed   []string                `json:"analyzed_files"`
	Analysis   *models.AnalysisOutcome `json:"analysis,omitempty"`
	Chat       *models.ChatOutcome     `json:"chat,omitempty"`
	StartedAt  time.Time               `json:"started_at"`
	Duration   time.Duration           `json:"duration"`
}

func (r Request) validate() error {
	if r.Tree == nil {
		return ErrNoTree
	}
	if !r.Mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, r.Mode)
	}
	if r.Mode == models.ModeChat && strings.TrimSpace(r.Question) == "" {
		return ErrNoQuestion
	}
	return nil
}

// Run drives one analysis or chat run to termination. It only returns an
// error for invalid requests; model and tool failures degrade to partial
// results.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*RunResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if o.cfg.Completion == nil {
		return nil, ErrNoCompletion
	}

	started := o.cfg.Now()
	max := o.cfg.MaxIterations
	if req.MaxIterations > 0 {
		max = req.MaxIterations
	}
	runID := uuid.NewString()
	logger := o.logger.With("run_id", runID, "mode", string(req.Mode))

	state := runstate.New(req.Mode, max)
	repo := req.Tree.RepoContext()
	hasIndex := o.hasIndex(ctx)

	coord := coordinator.New(state, coordinator.Config{
		Reviewer:    o.cfg.Reviewer,
		Querier:     o.cfg.Querier,
		Searcher:    o.searcher(hasIndex),
		Repo:        repo,
		MaxParallel: o.cfg.MaxParallel,
		Logger:      logger,
		Now:         o.cfg.Now,
	})
	registry := o.registry(coord, hasIndex, logger)

	var mode adapter
	switch req.Mode {
	case models.ModeAnalysis:
		mode = newAnalysisMode(req, state, o.cfg.Now)
	case models.ModeChat:
		chat, err := o.newChatMode(ctx, req, state, logger)
		if err != nil {
			return nil, err
		}
		mode = chat
	}

	run := &run{
		logger:     logger,
		completion: o.cfg.Completion,
		registry:   registry,
		state:      state,
		mode:       mode,
		catalogue:  schema.Catalogue(schema.Options{HasIndex: hasIndex}),
		system:     mode.system(hasIndex),
		hasIndex:   hasIndex,
	}
	logger.Info("run started", "files", req.Tree.Stats.TotalFiles, "max_iterations", max, "search", hasIndex)
	final := run.loop(ctx)

	result := &RunResult{
		RunID:      runID,
		Mode:       req.Mode,
		State:      final,
		Iterations: state.Iteration(),
		Analyzed:   state.Analyzed(),
		StartedAt:  started,
	}
	switch m := mode.(type) {
	case *analysisMode:
		result.Analysis = &models.AnalysisOutcome{Issues: state.Issues()}
	case *chatMode:
		result.Chat = m.outcome(ctx, final, o.cfg.Conversations, logger)
	}
	result.Duration = o.cfg.Now().Sub(started)
	logger.Info("run finished",
		"state", string(final),
		"iterations", result.Iterations,
		"analyzed", len(result.Analyzed),
		"issues", state.IssueCount(),
	)
	return result, nil
}

func (o *Orchestrator) hasIndex(ctx context.Context) bool {
	if o.cfg.Searcher == nil {
		return false
	}
	if a, ok := o.cfg.Searcher.(availability); ok {
		return a.Available(ctx)
	}
	return true
}

func (o *Orchestrator) searcher(hasIndex bool) coordinator.Searcher {
	if !hasIndex {
		return nil
	}
	return o.cfg.Searcher
}

// registry builds the per-run dispatch table. QueryCodebase is only bound
// when an index exists, so calls to it otherwise resolve to a missing handler.
func (o *Orchestrator) registry(coord *coordinator.Coordinator, hasIndex bool, logger *slog.Logger) *tools.Registry {
	reg := tools.NewRegistry(logger)
	must := func(name schema.ToolName, h tools.Handler) {
		if err := reg.Register(name, h); err != nil {
			panic(err)
		}
	}

	must(schema.ToolAnalyzeFile, tools.Typed(func(ctx context.Context, args schema.AnalyzeFileArgs) (any, error) {
		return coord.Analyze(ctx, args.FilePath, args.AnalysisFocus)
	}))
	must(schema.ToolAnalyzeFilesBatch, tools.Typed(func(ctx context.Context, args schema.AnalyzeFilesBatchArgs) (any, error) {
		reqs := args.Requests()
		if len(reqs) == 0 {
			return nil, errors.New("files is required")
		}
		return coord.AnalyzeBatch(ctx, reqs), nil
	}))
	must(schema.ToolQueryFile, tools.Typed(func(ctx context.Context, args schema.QueryFileArgs) (any, error) {
		if args.Question == "" {
			return nil, errors.New("question is required")
		}
		return coord.Query(ctx, args.FilePath, args.Question)
	}))
	if hasIndex {
		must(schema.ToolQueryCodebase, tools.Typed(func(ctx context.Context, args schema.QueryCodebaseArgs) (any, error) {
			if args.Question == "" {
				return nil, errors.New("question is required")
			}
			hits, err := coord.Search(ctx, args.Question, args.SearchLimit)
			if err != nil {
				return nil, err
			}
			return searchResult{Question: args.Question, Results: hits, Count: len(hits)}, nil
		}))
	}
	return reg
}

type searchResult struct {
	Question string             `json:"question"`
	Results  []models.SearchHit `json:"results"`
	Count    int                `json:"count"`
}
