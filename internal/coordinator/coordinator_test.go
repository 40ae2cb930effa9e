package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/joescharf/cqi/internal/models"
	"github.com/joescharf/cqi/internal/runstate"
	"github.com/joescharf/cqi/internal/schema"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeReviewer returns canned findings per path and counts invocations.
type fakeReviewer struct {
	mu       sync.Mutex
	calls    map[string]int
	findings map[string][]models.Finding
	fail     map[string]error
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func newFakeReviewer() *fakeReviewer {
	return &fakeReviewer{
		calls:    make(map[string]int),
		findings: make(map[string][]models.Finding),
		fail:     make(map[string]error),
	}
}

func (f *fakeReviewer) Review(_ context.Context, path, _ string, _ models.RepoContext) ([]models.Finding, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[path]++
	if path == "panic.go" {
		panic("reviewer exploded")
	}
	if err := f.fail[path]; err != nil {
		return nil, err
	}
	return f.findings[path], nil
}

func (f *fakeReviewer) callCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

type fakeQuerier struct{ answer string }

func (q fakeQuerier) Query(_ context.Context, path, question string, _ models.RepoContext) (string, error) {
	return q.answer + " " + path + ": " + question, nil
}

type fakeSearcher struct{ hits []models.SearchHit }

func (s fakeSearcher) Search(_ context.Context, _ string, limit int) ([]models.SearchHit, error) {
	if limit < len(s.hits) {
		return s.hits[:limit], nil
	}
	return s.hits, nil
}

func newCoordinator(r Reviewer, parallel int) (*Coordinator, *runstate.State) {
	st := runstate.New(models.ModeAnalysis, 10)
	st.NextIteration()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := New(st, Config{
		Reviewer:    r,
		MaxParallel: parallel,
		Repo:        models.RepoContext{Root: "/repo"},
		Now:         func() time.Time { return fixed },
	})
	return c, st
}

func secretFinding() models.Finding {
	return models.Finding{
		Category:   models.CategorySecurity,
		Severity:   models.SeverityHigh,
		Title:      "Hardcoded secret",
		Line:       3,
		Impact:     "credential leak",
		References: []string{"CWE-798"},
	}
}

func TestAnalyzeIdempotent(t *testing.T) {
	r := newFakeReviewer()
	r.findings["a.py"] = []models.Finding{secretFinding()}
	c, st := newCoordinator(r, 0)
	ctx := context.Background()

	first, err := c.Analyze(ctx, "a.py", "security")
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Equal(t, 1, first.IssuesFound)
	require.Len(t, first.Issues, 1)
	assert.Equal(t, "Hardcoded secret", first.Issues[0].Title)

	second, err := c.Analyze(ctx, "a.py", "security")
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, AlreadyAnalyzed, second.Message)

	assert.Equal(t, 1, r.callCount("a.py"))
	assert.Equal(t, 1, st.IssueCount())
	assert.Equal(t, []string{"a.py"}, st.Analyzed())
}

func TestAnalyzeStampsProvenance(t *testing.T) {
	r := newFakeReviewer()
	r.findings["a.py"] = []models.Finding{secretFinding(), {Title: "Odd enum", Category: "naming", Severity: "urgent"}}
	c, st := newCoordinator(r, 0)

	_, err := c.Analyze(context.Background(), "a.py", "")
	require.NoError(t, err)

	issues := st.Issues()
	require.Len(t, issues, 2)
	is := issues[0]
	assert.Equal(t, "a.py", is.FilePath)
	assert.Equal(t, 3, is.LineNumber())
	assert.Nil(t, is.Column)
	assert.Equal(t, Stage, is.Stage())
	assert.Equal(t, 1, is.Iteration())
	assert.Equal(t, "2026-01-02T03:04:05Z", is.Metadata[models.MetaDetectedAt])
	assert.Equal(t, schema.DefaultFocus, is.Metadata[models.MetaFocus])
	assert.Equal(t, "credential leak", is.Metadata[models.MetaImpact])
	assert.Equal(t, []string{"CWE-798"}, is.Metadata[models.MetaReferences])

	assert.Equal(t, models.CategoryMaintainability, issues[1].Category)
	assert.Equal(t, models.SeverityMedium, issues[1].Severity)
}

func TestAnalyzeErrors(t *testing.T) {
	r := newFakeReviewer()
	r.fail["broken.py"] = errors.New("model unavailable")
	c, st := newCoordinator(r, 0)

	_, err := c.Analyze(context.Background(), "", "general")
	assert.ErrorIs(t, err, ErrEmptyPath)

	rep, err := c.Analyze(context.Background(), "broken.py", "general")
	require.Error(t, err)
	assert.False(t, rep.Success)
	assert.Contains(t, rep.Error, "model unavailable")
	assert.Empty(t, st.Analyzed())

	// A failed file is still never sent to the reviewer twice.
	_, err = c.Analyze(context.Background(), "broken.py", "general")
	require.NoError(t, err)
	assert.Equal(t, 1, r.callCount("broken.py"))
}

func TestAnalyzeBatchIsolation(t *testing.T) {
	r := newFakeReviewer()
	r.findings["a.py"] = []models.Finding{secretFinding(), {Category: models.CategoryStyle, Severity: models.SeverityLow, Title: "Long line", Line: 10}}
	r.findings["b.py"] = []models.Finding{{Category: models.CategoryTesting, Severity: models.SeverityInfo, Title: "No tests"}}
	r.fail["c.py"] = errors.New("timeout")
	c, st := newCoordinator(r, 0)

	report := c.AnalyzeBatch(context.Background(), []schema.FileRequest{
		{FilePath: "a.py", AnalysisFocus: "security"},
		{FilePath: "c.py"},
		{FilePath: "b.py"},
		{FilePath: "panic.go"},
	})

	require.Len(t, report.Results, 4)
	assert.True(t, report.Results[0].Success)
	assert.False(t, report.Results[1].Success)
	assert.Equal(t, "timeout", report.Results[1].Error)
	assert.True(t, report.Results[2].Success)
	assert.False(t, report.Results[3].Success)
	assert.Contains(t, report.Results[3].Error, "panicked")

	assert.Equal(t, 2, report.TotalFilesAnalyzed)
	assert.Equal(t, 3, report.TotalIssuesFound)

	// Issues are appended in request order regardless of completion order.
	issues := st.Issues()
	require.Len(t, issues, 3)
	assert.Equal(t, "a.py", issues[0].FilePath)
	assert.Equal(t, "a.py", issues[1].FilePath)
	assert.Equal(t, "b.py", issues[2].FilePath)
	assert.ElementsMatch(t, []string{"a.py", "b.py"}, st.Analyzed())
}

func TestAnalyzeBatchDedup(t *testing.T) {
	r := newFakeReviewer()
	c, _ := newCoordinator(r, 0)
	ctx := context.Background()

	_, err := c.Analyze(ctx, "a.py", "general")
	require.NoError(t, err)

	report := c.AnalyzeBatch(ctx, []schema.FileRequest{
		{FilePath: "a.py"},
		{FilePath: "b.py"},
		{FilePath: "b.py"},
		{FilePath: ""},
	})
	require.Len(t, report.Results, 4)
	assert.True(t, report.Results[0].Skipped)
	assert.False(t, report.Results[1].Skipped)
	assert.True(t, report.Results[2].Skipped)
	assert.Equal(t, ErrEmptyPath.Error(), report.Results[3].Error)
	assert.Equal(t, 1, report.TotalFilesAnalyzed)

	assert.Equal(t, 1, r.callCount("a.py"))
	assert.Equal(t, 1, r.callCount("b.py"))
}

func TestAnalyzeBatchLimit(t *testing.T) {
	r := newFakeReviewer()
	r.delay = 20 * time.Millisecond
	c, _ := newCoordinator(r, 2)

	var reqs []schema.FileRequest
	for _, p := range []string{"1.go", "2.go", "3.go", "4.go", "5.go", "6.go"} {
		reqs = append(reqs, schema.FileRequest{FilePath: p})
	}
	report := c.AnalyzeBatch(context.Background(), reqs)
	assert.Equal(t, 6, report.TotalFilesAnalyzed)
	assert.LessOrEqual(t, r.peak.Load(), int32(2))
}

func TestQueryAndSearch(t *testing.T) {
	st := runstate.New(models.ModeChat, 10)
	ctx := context.Background()

	bare := New(st, Config{Reviewer: newFakeReviewer()})
	_, err := bare.Query(ctx, "a.py", "what")
	assert.ErrorIs(t, err, ErrNoQuerier)
	_, err = bare.Search(ctx, "auth", 5)
	assert.ErrorIs(t, err, ErrNoSearchIndex)
	assert.False(t, bare.HasSearch())

	hits := []models.SearchHit{{FilePath: "a.py"}, {FilePath: "b.py"}, {FilePath: "c.py"}}
	full := New(st, Config{
		Reviewer: newFakeReviewer(),
		Querier:  fakeQuerier{answer: "answer"},
		Searcher: fakeSearcher{hits: hits},
	})
	assert.True(t, full.HasSearch())

	ans, err := full.Query(ctx, "a.py", "what does it do")
	require.NoError(t, err)
	assert.Equal(t, "answer a.py: what does it do", ans)

	_, err = full.Query(ctx, "", "what")
	assert.ErrorIs(t, err, ErrEmptyPath)

	got, err := full.Search(ctx, "auth", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = full.Search(ctx, "auth", 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}
