package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/cqi/internal/engine"
	"github.com/joescharf/cqi/internal/models"
	"github.com/joescharf/cqi/internal/report"
	"github.com/joescharf/cqi/internal/schema"
	"github.com/joescharf/cqi/internal/store"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

type mockRunner struct {
	analyzeReqs []engine.AnalyzeRequest
	askReqs     []engine.AskRequest
	indexed     []string

	analyzeErr error
	askErr     error
}

func (m *mockRunner) Analyze(_ context.Context, req engine.AnalyzeRequest) (*report.Report, error) {
	m.analyzeReqs = append(m.analyzeReqs, req)
	if m.analyzeErr != nil {
		return nil, m.analyzeErr
	}
	line := 7
	issues := []models.Issue{{
		Category: models.CategorySecurity,
		Severity: models.SeverityCritical,
		Title:    "Command injection",
		FilePath: "run.py",
		Line:     &line,
	}}
	return &report.Report{
		Repository: req.Path,
		RunID:      "run-1",
		Iterations: 3,
		Analyzed:   []string{"run.py"},
		Summary:    report.Summarize(issues, 1),
		Issues:     issues,
	}, nil
}

func (m *mockRunner) Ask(_ context.Context, req engine.AskRequest) (*engine.AskResult, error) {
	m.askReqs = append(m.askReqs, req)
	if m.askErr != nil {
		return nil, m.askErr
	}
	sid := req.SessionID
	if sid == "" {
		sid = "01NEWSESSION"
	}
	return &engine.AskResult{RunID: "run-2", SessionID: sid, Answer: "It uses SQLite.", Complete: true, Iterations: 1}, nil
}

func (m *mockRunner) Index(_ context.Context, path string) (*store.IndexInfo, error) {
	m.indexed = append(m.indexed, path)
	return &store.IndexInfo{Root: path, FileCount: 4, ChunkCount: 9}, nil
}

func (m *mockRunner) Tools(_ context.Context, path string) ([]schema.Tool, error) {
	return schema.Catalogue(schema.Options{HasIndex: path != ""}), nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestServer(t *testing.T) (*Server, *mockRunner) {
	t.Helper()
	mr := &mockRunner{}
	return NewServer(mr, "1.2.3"), mr
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func parseResult(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestNewServer(t *testing.T) {
	srv, _ := newTestServer(t)
	require.NotNil(t, srv.MCPServer())

	assert.Equal(t, "dev", NewServer(&mockRunner{}, "").version)
}

func TestToolDefinitions(t *testing.T) {
	srv, _ := newTestServer(t)

	analyze, _ := srv.analyzeTool()
	ask, _ := srv.askTool()
	index, _ := srv.indexTool()
	tools, _ := srv.toolsTool()

	assert.Equal(t, "cqi_analyze", analyze.Name)
	assert.Equal(t, []string{"path"}, analyze.InputSchema.Required)
	assert.ElementsMatch(t, []string{"path", "question"}, ask.InputSchema.Required)
	assert.Equal(t, []string{"path"}, index.InputSchema.Required)
	assert.Empty(t, tools.InputSchema.Required)
}

func TestHandleAnalyze(t *testing.T) {
	srv, mr := newTestServer(t)

	req := callToolReq("cqi_analyze", map[string]any{
		"path":           "/src/app",
		"focus":          "security",
		"since":          "main",
		"max_iterations": float64(4),
	})
	result, err := srv.handleAnalyze(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var rep report.Report
	parseResult(t, result, &rep)
	assert.Equal(t, "/src/app", rep.Repository)
	require.Len(t, rep.Issues, 1)
	assert.Equal(t, "Command injection", rep.Issues[0].Title)

	require.Len(t, mr.analyzeReqs, 1)
	assert.Equal(t, engine.AnalyzeRequest{Path: "/src/app", Focus: "security", Since: "main", MaxIterations: 4}, mr.analyzeReqs[0])
}

func TestHandleAnalyze_Markdown(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleAnalyze(context.Background(), callToolReq("cqi_analyze", map[string]any{
		"path":   "/src/app",
		"format": "markdown",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "# Code Quality Report")
	assert.Contains(t, text, "`run.py:7`")
}

func TestHandleAnalyze_Errors(t *testing.T) {
	srv, mr := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleAnalyze(ctx, callToolReq("cqi_analyze", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "path")

	result, err = srv.handleAnalyze(ctx, callToolReq("cqi_analyze", map[string]any{"path": "/x", "format": "pdf"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	mr.analyzeErr = errors.New("model unavailable")
	result, err = srv.handleAnalyze(ctx, callToolReq("cqi_analyze", map[string]any{"path": "/x"}))
	require.NoError(t, err, "handler should not return Go error; should wrap in result")
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "model unavailable")
}

func TestHandleAsk(t *testing.T) {
	srv, mr := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleAsk(ctx, callToolReq("cqi_ask", map[string]any{
		"path":     "/src/app",
		"question": "What database does it use?",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var res engine.AskResult
	parseResult(t, result, &res)
	assert.Equal(t, "It uses SQLite.", res.Answer)
	assert.Equal(t, "01NEWSESSION", res.SessionID)

	_, err = srv.handleAsk(ctx, callToolReq("cqi_ask", map[string]any{
		"path":       "/src/app",
		"question":   "Which version?",
		"session_id": res.SessionID,
	}))
	require.NoError(t, err)
	require.Len(t, mr.askReqs, 2)
	assert.Equal(t, "01NEWSESSION", mr.askReqs[1].SessionID)
	assert.Equal(t, "mcp", mr.askReqs[1].Owner)
}

func TestHandleAsk_MissingQuestion(t *testing.T) {
	srv, mr := newTestServer(t)

	result, err := srv.handleAsk(context.Background(), callToolReq("cqi_ask", map[string]any{"path": "/src/app"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "question")
	assert.Empty(t, mr.askReqs)
}

func TestHandleIndexAndTools(t *testing.T) {
	srv, mr := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleIndex(ctx, callToolReq("cqi_index", map[string]any{"path": "/src/app"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var info store.IndexInfo
	parseResult(t, result, &info)
	assert.Equal(t, 9, info.ChunkCount)
	assert.Equal(t, []string{"/src/app"}, mr.indexed)

	result, err = srv.handleTools(ctx, callToolReq("cqi_tools", nil))
	require.NoError(t, err)
	var tools []schema.Tool
	parseResult(t, result, &tools)
	assert.Len(t, tools, 3)

	result, err = srv.handleTools(ctx, callToolReq("cqi_tools", map[string]any{"path": "/src/app"}))
	require.NoError(t, err)
	parseResult(t, result, &tools)
	assert.Len(t, tools, 4)
}
