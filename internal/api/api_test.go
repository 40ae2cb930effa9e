package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/cqi/internal/engine"
	"github.com/joescharf/cqi/internal/llm"
	"github.com/joescharf/cqi/internal/models"
	"github.com/joescharf/cqi/internal/report"
	"github.com/joescharf/cqi/internal/schema"
	"github.com/joescharf/cqi/internal/store"
)

type fakeCompletion struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (f *fakeCompletion) Complete(_ context.Context, _ llm.Request) (llm.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	f.calls++
	return llm.Reply{Text: f.replies[i]}, nil
}

type fakeReviewer struct{}

func (fakeReviewer) Review(_ context.Context, path, _ string, _ models.RepoContext) ([]models.Finding, error) {
	return nil, nil
}

func (fakeReviewer) Query(_ context.Context, path, _ string, _ models.RepoContext) (string, error) {
	return "", nil
}

func setupTestServer(t *testing.T, replies ...string) (*Server, store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	repo := filepath.Join(dir, "repo")
	require.NoError(t, os.MkdirAll(repo, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "app.py"), []byte("def login():\n    pass\n"), 0o644))

	if len(replies) == 0 {
		replies = []string{`{"issues": []}`}
	}
	svc := engine.New(engine.Config{
		Store:      s,
		Completion: &fakeCompletion{replies: replies},
		Reviewer:   fakeReviewer{},
		Querier:    fakeReviewer{},
		Now:        func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	})
	return NewServer(svc, s, nil), s, repo
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func jsonBody(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestListTools(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	router := srv.Router()

	w := do(t, router, "GET", "/api/v1/tools", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var tools []schema.Tool
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tools))
	require.Len(t, tools, 3)
	assert.Equal(t, schema.ToolAnalyzeFile, tools[0].Name)
	assert.NotEmpty(t, tools[0].InputSchema)
}

func TestIndexThenTools(t *testing.T) {
	srv, _, repo := setupTestServer(t)
	router := srv.Router()

	w := do(t, router, "POST", "/api/v1/index", jsonBody(t, map[string]string{"path": repo}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var info store.IndexInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, 1, info.FileCount)

	w = do(t, router, "GET", "/api/v1/tools?path="+repo, "")
	require.Equal(t, http.StatusOK, w.Code)
	var tools []schema.Tool
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tools))
	assert.Len(t, tools, 4)
}

func TestAnalyze_API(t *testing.T) {
	srv, _, repo := setupTestServer(t,
		`{"issues": [{"category": "security", "severity": "high", "title": "Hardcoded secret", "description": "d", "file_path": "app.py", "line_number": 1, "suggestion": "s"}]}`,
		`{"issues": []}`,
	)
	router := srv.Router()

	w := do(t, router, "POST", "/api/v1/analyze", jsonBody(t, engine.AnalyzeRequest{Path: repo}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var rep report.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	assert.Equal(t, 2, rep.Iterations)
	require.Len(t, rep.Issues, 1)
	assert.Equal(t, "Hardcoded secret", rep.Issues[0].Title)
	assert.Equal(t, 1, rep.Summary.TotalIssues)
}

func TestAnalyze_Markdown(t *testing.T) {
	srv, _, repo := setupTestServer(t)
	router := srv.Router()

	w := do(t, router, "POST", "/api/v1/analyze?format=markdown", jsonBody(t, engine.AnalyzeRequest{Path: repo}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "# Code Quality Report"))
}

func TestAnalyze_BadRequests(t *testing.T) {
	srv, _, repo := setupTestServer(t)
	router := srv.Router()

	w := do(t, router, "POST", "/api/v1/analyze", "not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "POST", "/api/v1/analyze", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "path is required")

	w = do(t, router, "POST", "/api/v1/analyze?format=pdf", jsonBody(t, engine.AnalyzeRequest{Path: repo}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatAndSessions_API(t *testing.T) {
	srv, s, repo := setupTestServer(t,
		`{"answer": "login is in app.py", "files_to_analyze": [], "analysis_complete": true}`,
	)
	router := srv.Router()

	w := do(t, router, "POST", "/api/v1/chat", jsonBody(t, engine.AskRequest{Path: repo, Question: "Where is login?", Owner: "dev"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res engine.AskResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Complete)
	assert.Equal(t, "login is in app.py", res.Answer)
	require.NotEmpty(t, res.SessionID)

	// Continue the same session
	w = do(t, router, "POST", "/api/v1/chat", jsonBody(t, engine.AskRequest{Path: repo, Question: "And logout?", SessionID: res.SessionID}))
	require.Equal(t, http.StatusOK, w.Code)

	// List
	w = do(t, router, "GET", "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var sessions []*models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, 4, sessions[0].MessageCount)

	// Get
	w = do(t, router, "GET", "/api/v1/sessions/"+res.SessionID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var sess models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, "dev", sess.Owner)

	// Messages
	w = do(t, router, "GET", "/api/v1/sessions/"+res.SessionID+"/messages", "")
	require.Equal(t, http.StatusOK, w.Code)
	var msgs []*models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	require.Len(t, msgs, 4)
	assert.Equal(t, "Where is login?", msgs[0].Content)
	assert.Equal(t, models.RoleAI, msgs[3].Role)

	// Delete
	w = do(t, router, "DELETE", "/api/v1/sessions/"+res.SessionID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, err := s.GetSession(context.Background(), res.SessionID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestChat_BadRequests(t *testing.T) {
	srv, _, repo := setupTestServer(t)
	router := srv.Router()

	w := do(t, router, "POST", "/api/v1/chat", jsonBody(t, engine.AskRequest{Path: repo}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "question is required")

	w = do(t, router, "POST", "/api/v1/chat", jsonBody(t, engine.AskRequest{Path: repo, Question: "hi", SessionID: "missing"}))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessions_NotFound(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	router := srv.Router()

	for _, tc := range []struct{ method, path string }{
		{"GET", "/api/v1/sessions/nope"},
		{"GET", "/api/v1/sessions/nope/messages"},
		{"DELETE", "/api/v1/sessions/nope"},
	} {
		w := do(t, router, tc.method, tc.path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, tc.path)

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.NotEmpty(t, body["error"])
	}

	w := do(t, router, "GET", "/api/v1/sessions?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCache_API(t *testing.T) {
	srv, s, _ := setupTestServer(t)
	router := srv.Router()
	ctx := context.Background()

	require.NoError(t, s.CacheSet(ctx, "k1", "v1", time.Hour))
	require.NoError(t, s.CacheSet(ctx, "k2", "v2", time.Hour))

	w := do(t, router, "GET", "/api/v1/cache/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats store.CacheStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.Entries)

	w = do(t, router, "DELETE", "/api/v1/cache", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"removed": 2}`, w.Body.String())
}

func TestCORS(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest("OPTIONS", "/api/v1/sessions", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
