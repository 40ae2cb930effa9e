package reviewer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/cqi/internal/models"
)

type fakeGenerator struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
	users   []string
	systems []string
}

func (f *fakeGenerator) Generate(_ context.Context, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.systems = append(f.systems, system)
	f.users = append(f.users, user)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return r, nil
}

type mapCache struct {
	data   map[string]string
	getErr error
	setErr error
}

func (m *mapCache) CacheGet(_ context.Context, key string) (string, bool, error) {
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) CacheSet(_ context.Context, key, value string, _ time.Duration) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	return nil
}

func setupRepo(t *testing.T, files map[string]string) models.RepoContext {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return models.RepoContext{Root: root, Name: "demo", ProjectType: "Python"}
}

const oneIssue = `{"issues": [{"category": "security", "severity": "high", "title": "SQL injection",
"description": "query built with string formatting", "file_path": "whatever.py", "line_number": 2,
"suggestion": "use parameters"}]}`

func TestReview(t *testing.T) {
	repo := setupRepo(t, map[string]string{"app/db.py": "import sqlite3\nq = 'select %s' % x\n"})
	gen := &fakeGenerator{replies: []string{"```json\n" + oneIssue + "\n```"}}
	r := New(gen, nil, Config{})

	findings, err := r.Review(context.Background(), "app/db.py", "security", repo)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, models.CategorySecurity, f.Category)
	assert.Equal(t, models.SeverityHigh, f.Severity)
	assert.Equal(t, "app/db.py", f.FilePath)
	assert.Equal(t, 2, f.Line)

	require.Len(t, gen.users, 1)
	prompt := gen.users[0]
	assert.Contains(t, prompt, "Analyze this Python file:\nPath: app/db.py (3 lines)")
	assert.Contains(t, prompt, "ANALYSIS FOCUS: SECURITY")
	assert.Contains(t, prompt, "injection risks")
	assert.Contains(t, prompt, "```python\n")
	assert.Contains(t, gen.systems[0], "maintainability")
}

func TestReview_KeepsUsableIssuesFromMixedReply(t *testing.T) {
	repo := setupRepo(t, map[string]string{"app/db.py": "import sqlite3\n"})
	reply := `{"issues":[
		{"category":"security","severity":"high","title":"SQL injection","line_number":2},
		{"category":"bug","severity":"HIGH","title":"Connection never closed"},
		{"category":"style"}
	]}`
	gen := &fakeGenerator{replies: []string{reply}}
	r := New(gen, nil, Config{})

	findings, err := r.Review(context.Background(), "app/db.py", "", repo)
	require.NoError(t, err)
	require.Len(t, findings, 2)

	assert.Equal(t, "SQL injection", findings[0].Title)
	assert.Equal(t, "Connection never closed", findings[1].Title)
	assert.Equal(t, models.CategoryMaintainability, findings[1].Category)
	assert.Equal(t, models.SeverityHigh, findings[1].Severity)
	for _, f := range findings {
		assert.Equal(t, "app/db.py", f.FilePath)
	}
}

func TestReviewUsesCache(t *testing.T) {
	repo := setupRepo(t, map[string]string{"a.go": "package a\n"})

	t.Run("persistent", func(t *testing.T) {
		gen := &fakeGenerator{replies: []string{oneIssue}}
		cache := &mapCache{data: map[string]string{}}
		r := New(gen, cache, Config{})

		_, err := r.Review(context.Background(), "a.go", "general", repo)
		require.NoError(t, err)
		findings, err := r.Review(context.Background(), "a.go", "general", repo)
		require.NoError(t, err)

		assert.Equal(t, 1, gen.calls)
		assert.Len(t, findings, 1)
		assert.Len(t, cache.data, 1)
		for k := range cache.data {
			assert.True(t, strings.HasPrefix(k, Name+"_"))
		}
	})

	t.Run("falls back to memory on cache errors", func(t *testing.T) {
		gen := &fakeGenerator{replies: []string{oneIssue}}
		cache := &mapCache{data: map[string]string{}, getErr: errors.New("db down"), setErr: errors.New("db down")}
		r := New(gen, cache, Config{})

		for i := 0; i < 2; i++ {
			_, err := r.Review(context.Background(), "a.go", "general", repo)
			require.NoError(t, err)
		}
		assert.Equal(t, 1, gen.calls)
		assert.Equal(t, 1, r.mem.len())
	})

	t.Run("unparseable replies are not cached", func(t *testing.T) {
		gen := &fakeGenerator{replies: []string{"I cannot help with that"}}
		r := New(gen, nil, Config{})

		for i := 0; i < 2; i++ {
			findings, err := r.Review(context.Background(), "a.go", "general", repo)
			require.NoError(t, err)
			assert.Empty(t, findings)
		}
		assert.Equal(t, 2, gen.calls)
	})

	t.Run("disabled", func(t *testing.T) {
		gen := &fakeGenerator{replies: []string{oneIssue}}
		r := New(gen, nil, Config{DisableCache: true})
		for i := 0; i < 2; i++ {
			_, err := r.Review(context.Background(), "a.go", "general", repo)
			require.NoError(t, err)
		}
		assert.Equal(t, 2, gen.calls)
	})
}

func TestReviewErrors(t *testing.T) {
	repo := setupRepo(t, map[string]string{"a.go": "package a\n"})

	gen := &fakeGenerator{}
	r := New(gen, nil, Config{})

	_, err := r.Review(context.Background(), "missing.go", "", repo)
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = r.Review(context.Background(), "../outside.go", "", repo)
	assert.ErrorIs(t, err, ErrOutsideRoot)

	_, err = r.Review(context.Background(), "/etc/passwd", "", repo)
	assert.ErrorIs(t, err, ErrOutsideRoot)
	assert.Zero(t, gen.calls)

	failing := New(&fakeGenerator{err: errors.New("rate limited")}, nil, Config{})
	_, err = failing.Review(context.Background(), "a.go", "", repo)
	assert.ErrorContains(t, err, "rate limited")
}

func TestReviewTruncates(t *testing.T) {
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	repo := setupRepo(t, map[string]string{
		"long.py": strings.Join(lines, "\n"),
		"big.py":  strings.Repeat("x", 64),
	})
	gen := &fakeGenerator{replies: []string{`{"issues": []}`}}
	r := New(gen, nil, Config{MaxLines: 5, MaxFileBytes: 32})

	_, err := r.Review(context.Background(), "big.py", "general", repo)
	require.NoError(t, err)
	assert.Contains(t, gen.users[0], strings.Repeat("x", 32)+"\n... [truncated]")
	assert.NotContains(t, gen.users[0], strings.Repeat("x", 33))

	lineLimited := New(gen, nil, Config{MaxLines: 5, DisableCache: true})
	_, err = lineLimited.Review(context.Background(), "long.py", "general", repo)
	require.NoError(t, err)
	last := gen.users[len(gen.users)-1]
	assert.Contains(t, last, "(20 lines)")
	assert.Contains(t, last, "line 4\n```")
	assert.NotContains(t, last, "line 5")
	assert.Contains(t, last, "[Note: File truncated to first 5 lines]")
}

func TestQuery(t *testing.T) {
	repo := setupRepo(t, map[string]string{"auth.ts": "export const secret = process.env.KEY\n"})
	gen := &fakeGenerator{replies: []string{"  It reads KEY from the environment.  "}}
	r := New(gen, nil, Config{})

	answer, err := r.Query(context.Background(), "auth.ts", "Where does the secret come from?", repo)
	require.NoError(t, err)
	assert.Equal(t, "It reads KEY from the environment.", answer)
	assert.Contains(t, gen.users[0], "based ONLY on the TypeScript file content")
	assert.Contains(t, gen.users[0], "QUESTION: Where does the secret come from?")
	assert.Contains(t, gen.users[0], "FILE: auth.ts")

	answer, err = r.Query(context.Background(), "nope.ts", "anything?", repo)
	require.NoError(t, err)
	assert.Equal(t, "File not found: nope.ts", answer)
	assert.Equal(t, 1, gen.calls)
}

func TestLanguage(t *testing.T) {
	assert.Equal(t, "Go", Language("cmd/main.go"))
	assert.Equal(t, "TypeScript/React", Language("App.TSX"))
	assert.Equal(t, "YAML", Language("ci.yml"))
	assert.Equal(t, "Unknown", Language("Makefile"))
}

func TestFocusInstructions(t *testing.T) {
	assert.Contains(t, FocusInstructions("performance"), "algorithm complexity")
	assert.Contains(t, FocusInstructions(" Testing "), "coverage gaps")
	assert.Equal(t, FocusInstructions("general"), FocusInstructions("bogus"))
}

func TestMemoryCache(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newMemoryCache(2)
	c.now = func() time.Time { return now }

	c.set("a", "1", time.Minute)
	c.set("b", "2", time.Minute)
	c.set("a", "1b", time.Minute)
	c.set("c", "3", time.Minute)

	_, ok := c.get("a")
	assert.False(t, ok, "oldest entry evicted")
	v, ok := c.get("b")
	assert.True(t, ok)
	assert.Equal(t, "2", v)
	assert.Equal(t, 2, c.len())

	now = now.Add(2 * time.Minute)
	_, ok = c.get("c")
	assert.False(t, ok, "expired")
}
