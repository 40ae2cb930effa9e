package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/cqi/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- Sessions ---

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateSession(ctx, "/repo")
	require.NoError(t, err)
	assert.Len(t, id, 26)

	sess, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "/repo", sess.Owner)
	assert.Equal(t, 0, sess.MessageCount)
	assert.False(t, sess.CreatedAt.IsZero())

	require.NoError(t, s.AppendMessage(ctx, id, models.RoleHuman, "what does main do?"))
	require.NoError(t, s.AppendMessage(ctx, id, models.RoleAI, "it starts the server"))

	sess, err = s.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, sess.MessageCount)

	msgs, err := s.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleHuman, msgs[0].Role)
	assert.Equal(t, "it starts the server", msgs[1].Content)

	list, err := s.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	require.NoError(t, s.DeleteSession(ctx, id))
	_, err = s.GetSession(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	msgs, err = s.ListMessages(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, msgs, "messages cascade with their session")

	assert.ErrorIs(t, s.DeleteSession(ctx, id), ErrNotFound)
}

func TestRecentMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateSession(ctx, "")
	require.NoError(t, err)
	for _, c := range []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7"} {
		require.NoError(t, s.AppendMessage(ctx, id, models.RoleHuman, c))
	}

	recent, err := s.RecentMessages(ctx, id, 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	assert.Equal(t, "m3", recent[0].Content)
	assert.Equal(t, "m7", recent[4].Content)

	none, err := s.RecentMessages(ctx, id, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAppendMessage_UnknownSession(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendMessage(context.Background(), "missing", models.RoleAI, "hello")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSessions_Limit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.CreateSession(ctx, "owner")
		require.NoError(t, err)
	}
	list, err := s.ListSessions(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

// --- Cache ---

func TestCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, ok, err := s.CacheGet(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.CacheSet(ctx, "k", "v1", time.Hour))
	require.NoError(t, s.CacheSet(ctx, "k", "v2", time.Hour))
	require.NoError(t, s.CacheSet(ctx, "short", "x", time.Minute))

	got, ok, err := s.CacheGet(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", got)

	now = now.Add(10 * time.Minute)
	_, ok, err = s.CacheGet(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok, "expired entries are not returned")

	st, err := s.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, CacheStats{Entries: 2, Expired: 1}, st)

	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.CacheClear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// --- Code index ---

func TestCodeIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	has, err := s.HasIndex(ctx, "/repo")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = s.GetIndexInfo(ctx, "/repo")
	assert.ErrorIs(t, err, ErrNotFound)

	chunks := []Chunk{
		{FilePath: "auth/login.py", StartLine: 1, EndLine: 20, Content: "def login(user, password):\n    token = issue_token(user)\n    return token"},
		{FilePath: "db/query.py", StartLine: 1, EndLine: 10, Content: "def run_query(sql):\n    cursor.execute(sql)"},
		{FilePath: "db/query.py", StartLine: 11, EndLine: 20, Content: "def close():\n    conn.close()"},
	}
	require.NoError(t, s.ReplaceIndex(ctx, "/repo", chunks))
	require.NoError(t, s.ReplaceIndex(ctx, "/other", chunks[:1]))

	info, err := s.GetIndexInfo(ctx, "/repo")
	require.NoError(t, err)
	assert.Equal(t, 2, info.FileCount)
	assert.Equal(t, 3, info.ChunkCount)

	has, err = s.HasIndex(ctx, "/repo")
	require.NoError(t, err)
	assert.True(t, has)

	hits, err := s.SearchIndex(ctx, "/repo", "where is the login token issued?", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "auth/login.py", hits[0].FilePath)
	assert.Equal(t, 1, hits[0].StartLine)
	assert.Contains(t, hits[0].Snippet, "issue_token")

	// Re-indexing replaces rather than appends.
	require.NoError(t, s.ReplaceIndex(ctx, "/repo", chunks[1:]))
	hits, err = s.SearchIndex(ctx, "/repo", "login", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.SearchIndex(ctx, "/other", "login", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = s.SearchIndex(ctx, "/repo", "?! -", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFTSQuery(t *testing.T) {
	assert.Equal(t, `"where" OR "is" OR "auth_token"`, ftsQuery("Where is auth_token? is"))
	assert.Equal(t, "", ftsQuery("a ! ?"))
}
