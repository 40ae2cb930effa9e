package store

import (
	"context"
	"errors"
	"time"

	"github.com/joescharf/cqi/internal/models"
)

// ErrNotFound is returned when a session or index does not exist.
var ErrNotFound = errors.New("not found")

// Chunk is one indexed slice of a source file.
type Chunk struct {
	FilePath  string
	StartLine int
	EndLine   int
	Content   string
}

// IndexInfo describes the search index of one repository root.
type IndexInfo struct {
	Root       string    `json:"root"`
	FileCount  int       `json:"file_count"`
	ChunkCount int       `json:"chunk_count"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// CacheStats summarizes the response cache.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Expired int64 `json:"expired"`
}

// Store defines the persistence interface for cqi.
type Store interface {
	// Chat sessions
	CreateSession(ctx context.Context, owner string) (string, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, limit int) ([]*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	AppendMessage(ctx context.Context, sessionID string, role models.MessageRole, content string) error
	RecentMessages(ctx context.Context, sessionID string, n int) ([]*models.Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error)

	// Response cache
	CacheGet(ctx context.Context, key string) (string, bool, error)
	CacheSet(ctx context.Context, key, value string, ttl time.Duration) error
	CacheStats(ctx context.Context) (CacheStats, error)
	CacheClear(ctx context.Context) (int64, error)
	PurgeExpired(ctx context.Context) (int64, error)

	// Code search index
	ReplaceIndex(ctx context.Context, root string, chunks []Chunk) error
	GetIndexInfo(ctx context.Context, root string) (*IndexInfo, error)
	HasIndex(ctx context.Context, root string) (bool, error)
	SearchIndex(ctx context.Context, root, query string, limit int) ([]models.SearchHit, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
