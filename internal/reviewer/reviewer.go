// Package reviewer is the LLM-backed single-file reviewer used by the
// orchestrator's analysis tools.
package reviewer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joescharf/cqi/internal/decode"
	"github.com/joescharf/cqi/internal/models"
	"github.com/joescharf/cqi/internal/schema"
)

// Name identifies the reviewer in cache keys.
const Name = "file_analysis_agent"

const (
	DefaultMaxFileBytes int64 = 1024 * 1024
	DefaultMaxLines           = 1000
	DefaultCacheTTL           = time.Hour
)

var (
	ErrFileNotFound = errors.New("file not found")
	ErrOutsideRoot  = errors.New("path escapes repository root")
)

// Generator produces a text completion for a system and user prompt.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Cache stores generated responses. Failures are logged and ignored.
type Cache interface {
	CacheGet(ctx context.Context, key string) (string, bool, error)
	CacheSet(ctx context.Context, key, value string, ttl time.Duration) error
}

// Config tunes file limits and caching.
type Config struct {
	MaxFileBytes int64
	MaxLines     int
	CacheTTL     time.Duration
	// DisableCache turns off both the persistent and the in-memory cache.
	DisableCache bool
	Logger       *slog.Logger
}

// Reviewer reviews and answers questions about individual files.
type Reviewer struct {
	gen    Generator
	cache  Cache
	mem    *memoryCache
	cfg    Config
	logger *slog.Logger
}

// New creates a reviewer. cache may be nil, in which case only the in-memory
// cache is used.
func New(gen Generator, cache Cache, cfg Config) *Reviewer {
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = DefaultMaxLines
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reviewer{
		gen:    gen,
		cache:  cache,
		mem:    newMemoryCache(100),
		cfg:    cfg,
		logger: logger,
	}
}

// Review asks the model for issues in one file.
func (r *Reviewer) Review(ctx context.Context, path, focus string, repo models.RepoContext) ([]models.Finding, error) {
	content, err := r.readFile(repo.Root, path)
	if err != nil {
		return nil, err
	}
	if focus == "" {
		focus = schema.DefaultFocus
	}

	user := buildReviewPrompt(path, content, focus, repo, r.cfg.MaxLines)
	shape := schema.AnalysisShape()
	system := reviewSystemPrompt(shape)

	raw, err := r.generate(ctx, system, user, func(text string) bool {
		_, stage := decode.Decode[schema.AnalysisResponse](text)
		return stage.Parsed()
	})
	if err != nil {
		return nil, fmt.Errorf("review %s: %w", path, err)
	}

	resp, stage := decode.Decode[schema.AnalysisResponse](raw)
	if !stage.Parsed() {
		r.logger.Warn("could not parse review response", "file", path, "stage", stage.String())
	}
	if resp.Dropped > 0 {
		r.logger.Warn("dropped unusable issues from review response", "file", path, "dropped", resp.Dropped)
	}
	findings := resp.Findings()
	for i := range findings {
		findings[i].FilePath = path
	}
	r.logger.Debug("file reviewed", "file", path, "focus", focus, "findings", len(findings), "stage", stage.String())
	return findings, nil
}

// Query answers question using only the content of one file. A missing file
// is reported in the answer rather than as an error.
func (r *Reviewer) Query(ctx context.Context, path, question string, repo models.RepoContext) (string, error) {
	content, err := r.readFile(repo.Root, path)
	if errors.Is(err, ErrFileNotFound) {
		return "File not found: " + path, nil
	}
	if err != nil {
		return "", err
	}

	user := buildQueryPrompt(path, content, question, r.cfg.MaxLines)
	answer, err := r.generate(ctx, querySystemPrompt, user, func(text string) bool {
		return strings.TrimSpace(text) != ""
	})
	if err != nil {
		return "", fmt.Errorf("query %s: %w", path, err)
	}
	return strings.TrimSpace(answer), nil
}

func (r *Reviewer) readFile(root, path string) (string, error) {
	full, err := resolve(root, path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(full)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if int64(len(data)) > r.cfg.MaxFileBytes {
		r.logger.Warn("file too large, truncating", "file", path, "size", len(data))
		return string(data[:r.cfg.MaxFileBytes]) + "\n... [truncated]", nil
	}
	return string(data), nil
}

// resolve joins path onto root and rejects paths that leave root.
func resolve(root, path string) (string, error) {
	if root == "" {
		root = "."
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return filepath.Join(root, clean), nil
}

// generate returns a cached response when one exists, otherwise calls the
// model and caches responses that pass keep.
func (r *Reviewer) generate(ctx context.Context, system, user string, keep func(string) bool) (string, error) {
	key := cacheKey(system, user)
	if !r.cfg.DisableCache {
		if cached, ok := r.cacheGet(ctx, key); ok {
			r.logger.Debug("using cached response", "agent", Name)
			return cached, nil
		}
	}

	text, err := r.gen.Generate(ctx, system, user)
	if err != nil {
		return "", err
	}
	if !r.cfg.DisableCache && keep(text) {
		r.cacheSet(ctx, key, text)
	}
	return text, nil
}

func (r *Reviewer) cacheGet(ctx context.Context, key string) (string, bool) {
	if r.cache != nil {
		v, ok, err := r.cache.CacheGet(ctx, key)
		if err != nil {
			r.logger.Warn("cache get failed", "error", err)
		} else if ok {
			return v, true
		}
	}
	return r.mem.get(key)
}

func (r *Reviewer) cacheSet(ctx context.Context, key, value string) {
	if r.cache != nil {
		err := r.cache.CacheSet(ctx, key, value, r.cfg.CacheTTL)
		if err == nil {
			return
		}
		r.logger.Warn("cache set failed", "error", err)
	}
	r.mem.set(key, value, r.cfg.CacheTTL)
}

func cacheKey(system, user string) string {
	sum := sha256.Sum256([]byte(system + "\x00" + user))
	return Name + "_" + hex.EncodeToString(sum[:])
}
