// Package search builds and queries the full-text code index that backs the
// query_codebase tool.
package search

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joescharf/cqi/internal/models"
	"github.com/joescharf/cqi/internal/repotree"
	"github.com/joescharf/cqi/internal/store"
)

// DefaultChunkLines is the number of lines per indexed chunk.
const DefaultChunkLines = 60

// maxIndexedFileBytes skips files too large to be useful search results.
const maxIndexedFileBytes = 512 * 1024

// Index is the subset of the store used for indexing and search.
type Index interface {
	ReplaceIndex(ctx context.Context, root string, chunks []store.Chunk) error
	GetIndexInfo(ctx context.Context, root string) (*store.IndexInfo, error)
	HasIndex(ctx context.Context, root string) (bool, error)
	SearchIndex(ctx context.Context, root, query string, limit int) ([]models.SearchHit, error)
}

// Indexer chunks repository files into the index.
type Indexer struct {
	idx        Index
	chunkLines int
	logger     *slog.Logger
}

// NewIndexer creates an indexer. chunkLines <= 0 uses DefaultChunkLines.
func NewIndexer(idx Index, chunkLines int, logger *slog.Logger) *Indexer {
	if chunkLines <= 0 {
		chunkLines = DefaultChunkLines
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{idx: idx, chunkLines: chunkLines, logger: logger}
}

// Index replaces the index for tree.Root with chunks of every text file in tree.
func (ix *Indexer) Index(ctx context.Context, tree *repotree.Tree) (*store.IndexInfo, error) {
	var chunks []store.Chunk
	for _, f := range tree.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.Size > maxIndexedFileBytes {
			ix.logger.Debug("skipping large file", "path", f.Path, "size", f.Size)
			continue
		}
		data, err := os.ReadFile(filepath.Join(tree.Root, filepath.FromSlash(f.Path)))
		if err != nil {
			ix.logger.Warn("could not read file for indexing", "path", f.Path, "error", err)
			continue
		}
		if bytes.IndexByte(data, 0) >= 0 {
			continue
		}
		chunks = append(chunks, Chunk(f.Path, string(data), ix.chunkLines)...)
	}

	if err := ix.idx.ReplaceIndex(ctx, tree.Root, chunks); err != nil {
		return nil, fmt.Errorf("replace index: %w", err)
	}
	info, err := ix.idx.GetIndexInfo(ctx, tree.Root)
	if err != nil {
		return nil, fmt.Errorf("read index info: %w", err)
	}
	ix.logger.Info("indexed repository", "root", tree.Root, "files", info.FileCount, "chunks", info.ChunkCount)
	return info, nil
}

// Chunk splits content into consecutive windows of n lines. Blank windows are dropped.
func Chunk(path, content string, n int) []store.Chunk {
	if n <= 0 {
		n = DefaultChunkLines
	}
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	var out []store.Chunk
	for start := 0; start < len(lines); start += n {
		end := min(start+n, len(lines))
		body := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(body) == "" {
			continue
		}
		out = append(out, store.Chunk{
			FilePath:  path,
			StartLine: start + 1,
			EndLine:   end,
			Content:   body,
		})
	}
	return out
}

// Searcher answers codebase queries for one repository root.
type Searcher struct {
	idx  Index
	root string
}

// NewSearcher binds idx to root.
func NewSearcher(idx Index, root string) *Searcher {
	return &Searcher{idx: idx, root: root}
}

// Available reports whether root has been indexed. Errors count as unavailable.
func (s *Searcher) Available(ctx context.Context) bool {
	ok, err := s.idx.HasIndex(ctx, s.root)
	if err != nil {
		slog.Warn("could not check search index", "root", s.root, "error", err)
		return false
	}
	return ok
}

// Search returns the best matching chunks for query.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]models.SearchHit, error) {
	hits, err := s.idx.SearchIndex(ctx, s.root, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.root, err)
	}
	return hits, nil
}
