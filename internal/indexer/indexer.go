package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"ferret/internal/chunker"
	"ferret/internal/embed"
	"ferret/internal/extract"
	"ferret/internal/fulltext"
	"ferret/internal/store"
	"ferret/internal/vectorindex"
	"ferret/internal/walker"
)

// ErrNoText indicates extraction produced nothing to index.
var ErrNoText = errors.New("no extractable text")

// ErrAllPassagesFailed indicates the embedding capability rejected every
// passage of a file even after per-passage retries.
var ErrAllPassagesFailed = errors.New("embedding failed for all passages")

// Indexer runs the per-file pipeline: extract, chunk, embed, write both
// indexes, flip metadata status. The scheduler's workers drive it.
type Indexer struct {
	store       *store.Store
	vectors     *vectorindex.Manager
	fulltext    *fulltext.Manager
	extractor   *extract.Extractor
	chunker     *chunker.Chunker
	coordinator *embed.Coordinator
	logger      *slog.Logger
}

// New wires an indexer over the given components.
func New(
	s *store.Store,
	vectors *vectorindex.Manager,
	ft *fulltext.Manager,
	extractor *extract.Extractor,
	ch *chunker.Chunker,
	coordinator *embed.Coordinator,
	logger *slog.Logger,
) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		store:       s,
		vectors:     vectors,
		fulltext:    ft,
		extractor:   extractor,
		chunker:     ch,
		coordinator: coordinator,
		logger:      logger,
	}
}

// Result reports what IndexFile did with one file.
type Result struct {
	FileID  int64
	Chunks  int
	Skipped bool
}

// IndexFile indexes one discovered file. A file whose content hash is
// unchanged since the last successful run is skipped without re-chunking or
// re-embedding. The metadata status flips to indexed only after both index
// writes succeed; the full-text write goes first, so a reader observing
// indexed always finds the file in at least the full-text index.
func (ix *Indexer) IndexFile(ctx context.Context, dirID int64, fi walker.FileInfo) (*Result, error) {
	hash, err := hashFile(fi.Path)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", fi.Path, err)
	}

	existing, err := ix.store.GetFileByPath(fi.Path)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.Hash == hash && existing.Status == store.FileStatusIndexed {
		return &Result{FileID: existing.ID, Skipped: true}, nil
	}

	fileID, err := ix.store.UpsertFile(store.FileRecord{
		DirectoryID: dirID,
		Path:        fi.Path,
		Hash:        hash,
		SizeBytes:   fi.Size,
		ContentType: extract.ContentType(fi.Path),
		Status:      store.FileStatusIndexing,
		ModifiedAt:  fi.ModTime,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert file %s: %w", fi.Path, err)
	}

	res, err := ix.indexContent(ctx, fileID, fi)
	if err != nil {
		msg := err.Error()
		if ctx.Err() != nil {
			msg = "stopped by user"
		}
		if serr := ix.store.SetFileStatus(fileID, store.FileStatusIndexing, store.FileStatusFailed, msg); serr != nil {
			ix.logger.Warn("failed to mark file failed", "path", fi.Path, "error", serr)
		}
		return nil, err
	}

	if err := ix.store.SetFileStatus(fileID, store.FileStatusIndexing, store.FileStatusIndexed, ""); err != nil {
		return nil, fmt.Errorf("mark indexed %s: %w", fi.Path, err)
	}
	return res, nil
}

func (ix *Indexer) indexContent(ctx context.Context, fileID int64, fi walker.FileInfo) (*Result, error) {
	text, err := ix.extractor.Extract(ctx, fi.Path)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, fmt.Errorf("%s: %w", fi.Path, ErrNoText)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	passages := ix.chunker.Chunk(text)

	vectors, failed, err := ix.coordinator.EmbedBatch(ctx, passages)
	if err != nil {
		return nil, err
	}
	for _, pe := range failed {
		ix.logger.Warn("passage embedding failed", "path", fi.Path, "ordinal", pe.Ordinal, "error", pe.Err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Keep only the passages that embedded.
	var kept []chunker.Passage
	var keptVectors [][]float32
	for i, v := range vectors {
		if v != nil {
			kept = append(kept, passages[i])
			keptVectors = append(keptVectors, v)
		}
	}
	if len(kept) == 0 && len(passages) > 0 {
		return nil, fmt.Errorf("%s: %w", fi.Path, ErrAllPassagesFailed)
	}

	// Full-text first: a file observed as indexed is always findable there.
	if err := ix.fulltext.AddOrUpdate(fileID, text); err != nil {
		return nil, err
	}

	// Old vectors must go before the mappings do, because removal resolves
	// vector ids through chunk_map.
	if err := ix.vectors.RemoveByFile(fileID); err != nil {
		return nil, err
	}

	mappings := make([]store.ChunkMapping, len(kept))
	for i, p := range kept {
		mappings[i] = store.ChunkMapping{
			Ordinal:     p.Ordinal,
			StartOffset: p.Start,
			EndOffset:   p.End,
			Content:     p.Text,
		}
	}
	ids, err := ix.store.ReplaceChunkMappings(fileID, mappings)
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		mappings[i].ID = id
	}

	if err := ix.vectors.Add(mappings, keptVectors); err != nil {
		return nil, err
	}

	return &Result{FileID: fileID, Chunks: len(mappings)}, nil
}

// RemoveFile deletes the file from both indexes and the metadata store.
// Index entries go first; the chunk_map rows must still exist when the
// vector delete resolves ids through them.
func (ix *Indexer) RemoveFile(fileID int64) error {
	if err := ix.fulltext.RemoveByFile(fileID); err != nil {
		return err
	}
	if err := ix.vectors.RemoveByFile(fileID); err != nil {
		return err
	}
	return ix.store.DeleteFile(fileID)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
