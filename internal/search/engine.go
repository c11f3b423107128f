package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"ferret/internal/embed"
	"ferret/internal/extract"
	"ferret/internal/fulltext"
	"ferret/internal/store"
	"ferret/internal/vectorindex"
)

// Search modes. Hybrid fuses both engines; the other two run one engine only.
const (
	ModeHybrid   = "hybrid"
	ModeSemantic = "semantic"
	ModeFulltext = "fulltext"
)

const (
	// rrfConstant dampens the influence of top ranks in reciprocal rank
	// fusion. 60 is the value from the original RRF paper.
	rrfConstant = 60

	// DefaultTopK is how many candidates each engine contributes to fusion.
	DefaultTopK = 50

	// DefaultLimit is the result count when the request does not set one.
	DefaultLimit = 10
)

// ErrBadMode reports an unrecognized search mode.
var ErrBadMode = errors.New("unknown search mode")

// Request is one search invocation. Query is plain text; voice and image
// inputs are converted to text by the caller before reaching the engine.
type Request struct {
	Query     string
	Mode      string
	Limit     int
	Threshold float64
	FileTypes []string
}

// Result is one matched file.
type Result struct {
	FileID      int64   `json:"file_id"`
	Path        string  `json:"path"`
	Name        string  `json:"name"`
	SizeBytes   int64   `json:"size_bytes"`
	ContentType string  `json:"content_type"`
	Score       float64 `json:"score"`
	MatchType   string  `json:"match_type"`
	Snippet     string  `json:"snippet,omitempty"`
	ModifiedAt  int64   `json:"modified_at"`
	IndexedAt   int64   `json:"indexed_at"`
}

// Response carries ranked results. Degraded is set when one engine of a
// hybrid search failed and the results come from the survivor alone.
type Response struct {
	Results  []Result `json:"results"`
	Total    int      `json:"total"`
	Degraded bool     `json:"degraded"`
}

// Engine runs hybrid search over the vector and full-text indexes, fusing
// with reciprocal rank fusion and enriching from the metadata store.
type Engine struct {
	store       *store.Store
	vectors     *vectorindex.Manager
	fulltext    *fulltext.Manager
	coordinator *embed.Coordinator
	cache       *Cache
	logger      *slog.Logger
	topK        int
}

// Option configures an Engine.
type Option func(*Engine)

// WithTopK sets the per-engine candidate depth for fusion.
func WithTopK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// WithCache attaches a query cache.
func WithCache(c *Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates a search engine over the two indexes and the metadata store.
func New(st *store.Store, vm *vectorindex.Manager, fm *fulltext.Manager, co *embed.Coordinator, opts ...Option) *Engine {
	e := &Engine{
		store:       st,
		vectors:     vm,
		fulltext:    fm,
		coordinator: co,
		logger:      slog.Default(),
		topK:        DefaultTopK,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// candidate is one file's standing in a single engine's ranking.
type candidate struct {
	fileID  int64
	rank    int // 1-based
	snippet string
}

// fused accumulates a file's contributions from both engines.
type fused struct {
	fileID   int64
	score    float64
	semantic bool
	fulltext bool
	snippet  string
}

// Search runs one query. In hybrid mode both engines run concurrently and a
// single-engine failure degrades the response instead of erroring; only both
// engines failing (or context cancellation) surfaces as an error.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	req = normalize(req)
	if req.Query == "" {
		return &Response{Results: []Result{}}, nil
	}

	if e.cache != nil {
		if resp, ok := e.cache.Get(cacheKey(req)); ok {
			return resp, nil
		}
	}

	var (
		vecHits []candidate
		ftsHits []candidate
		vecErr  error
		ftsErr  error
	)

	switch req.Mode {
	case ModeSemantic:
		vecHits, vecErr = e.semanticSearch(ctx, req.Query)
		if vecErr != nil {
			return nil, vecErr
		}
	case ModeFulltext:
		ftsHits, ftsErr = e.fulltextSearch(req.Query)
		if ftsErr != nil {
			return nil, ftsErr
		}
	case ModeHybrid:
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			vecHits, vecErr = e.semanticSearch(gctx, req.Query)
			return nil // a failed engine degrades, it does not cancel the peer
		})
		g.Go(func() error {
			ftsHits, ftsErr = e.fulltextSearch(req.Query)
			return nil
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if vecErr != nil && ftsErr != nil {
			return nil, errors.Join(vecErr, ftsErr)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadMode, req.Mode)
	}

	degraded := req.Mode == ModeHybrid && (vecErr != nil || ftsErr != nil)
	if degraded {
		err := vecErr
		engine := "semantic"
		if ftsErr != nil {
			err = ftsErr
			engine = "fulltext"
		}
		e.logger.Warn("search engine degraded", "engine", engine, "error", err)
	}

	results, err := e.assemble(fuse(vecHits, ftsHits), req)
	if err != nil {
		return nil, err
	}

	resp := &Response{Results: results, Total: len(results), Degraded: degraded}
	if e.cache != nil {
		e.cache.Put(cacheKey(req), resp)
	}
	return resp, nil
}

// semanticSearch embeds the query and collapses chunk-level vector hits to
// one per-file rank, keeping each file's best chunk.
func (e *Engine) semanticSearch(ctx context.Context, query string) ([]candidate, error) {
	vec, err := e.coordinator.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := e.vectors.Query(vec, e.topK)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	seen := make(map[int64]bool, len(hits))
	out := make([]candidate, 0, len(hits))
	for _, h := range hits {
		if seen[h.FileID] {
			continue
		}
		seen[h.FileID] = true
		out = append(out, candidate{fileID: h.FileID, rank: len(out) + 1})
	}
	return out, nil
}

func (e *Engine) fulltextSearch(query string) ([]candidate, error) {
	hits, err := e.fulltext.Query(query, e.topK)
	if err != nil {
		return nil, fmt.Errorf("fulltext query: %w", err)
	}
	out := make([]candidate, 0, len(hits))
	for i, h := range hits {
		out = append(out, candidate{fileID: h.FileID, rank: i + 1, snippet: h.Snippet})
	}
	return out, nil
}

// fuse merges per-engine rankings with reciprocal rank fusion:
// score(file) = Σ 1/(rank + 60) over the engines that returned it.
func fuse(vecHits, ftsHits []candidate) []fused {
	byFile := make(map[int64]*fused, len(vecHits)+len(ftsHits))
	for _, c := range vecHits {
		byFile[c.fileID] = &fused{
			fileID:   c.fileID,
			score:    1.0 / float64(c.rank+rrfConstant),
			semantic: true,
		}
	}
	for _, c := range ftsHits {
		f, ok := byFile[c.fileID]
		if !ok {
			f = &fused{fileID: c.fileID}
			byFile[c.fileID] = f
		}
		f.score += 1.0 / float64(c.rank+rrfConstant)
		f.fulltext = true
		f.snippet = c.snippet
	}

	out := make([]fused, 0, len(byFile))
	for _, f := range byFile {
		out = append(out, *f)
	}
	return out
}

// assemble enriches fused hits from the metadata store, applies the file-type
// filter and threshold, normalizes scores to 0..1, and sorts.
func (e *Engine) assemble(hits []fused, req Request) ([]Result, error) {
	kinds := make(map[string]bool, len(req.FileTypes))
	for _, t := range req.FileTypes {
		k := strings.ToLower(t)
		// "text" is accepted as an alias for the document kind.
		if k == "text" {
			k = extract.KindDocument
		}
		kinds[k] = true
	}

	var maxScore float64
	for _, h := range hits {
		if h.score > maxScore {
			maxScore = h.score
		}
	}

	results := make([]Result, 0, len(hits))
	mtimes := make(map[int64]int64, len(hits))
	for _, h := range hits {
		f, err := e.store.GetFile(h.fileID)
		if errors.Is(err, store.ErrNotFound) {
			// Deleted between index query and enrichment.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("enrich file %d: %w", h.fileID, err)
		}
		if len(kinds) > 0 && !kinds[extract.Kind(f.Path)] {
			continue
		}

		score := h.score / maxScore
		if score < req.Threshold {
			continue
		}

		matchType := ModeHybrid
		switch {
		case h.semantic && !h.fulltext:
			matchType = ModeSemantic
		case h.fulltext && !h.semantic:
			matchType = ModeFulltext
		}

		mtimes[f.ID] = f.ModifiedAt.Unix()
		results = append(results, Result{
			FileID:      f.ID,
			Path:        f.Path,
			Name:        filepath.Base(f.Path),
			SizeBytes:   f.SizeBytes,
			ContentType: f.ContentType,
			Score:       score,
			MatchType:   matchType,
			Snippet:     h.snippet,
			ModifiedAt:  f.ModifiedAt.Unix(),
			IndexedAt:   unixOrZero(f.IndexedAt),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if mtimes[results[i].FileID] != mtimes[results[j].FileID] {
			return mtimes[results[i].FileID] > mtimes[results[j].FileID]
		}
		return results[i].Path < results[j].Path
	})

	if len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func normalize(req Request) Request {
	req.Query = strings.TrimSpace(req.Query)
	if req.Mode == "" {
		req.Mode = ModeHybrid
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	return req
}

func cacheKey(req Request) string {
	return fmt.Sprintf("%s|%s|%d|%g|%s",
		strings.ToLower(req.Query), req.Mode, req.Limit, req.Threshold,
		strings.Join(req.FileTypes, ","))
}
