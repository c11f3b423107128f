package embed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ferret/internal/capability"
	"ferret/internal/chunker"
)

// Defaults for the coordinator. The batch size amortizes model-call overhead;
// retries cover transient capability failures.
const (
	DefaultBatchSize   = 32
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
)

// PassageError reports that one passage could not be embedded after retries.
// The rest of the batch is unaffected.
type PassageError struct {
	Ordinal int
	Err     error
}

func (e PassageError) Error() string {
	return fmt.Sprintf("embed passage %d: %v", e.Ordinal, e.Err)
}

func (e PassageError) Unwrap() error { return e.Err }

// Coordinator batches passages through the embedding capability. Re-embedding
// the same passage text yields a vector usable to overwrite the previous one.
type Coordinator struct {
	embedder    capability.Embedder
	batchSize   int
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBatchSize bounds how many passages go into one capability call.
func WithBatchSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithRetry sets the per-passage retry budget and base backoff delay.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(c *Coordinator) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if baseDelay > 0 {
			c.baseDelay = baseDelay
		}
	}
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator creates a coordinator over the given embedder.
func NewCoordinator(embedder capability.Embedder, opts ...Option) *Coordinator {
	c := &Coordinator{
		embedder:    embedder,
		batchSize:   DefaultBatchSize,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EmbedBatch embeds all passages and returns vectors aligned with the input:
// a failed passage leaves a nil vector at its position and contributes a
// PassageError. When a whole batch call fails, its items are retried
// individually with exponential backoff, so one bad passage does not fail the
// file. Only context cancellation aborts the run.
func (c *Coordinator) EmbedBatch(ctx context.Context, passages []chunker.Passage) ([][]float32, []PassageError, error) {
	vectors := make([][]float32, len(passages))
	var failed []PassageError

	for start := 0; start < len(passages); start += c.batchSize {
		end := start + c.batchSize
		if end > len(passages) {
			end = len(passages)
		}
		batch := passages[start:end]

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.Text
		}

		embs, err := c.embedder.Embed(ctx, texts)
		if err == nil {
			copy(vectors[start:end], embs)
			continue
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}

		c.logger.Debug("batch embed failed, retrying items individually",
			"batch_start", start, "batch_size", len(batch), "error", err)

		for i, p := range batch {
			vec, itemErr := c.embedOne(ctx, p.Text)
			if itemErr != nil {
				if ctx.Err() != nil {
					return nil, nil, ctx.Err()
				}
				failed = append(failed, PassageError{Ordinal: p.Ordinal, Err: itemErr})
				continue
			}
			vectors[start+i] = vec
		}
	}
	return vectors, failed, nil
}

// EmbedQuery embeds a single query text with the same retry policy.
func (c *Coordinator) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.embedOne(ctx, text)
}

func (c *Coordinator) embedOne(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	delay := c.baseDelay
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		vec, err := c.embedder.EmbedSingle(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if attempt == c.maxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return nil, lastErr
}
