package embed

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ferret/internal/capability"
	"ferret/internal/chunker"
)

func passages(texts ...string) []chunker.Passage {
	out := make([]chunker.Passage, len(texts))
	for i, t := range texts {
		out[i] = chunker.Passage{Ordinal: i, Text: t}
	}
	return out
}

func TestEmbedBatchHappyPath(t *testing.T) {
	stub := capability.NewStubProvider()
	c := NewCoordinator(stub)

	vectors, failed, err := c.EmbedBatch(context.Background(), passages("one", "two", "three"))
	require.NoError(t, err)
	assert.Empty(t, failed)
	require.Len(t, vectors, 3)
	for _, v := range vectors {
		assert.Len(t, v, capability.StubDim)
	}
}

func TestEmbedBatchSplitsLargeInput(t *testing.T) {
	var calls int
	stub := capability.NewStubProvider()
	stub.EmbedFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		calls++
		assert.LessOrEqual(t, len(texts), 2)
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = []float32{1}
		}
		return out, nil
	}

	c := NewCoordinator(stub, WithBatchSize(2))
	vectors, failed, err := c.EmbedBatch(context.Background(), passages("a", "b", "c", "d", "e"))
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.Len(t, vectors, 5)
	assert.Equal(t, 3, calls)
}

func TestEmbedBatchRetriesItemsIndividually(t *testing.T) {
	stub := capability.NewStubProvider()
	stub.EmbedFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		if len(texts) > 1 {
			return nil, errors.New("batch too hot")
		}
		if strings.Contains(texts[0], "poison") {
			return nil, errors.New("bad passage")
		}
		return [][]float32{{1, 2}}, nil
	}

	c := NewCoordinator(stub, WithRetry(2, time.Millisecond))
	vectors, failed, err := c.EmbedBatch(context.Background(), passages("good", "poison pill", "also good"))
	require.NoError(t, err)

	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].Ordinal)

	require.Len(t, vectors, 3)
	assert.NotNil(t, vectors[0])
	assert.Nil(t, vectors[1])
	assert.NotNil(t, vectors[2])
}

func TestEmbedBatchIdempotent(t *testing.T) {
	stub := capability.NewStubProvider()
	c := NewCoordinator(stub)

	first, _, err := c.EmbedBatch(context.Background(), passages("same text"))
	require.NoError(t, err)
	second, _, err := c.EmbedBatch(context.Background(), passages("same text"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEmbedBatchContextCancellation(t *testing.T) {
	stub := capability.NewStubProvider()
	stub.EmbedFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewCoordinator(stub)
	_, _, err := c.EmbedBatch(ctx, passages("a"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmbedQueryRetriesTransientFailure(t *testing.T) {
	var attempts int
	stub := capability.NewStubProvider()
	stub.EmbedFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return [][]float32{{0.5}}, nil
	}

	c := NewCoordinator(stub, WithRetry(3, time.Millisecond))
	vec, err := c.EmbedQuery(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5}, vec)
	assert.Equal(t, 3, attempts)
}
