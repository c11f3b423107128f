package capability

import (
	"context"
	"hash/fnv"
	"sync/atomic"
)

// StubDim is the embedding dimension produced by StubProvider.
const StubDim = 768

// StubProvider is a deterministic in-process Provider for tests and offline use.
// Behavior can be overridden per call via the function fields.
type StubProvider struct {
	EmbedFunc      func(ctx context.Context, texts []string) ([][]float32, error)
	TranscribeFunc func(ctx context.Context, path string) (string, error)
	DescribeFunc   func(ctx context.Context, path string) (string, error)

	embedCalls atomic.Int64
}

// NewStubProvider creates a stub with default deterministic behavior.
func NewStubProvider() *StubProvider {
	return &StubProvider{}
}

func (s *StubProvider) Embedder() Embedder       { return s }
func (s *StubProvider) Transcriber() Transcriber { return s }
func (s *StubProvider) Describer() Describer     { return s }
func (s *StubProvider) Close() error             { return nil }

// EmbedCalls returns how many times Embed or EmbedSingle was invoked.
func (s *StubProvider) EmbedCalls() int { return int(s.embedCalls.Load()) }

// Embed returns one deterministic vector per input text. The same text always
// produces the same vector, so idempotence tests can compare outputs directly.
func (s *StubProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.embedCalls.Add(1)
	if s.EmbedFunc != nil {
		return s.EmbedFunc(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = deterministicVector(t, StubDim)
	}
	return out, nil
}

func (s *StubProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *StubProvider) Transcribe(ctx context.Context, path string) (string, error) {
	if s.TranscribeFunc != nil {
		return s.TranscribeFunc(ctx, path)
	}
	return "", nil
}

func (s *StubProvider) Describe(ctx context.Context, path string) (string, error) {
	if s.DescribeFunc != nil {
		return s.DescribeFunc(ctx, path)
	}
	return "", nil
}

// deterministicVector seeds a small LCG from the FNV hash of the text.
func deterministicVector(text string, dim int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vec := make([]float32, dim)
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%1000)/500.0 - 1.0
	}
	return vec
}
