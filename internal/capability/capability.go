package capability

import "context"

// Embedder turns text into a vector usable for similarity search.
// Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed sends a batch of texts and returns their embeddings in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedSingle embeds one text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
}

// Transcriber converts audio or video content into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Describer produces a textual description of an image.
type Describer interface {
	Describe(ctx context.Context, path string) (string, error)
}

// Provider aggregates the external model capabilities the engine consumes.
// The engine never depends on a concrete model backend, only on this contract.
type Provider interface {
	Embedder() Embedder
	Transcriber() Transcriber
	Describer() Describer
	Close() error
}
