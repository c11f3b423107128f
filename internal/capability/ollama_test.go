package capability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaEmbedBatch(t *testing.T) {
	var got embedRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float32{{0.1, 0.2}, {0.3, 0.4}},
		})
	}))
	defer ts.Close()

	p := NewOllamaProvider(ts.URL, "nomic-embed-text", "whisper", "llava")
	vecs, err := p.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)

	assert.Equal(t, "nomic-embed-text", got.Model)
	assert.Equal(t, []string{"first", "second"}, got.Input)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{0.3, 0.4}, vecs[1])
}

func TestOllamaEmbedCountMismatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0.1}}})
	}))
	defer ts.Close()

	p := NewOllamaProvider(ts.URL, "m", "a", "v")
	_, err := p.Embed(context.Background(), []string{"one", "two"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 2 embeddings")
}

func TestOllamaEmbedEmptyInput(t *testing.T) {
	p := NewOllamaProvider("http://unreachable.invalid", "m", "a", "v")
	vecs, err := p.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestOllamaTranscribeSendsEncodedMedia(t *testing.T) {
	var got generateRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(generateResponse{Response: "hello from the recording"})
	}))
	defer ts.Close()

	clip := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(clip, []byte("RIFFfake"), 0o644))

	p := NewOllamaProvider(ts.URL, "m", "whisper", "llava")
	text, err := p.Transcribe(context.Background(), clip)
	require.NoError(t, err)

	assert.Equal(t, "hello from the recording", text)
	assert.Equal(t, "whisper", got.Model)
	require.Len(t, got.Images, 1)
	assert.False(t, got.Stream)
}

func TestOllamaErrorStatusSurfaced(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer ts.Close()

	p := NewOllamaProvider(ts.URL, "m", "a", "v")
	_, err := p.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestStubDeterministicVectors(t *testing.T) {
	s := NewStubProvider()
	a, err := s.Embed(context.Background(), []string{"same text", "same text", "other"})
	require.NoError(t, err)
	require.Len(t, a, 3)
	assert.Equal(t, a[0], a[1], "identical inputs embed identically")
	assert.NotEqual(t, a[0], a[2])
	assert.Len(t, a[0], StubDim)
	assert.Equal(t, 1, s.EmbedCalls())
}
