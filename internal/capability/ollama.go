package capability

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// OllamaProvider implements Provider against an Ollama instance.
type OllamaProvider struct {
	baseURL     string
	embedModel  string
	audioModel  string
	visionModel string
	client      *http.Client
}

// NewOllamaProvider creates a provider targeting the given Ollama instance.
func NewOllamaProvider(baseURL, embedModel, audioModel, visionModel string) *OllamaProvider {
	return &OllamaProvider{
		baseURL:     baseURL,
		embedModel:  embedModel,
		audioModel:  audioModel,
		visionModel: visionModel,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (p *OllamaProvider) Embedder() Embedder       { return p }
func (p *OllamaProvider) Transcriber() Transcriber { return p }
func (p *OllamaProvider) Describer() Describer     { return p }
func (p *OllamaProvider) Close() error             { return nil }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed sends a batch of texts to Ollama and returns their embeddings.
// The returned slice has the same length and order as the input.
func (p *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var result embedResponse
	err := p.post(ctx, "/api/embed", embedRequest{Model: p.embedModel, Input: texts}, &result)
	if err != nil {
		return nil, err
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}
	return result.Embeddings, nil
}

// EmbedSingle embeds a single text and returns the embedding vector.
func (p *OllamaProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	results, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Transcribe sends an audio or video file to the audio model and returns the transcript.
func (p *OllamaProvider) Transcribe(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read audio %s: %w", path, err)
	}
	var result generateResponse
	err = p.post(ctx, "/api/generate", generateRequest{
		Model:  p.audioModel,
		Prompt: "Transcribe this audio verbatim.",
		Images: []string{base64.StdEncoding.EncodeToString(data)},
	}, &result)
	if err != nil {
		return "", err
	}
	return result.Response, nil
}

// Describe sends an image to the vision model and returns a textual description.
func (p *OllamaProvider) Describe(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", path, err)
	}
	var result generateResponse
	err = p.post(ctx, "/api/generate", generateRequest{
		Model:  p.visionModel,
		Prompt: "Describe the contents of this image in detail, including any visible text.",
		Images: []string{base64.StdEncoding.EncodeToString(data)},
	}, &result)
	if err != nil {
		return "", err
	}
	return result.Response, nil
}

func (p *OllamaProvider) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama %s returned %d: %s", path, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
