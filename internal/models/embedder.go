package models

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
)

// EmbeddingClient is a client for a CLIP-style embedding server that
// maps text and images into one shared vector space.
type EmbeddingClient struct {
	BaseURL      string
	Model        string
	ExpectedSize int // Expected vector size for validation
	client       *http.Client
}

// NewEmbeddingClient creates a new embedding client. expectedSize is
// the vector dimensionality of the model; every returned embedding is
// validated against it.
func NewEmbeddingClient(baseURL, model string, expectedSize int) *EmbeddingClient {
	return &EmbeddingClient{
		BaseURL:      baseURL,
		Model:        model,
		ExpectedSize: expectedSize,
		client:       http.DefaultClient,
	}
}

// TextEmbeddingsRequest represents the request payload for text embeddings.
type TextEmbeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbeddingData represents a single embedding in the response.
type EmbeddingData struct {
	Embedding []float64 `json:"embedding"`
}

// EmbeddingsResponse represents the response from the embeddings API.
type EmbeddingsResponse struct {
	Data []EmbeddingData `json:"data"`
}

// ImageEmbeddingRequest represents the request payload for an image
// embedding.
type ImageEmbeddingRequest struct {
	Model    string `json:"model"`
	ImageB64 string `json:"image_b64"`
}

// EmbedTexts generates unit-norm embeddings for the given texts, one
// vector per input.
func (c *EmbeddingClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("empty input array")
	}

	payload := TextEmbeddingsRequest{Model: c.Model, Input: texts}
	var embeddingsResp EmbeddingsResponse
	if err := c.post(ctx, "/v1/embeddings", payload, &embeddingsResp); err != nil {
		return nil, err
	}

	if len(embeddingsResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(embeddingsResp.Data))
	}

	result := make([][]float32, len(embeddingsResp.Data))
	for i, data := range embeddingsResp.Data {
		vec, err := c.toVector(data.Embedding)
		if err != nil {
			return nil, fmt.Errorf("embedding %d: %w", i, err)
		}
		result[i] = vec
	}
	return result, nil
}

// EmbedImage generates a unit-norm embedding for the image file at
// path.
func (c *EmbeddingClient) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	payload := ImageEmbeddingRequest{
		Model:    c.Model,
		ImageB64: base64.StdEncoding.EncodeToString(raw),
	}
	var resp EmbeddingData
	if err := c.post(ctx, "/v1/embeddings/image", payload, &resp); err != nil {
		return nil, err
	}
	return c.toVector(resp.Embedding)
}

func (c *EmbeddingClient) post(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+endpoint, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: bad status %d: %s", ErrUnavailable, resp.StatusCode, string(raw))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *EmbeddingClient) toVector(embedding []float64) ([]float32, error) {
	if c.ExpectedSize > 0 && len(embedding) != c.ExpectedSize {
		return nil, fmt.Errorf("embedding has size %d, expected %d", len(embedding), c.ExpectedSize)
	}
	vec := make([]float32, len(embedding))
	for i, v := range embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
