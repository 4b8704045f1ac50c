package jobs

import (
	"context"
	"fmt"

	"imagedex/internal/storage"
)

// ImageEmbedder produces a unit-norm vector for an image file.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, path string) ([]float32, error)
}

// EmbeddingHandler fills embedding jobs by calling the embedding model
// and storing the resulting vector.
type EmbeddingHandler struct {
	jobs     storage.JobStore
	embedder ImageEmbedder
	model    string
	resolve  func(rel string) string
}

// NewEmbeddingHandler creates an EmbeddingHandler. resolve maps a
// stored (possibly root-relative) path to an absolute one.
func NewEmbeddingHandler(jobs storage.JobStore, embedder ImageEmbedder, model string, resolve func(string) string) *EmbeddingHandler {
	return &EmbeddingHandler{jobs: jobs, embedder: embedder, model: model, resolve: resolve}
}

// Kind returns the job kind this handler owns.
func (h *EmbeddingHandler) Kind() string {
	return storage.JobKindEmbedding
}

// Process embeds one image and stores the vector, marking the job
// ready.
func (h *EmbeddingHandler) Process(ctx context.Context, job storage.ClaimedJob) error {
	vector, err := h.embedder.EmbedImage(ctx, h.resolve(job.Path))
	if err != nil {
		return err
	}
	if len(vector) == 0 {
		return fmt.Errorf("model returned an empty vector")
	}
	if err := h.jobs.StoreVector(ctx, job.ImageID, h.model, storage.EncodeVector(vector)); err != nil {
		return fmt.Errorf("failed to store vector: %w", err)
	}
	return nil
}
