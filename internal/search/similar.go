package search

import (
	"context"
	"fmt"
	"math"
	"sort"

	"imagedex/internal/storage"
)

// TextEmbedder turns query text into unit-norm vectors in the same
// space as the stored image embeddings.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// SimilarRequest describes one nearest-neighbor query. Text anchors and
// image-id anchors may be mixed; negatives push results away.
type SimilarRequest struct {
	PositiveText []string
	NegativeText []string
	PositiveIDs  []int64
	NegativeIDs  []int64
	// RestrictIDs limits the scan to a tag query's result set. Nil means
	// unrestricted; an empty non-nil slice matches nothing.
	RestrictIDs []int64
	Limit       int
}

// Match is one scored similarity result.
type Match struct {
	ImageID int64   `json:"image_id"`
	Score   float64 `json:"score"`
}

// Similarity performs brute-force cosine search over the ready
// embedding vectors.
type Similarity struct {
	jobs     storage.JobStore
	embedder TextEmbedder
	model    string
}

// NewSimilarity creates a new Similarity scanner for one embedding
// model.
func NewSimilarity(jobs storage.JobStore, embedder TextEmbedder, model string) *Similarity {
	return &Similarity{jobs: jobs, embedder: embedder, model: model}
}

// Search combines the anchors into one unit query vector, scores every
// stored vector by dot product and returns the top matches descending.
// Vectors are unit-norm so the dot product is the cosine similarity.
func (s *Similarity) Search(ctx context.Context, req SimilarRequest) ([]Match, error) {
	var positives, negatives [][]float32

	appendTextAnchor := func(texts []string, dst *[][]float32) error {
		texts = nonEmpty(texts)
		if len(texts) == 0 {
			return nil
		}
		vectors, err := s.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed query text: %w", err)
		}
		if mean := meanVector(vectors); mean != nil {
			*dst = append(*dst, mean)
		}
		return nil
	}
	if err := appendTextAnchor(req.PositiveText, &positives); err != nil {
		return nil, err
	}
	if err := appendTextAnchor(req.NegativeText, &negatives); err != nil {
		return nil, err
	}

	appendImageAnchor := func(ids []int64, dst *[][]float32) error {
		var vectors [][]float32
		for _, id := range ids {
			blob, err := s.jobs.Vector(ctx, id, s.model)
			if err == storage.ErrNotFound {
				continue
			}
			if err != nil {
				return err
			}
			if vec := storage.DecodeVector(blob); vec != nil {
				vectors = append(vectors, vec)
			}
		}
		if mean := meanVector(vectors); mean != nil {
			*dst = append(*dst, mean)
		}
		return nil
	}
	if err := appendImageAnchor(req.PositiveIDs, &positives); err != nil {
		return nil, err
	}
	if err := appendImageAnchor(req.NegativeIDs, &negatives); err != nil {
		return nil, err
	}

	if len(positives) == 0 && len(negatives) == 0 {
		return nil, nil
	}

	query := combineAnchors(positives, negatives)
	if query == nil {
		return nil, nil
	}

	var allowed map[int64]bool
	if req.RestrictIDs != nil {
		allowed = make(map[int64]bool, len(req.RestrictIDs))
		for _, id := range req.RestrictIDs {
			allowed[id] = true
		}
	}

	var matches []Match
	err := s.jobs.ReadyVectors(ctx, s.model, func(imageID int64, blob []byte) error {
		if allowed != nil && !allowed[imageID] {
			return nil
		}
		vec := storage.DecodeVector(blob)
		if len(vec) != len(query) {
			return nil
		}
		matches = append(matches, Match{ImageID: imageID, Score: dot(query, vec)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ImageID < matches[j].ImageID
	})
	if req.Limit > 0 && len(matches) > req.Limit {
		matches = matches[:req.Limit]
	}
	return matches, nil
}

func nonEmpty(texts []string) []string {
	var out []string
	for _, t := range texts {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func meanVector(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	mean := make([]float32, dim)
	for _, vec := range vectors {
		if len(vec) != dim {
			return nil
		}
		for i, v := range vec {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float32(len(vectors))
	}
	return mean
}

// combineAnchors sums the positive anchors, subtracts the negatives and
// renormalizes. A zero or non-finite combination yields nil.
func combineAnchors(positives, negatives [][]float32) []float32 {
	dim := 0
	if len(positives) > 0 {
		dim = len(positives[0])
	} else if len(negatives) > 0 {
		dim = len(negatives[0])
	}
	if dim == 0 {
		return nil
	}
	combined := make([]float32, dim)
	for _, vec := range positives {
		if len(vec) != dim {
			return nil
		}
		for i, v := range vec {
			combined[i] += v
		}
	}
	for _, vec := range negatives {
		if len(vec) != dim {
			return nil
		}
		for i, v := range vec {
			combined[i] -= v
		}
	}

	var norm float64
	for _, v := range combined {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil
	}
	for i := range combined {
		combined[i] = float32(float64(combined[i]) / norm)
	}
	return combined
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
