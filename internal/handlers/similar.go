package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"imagedex/internal/contextutil"
	"imagedex/internal/models"
	"imagedex/internal/search"
	"imagedex/internal/storage"
)

// SimilaritySearcher runs embedding-space searches.
type SimilaritySearcher interface {
	Search(ctx context.Context, req search.SimilarRequest) ([]search.Match, error)
}

// IDMatcher narrows a similarity search to a tag query's result set.
type IDMatcher interface {
	MatchedIDs(ctx context.Context, tokens []search.Token) ([]int64, error)
}

// SimilarHandler handles embedding similarity queries.
type SimilarHandler struct {
	similarity SimilaritySearcher
	matcher    IDMatcher
	images     storage.ImageStore
}

// NewSimilarHandler creates a SimilarHandler.
func NewSimilarHandler(similarity SimilaritySearcher, matcher IDMatcher, images storage.ImageStore) *SimilarHandler {
	return &SimilarHandler{similarity: similarity, matcher: matcher, images: images}
}

// SimilarRequest is the HTTP payload for similarity queries. Query,
// when set, restricts candidates to that tag query's matches.
type SimilarRequest struct {
	PositiveText []string `json:"positive_text,omitempty"`
	NegativeText []string `json:"negative_text,omitempty"`
	PositiveIDs  []int64  `json:"positive_ids,omitempty"`
	NegativeIDs  []int64  `json:"negative_ids,omitempty"`
	Query        string   `json:"query,omitempty"`
	Limit        int      `json:"limit,omitempty"`
}

// SimilarMatch is one scored result.
type SimilarMatch struct {
	Score float64       `json:"score"`
	Image ImageResponse `json:"image"`
}

// SimilarResponse wraps the scored matches.
type SimilarResponse struct {
	Matches []SimilarMatch `json:"matches"`
}

// ServeHTTP answers POST /api/similar.
func (h *SimilarHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req SimilarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.PositiveText) == 0 && len(req.NegativeText) == 0 &&
		len(req.PositiveIDs) == 0 && len(req.NegativeIDs) == 0 {
		writeError(w, http.StatusBadRequest, "At least one anchor is required")
		return
	}
	if req.Limit <= 0 || req.Limit > maxPageSize {
		req.Limit = defaultPageSize
	}

	searchReq := search.SimilarRequest{
		PositiveText: req.PositiveText,
		NegativeText: req.NegativeText,
		PositiveIDs:  req.PositiveIDs,
		NegativeIDs:  req.NegativeIDs,
		Limit:        req.Limit,
	}
	if req.Query != "" {
		ids, err := h.matcher.MatchedIDs(ctx, search.ParseQuery(req.Query))
		if err != nil {
			logger.ErrorContext(ctx, "failed to resolve restriction query", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to resolve query")
			return
		}
		if ids == nil {
			ids = []int64{}
		}
		searchReq.RestrictIDs = ids
	}

	matches, err := h.similarity.Search(ctx, searchReq)
	if err != nil {
		if errors.Is(err, models.ErrUnavailable) {
			writeError(w, http.StatusBadGateway, "Embedding model unavailable")
			return
		}
		logger.ErrorContext(ctx, "similarity search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Similarity search failed")
		return
	}

	out := make([]SimilarMatch, 0, len(matches))
	for _, match := range matches {
		img, err := h.images.GetByID(ctx, match.ImageID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			logger.ErrorContext(ctx, "failed to load matched image", "image_id", match.ImageID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to load results")
			return
		}
		out = append(out, SimilarMatch{Score: match.Score, Image: imageResponse(img)})
	}
	writeJSON(w, http.StatusOK, SimilarResponse{Matches: out})
}
