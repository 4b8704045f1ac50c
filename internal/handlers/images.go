package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"imagedex/internal/contextutil"
	"imagedex/internal/storage"
	"imagedex/internal/tags"
	"imagedex/internal/thumbs"
)

// TagResponse is the wire form of one tag row.
type TagResponse struct {
	Tag      string  `json:"tag"`
	Norm     string  `json:"norm"`
	Kind     string  `json:"kind"`
	Emphasis string  `json:"emphasis"`
	Weight   float64 `json:"weight"`
	Source   string  `json:"source"`
}

func tagResponses(records []tags.Record) []TagResponse {
	out := make([]TagResponse, len(records))
	for i, rec := range records {
		out[i] = TagResponse{
			Tag:      rec.Tag,
			Norm:     rec.Norm,
			Kind:     rec.Kind,
			Emphasis: rec.Emphasis,
			Weight:   rec.Weight,
			Source:   rec.Source,
		}
	}
	return out
}

// ImagesHandler serves the image list and per-image detail.
type ImagesHandler struct {
	images  storage.ImageStore
	tags    storage.TagStore
	resolve func(storedPath string) string
	thumbs  *thumbs.Cache
}

// NewImagesHandler creates an ImagesHandler. resolve maps a stored
// path to an absolute file path; thumbs may be nil to disable
// thumbnail serving.
func NewImagesHandler(images storage.ImageStore, tagStore storage.TagStore, resolve func(string) string, cache *thumbs.Cache) *ImagesHandler {
	return &ImagesHandler{images: images, tags: tagStore, resolve: resolve, thumbs: cache}
}

// ImageDetailResponse is an image row plus its tags.
type ImageDetailResponse struct {
	ImageResponse
	Tags []TagResponse `json:"tags"`
}

// List answers GET /api/images?limit=...&offset=...
func (h *ImagesHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	limit := queryInt(r, "limit", defaultPageSize, maxPageSize)
	offset := queryInt(r, "offset", 0, 1<<30)

	images, err := h.images.List(ctx, limit, offset)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list images", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list images")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"images": imageResponses(images)})
}

// Detail answers GET /api/images/{id}
func (h *ImagesHandler) Detail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	img, ok := h.lookup(w, r)
	if !ok {
		return
	}

	tagsByImage, err := h.tags.ForImages(ctx, []int64{img.ID})
	if err != nil {
		logger.ErrorContext(ctx, "failed to load tags", "image_id", img.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load tags")
		return
	}

	writeJSON(w, http.StatusOK, ImageDetailResponse{
		ImageResponse: imageResponse(img),
		Tags:          tagResponses(tagsByImage[img.ID]),
	})
}

// File answers GET /api/images/{id}/file with the original PNG.
func (h *ImagesHandler) File(w http.ResponseWriter, r *http.Request) {
	img, ok := h.lookup(w, r)
	if !ok {
		return
	}
	http.ServeFile(w, r, h.resolve(img.Path))
}

// Thumbnail answers GET /api/images/{id}/thumb.
func (h *ImagesHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if h.thumbs == nil {
		writeError(w, http.StatusNotFound, "Thumbnails disabled")
		return
	}
	img, ok := h.lookup(w, r)
	if !ok {
		return
	}
	thumbPath, err := h.thumbs.Get(img.ID, img.MTime, h.resolve(img.Path))
	if err != nil {
		logger.WarnContext(ctx, "failed to build thumbnail", "image_id", img.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to build thumbnail")
		return
	}
	http.ServeFile(w, r, thumbPath)
}

// RatingRequest overrides an image's stored rating.
type RatingRequest struct {
	Rating     string  `json:"rating"`
	Confidence float64 `json:"confidence"`
}

// SetRating answers PUT /api/images/{id}/rating.
func (h *ImagesHandler) SetRating(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	img, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req RatingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	rating := strings.ToLower(strings.TrimSpace(req.Rating))
	if rating == "" {
		writeError(w, http.StatusBadRequest, "Rating is required")
		return
	}
	if req.Confidence <= 0 || req.Confidence > 1 {
		req.Confidence = 1.0
	}

	if err := h.tags.StoreRating(ctx, img.ID, rating, req.Confidence, nil); err != nil {
		logger.ErrorContext(ctx, "failed to store rating", "image_id", img.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to store rating")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": img.ID, "rating": rating})
}

// lookup resolves the {id} path parameter to an image row, writing the
// error response itself on failure.
func (h *ImagesHandler) lookup(w http.ResponseWriter, r *http.Request) (*storage.ImageRecord, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid image id")
		return nil, false
	}
	img, err := h.images.GetByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Image not found")
		return nil, false
	}
	if err != nil {
		contextutil.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to load image", "image_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load image")
		return nil, false
	}
	return img, true
}
