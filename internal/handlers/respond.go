// Package handlers implements the HTTP API: search, autocomplete,
// image detail, similarity, job control and thumbnails.
package handlers

import (
	"encoding/json"
	"net/http"

	"imagedex/internal/storage"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ImageResponse is the wire form of one image row.
type ImageResponse struct {
	ID          int64   `json:"id"`
	Path        string  `json:"path"`
	Name        string  `json:"name"`
	MTime       float64 `json:"mtime"`
	Width       int64   `json:"width,omitempty"`
	Height      int64   `json:"height,omitempty"`
	Seed        string  `json:"seed,omitempty"`
	Model       string  `json:"model,omitempty"`
	Sampler     string  `json:"sampler,omitempty"`
	Scheduler   string  `json:"scheduler,omitempty"`
	Generator   string  `json:"generator,omitempty"`
	Steps       float64 `json:"steps,omitempty"`
	CfgScale    float64 `json:"cfg_scale,omitempty"`
	Description string  `json:"description,omitempty"`
	Rating      string  `json:"rating,omitempty"`
	RatingConf  float64 `json:"rating_confidence,omitempty"`
}

func imageResponse(img *storage.ImageRecord) ImageResponse {
	return ImageResponse{
		ID:          img.ID,
		Path:        img.Path,
		Name:        img.Name,
		MTime:       img.MTime,
		Width:       img.Width,
		Height:      img.Height,
		Seed:        img.Seed,
		Model:       img.Model,
		Sampler:     img.Sampler,
		Scheduler:   img.Scheduler,
		Generator:   img.Generator,
		Steps:       img.Steps,
		CfgScale:    img.CfgScale,
		Description: img.Description,
		Rating:      img.Rating,
		RatingConf:  img.RatingConf,
	}
}

func imageResponses(images []*storage.ImageRecord) []ImageResponse {
	out := make([]ImageResponse, len(images))
	for i, img := range images {
		out[i] = imageResponse(img)
	}
	return out
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}
