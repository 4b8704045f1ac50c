package handlers

import (
	"context"
	"net/http"
	"strconv"

	"imagedex/internal/contextutil"
	"imagedex/internal/search"
	"imagedex/internal/storage"
)

const (
	defaultPageSize = 60
	maxPageSize     = 500
)

// Searcher is the query surface the search handlers need.
type Searcher interface {
	SearchImages(ctx context.Context, tokens []search.Token, limit, offset int) ([]*storage.ImageRecord, int, error)
	Facets(ctx context.Context, tokens []search.Token, limit int) ([]search.Facet, error)
	Autocomplete(ctx context.Context, prefix, kindFilter string, limit int) ([]search.Facet, error)
}

// SearchHandler handles tag query searches.
type SearchHandler struct {
	engine Searcher
}

// NewSearchHandler creates a SearchHandler.
func NewSearchHandler(engine Searcher) *SearchHandler {
	return &SearchHandler{engine: engine}
}

// SearchResponse is the search result page.
type SearchResponse struct {
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
	Images []ImageResponse `json:"images"`
}

// ServeHTTP answers GET /api/search?q=...&limit=...&offset=...
func (h *SearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	tokens := search.ParseQuery(r.URL.Query().Get("q"))
	limit := queryInt(r, "limit", defaultPageSize, maxPageSize)
	offset := queryInt(r, "offset", 0, 1<<30)

	images, total, err := h.engine.SearchImages(ctx, tokens, limit, offset)
	if err != nil {
		logger.ErrorContext(ctx, "search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Search failed")
		return
	}

	writeJSON(w, http.StatusOK, SearchResponse{
		Total:  total,
		Limit:  limit,
		Offset: offset,
		Images: imageResponses(images),
	})
}

// FacetsHandler returns tag frequency facets for a query.
type FacetsHandler struct {
	engine Searcher
}

// NewFacetsHandler creates a FacetsHandler.
func NewFacetsHandler(engine Searcher) *FacetsHandler {
	return &FacetsHandler{engine: engine}
}

// FacetsResponse wraps the facet list.
type FacetsResponse struct {
	Facets []search.Facet `json:"facets"`
}

// ServeHTTP answers GET /api/facets?q=...&limit=...
func (h *FacetsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	tokens := search.ParseQuery(r.URL.Query().Get("q"))
	limit := queryInt(r, "limit", 50, maxPageSize)

	facets, err := h.engine.Facets(ctx, tokens, limit)
	if err != nil {
		logger.ErrorContext(ctx, "facet query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Facet query failed")
		return
	}
	if facets == nil {
		facets = []search.Facet{}
	}
	writeJSON(w, http.StatusOK, FacetsResponse{Facets: facets})
}

// AutocompleteHandler suggests tag completions.
type AutocompleteHandler struct {
	engine Searcher
}

// NewAutocompleteHandler creates an AutocompleteHandler.
func NewAutocompleteHandler(engine Searcher) *AutocompleteHandler {
	return &AutocompleteHandler{engine: engine}
}

// AutocompleteResponse wraps the suggestion list.
type AutocompleteResponse struct {
	Suggestions []search.Facet `json:"suggestions"`
}

// ServeHTTP answers GET /api/autocomplete?q=...&kind=...&limit=...
func (h *AutocompleteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	prefix := r.URL.Query().Get("q")
	kind := r.URL.Query().Get("kind")
	limit := queryInt(r, "limit", 20, 100)

	suggestions, err := h.engine.Autocomplete(ctx, prefix, kind, limit)
	if err != nil {
		logger.ErrorContext(ctx, "autocomplete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Autocomplete failed")
		return
	}
	if suggestions == nil {
		suggestions = []search.Facet{}
	}
	writeJSON(w, http.StatusOK, AutocompleteResponse{Suggestions: suggestions})
}

// queryInt parses an integer query parameter, clamped to [0, max].
func queryInt(r *http.Request, key string, fallback, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	if n > max {
		return max
	}
	return n
}
