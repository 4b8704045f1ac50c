package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"imagedex/internal/handlers"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	Health       *handlers.HealthHandler
	Search       *handlers.SearchHandler
	Facets       *handlers.FacetsHandler
	Autocomplete *handlers.AutocompleteHandler
	Images       *handlers.ImagesHandler
	Similar      *handlers.SimilarHandler
	Jobs         *handlers.JobsHandler
	// WebSocket serves the progress stream; nil disables the route.
	WebSocket http.HandlerFunc
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(LoggerMiddleware)
	r.Use(CORS)

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/health", deps.Health)
		r.Method(http.MethodGet, "/search", deps.Search)
		r.Method(http.MethodGet, "/facets", deps.Facets)
		r.Method(http.MethodGet, "/autocomplete", deps.Autocomplete)
		r.Method(http.MethodPost, "/similar", deps.Similar)

		r.Get("/images", deps.Images.List)
		r.Get("/images/{id}", deps.Images.Detail)
		r.Get("/images/{id}/file", deps.Images.File)
		r.Get("/images/{id}/thumb", deps.Images.Thumbnail)
		r.Put("/images/{id}/rating", deps.Images.SetRating)

		r.Get("/jobs", deps.Jobs.Status)
		r.Post("/jobs/{kind}/pause", deps.Jobs.Pause)
		r.Post("/jobs/{kind}/resume", deps.Jobs.Resume)
		r.Post("/scan", deps.Jobs.Scan)

		if deps.WebSocket != nil {
			r.Get("/ws", deps.WebSocket)
		}
	})

	return r
}
