package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"imagedex/internal/handlers"
	"imagedex/internal/jobs"
	"imagedex/internal/search"
	"imagedex/internal/storage"
	"imagedex/internal/tags"
)

type noopScanner struct{}

func (noopScanner) Trigger() {}

// newTestRouter wires a router over a real SQLite database seeded with
// one image.
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	tmp := t.TempDir()

	db, err := storage.New(filepath.Join(tmp, "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	images := storage.NewImageRepo(db)
	tagRepo := storage.NewTagRepo(db)
	if _, _, err := images.Upsert(context.Background(), &storage.ImageRecord{
		Path: "a.png", Name: "a.png", MTime: 1, Size: 1,
	}, []tags.Record{
		{Tag: "cute", Norm: "cute", Kind: tags.KindPrompt, Emphasis: "normal", Weight: 1.0, Raw: "cute", Source: "embedded"},
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	engine := search.NewEngine(db, tmp)
	resolve := func(stored string) string { return filepath.Join(tmp, stored) }

	return NewRouter(&Deps{
		Health:       handlers.NewHealthHandler(db),
		Search:       handlers.NewSearchHandler(engine),
		Facets:       handlers.NewFacetsHandler(engine),
		Autocomplete: handlers.NewAutocompleteHandler(engine),
		Images:       handlers.NewImagesHandler(images, tagRepo, resolve, nil),
		Similar:      handlers.NewSimilarHandler(search.NewSimilarity(storage.NewJobRepo(db), nil, "clip"), engine, images),
		Jobs: handlers.NewJobsHandler(
			map[string]*jobs.Progress{storage.JobKindEmbedding: jobs.NewProgress(storage.JobKindEmbedding)},
			map[string]handlers.WorkerControl{},
			noopScanner{},
		),
	})
}

func TestRouter_Routes(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"health", http.MethodGet, "/api/health", http.StatusOK},
		{"search", http.MethodGet, "/api/search?q=cute", http.StatusOK},
		{"facets", http.MethodGet, "/api/facets", http.StatusOK},
		{"autocomplete", http.MethodGet, "/api/autocomplete?q=cu", http.StatusOK},
		{"images list", http.MethodGet, "/api/images", http.StatusOK},
		{"image detail", http.MethodGet, "/api/images/1", http.StatusOK},
		{"image missing", http.MethodGet, "/api/images/99", http.StatusNotFound},
		{"thumbs disabled", http.MethodGet, "/api/images/1/thumb", http.StatusNotFound},
		{"jobs", http.MethodGet, "/api/jobs", http.StatusOK},
		{"pause unknown kind", http.MethodPost, "/api/jobs/embedding/pause", http.StatusNotFound},
		{"scan", http.MethodPost, "/api/scan", http.StatusAccepted},
		{"no websocket route", http.MethodGet, "/api/ws", http.StatusNotFound},
		{"unknown route", http.MethodGet, "/api/nonsense", http.StatusNotFound},
		{"wrong method", http.MethodPost, "/api/search", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRouter_SearchFindsSeededImage(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=cute", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp handlers.SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if resp.Total != 1 || len(resp.Images) != 1 || resp.Images[0].Path != "a.png" {
		t.Errorf("response = %+v", resp)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/search", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Allow-Origin = %q", got)
	}
}
