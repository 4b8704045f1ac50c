package models

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestTaggerClient_Tag(t *testing.T) {
	imgPath := filepath.Join(t.TempDir(), "a.png")
	if err := os.WriteFile(imgPath, []byte("fake png bytes"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	tests := []struct {
		name       string
		serverResp string
		status     int
		wantErr    bool
		wantUnavail bool
		check      func(t *testing.T, scores TagScores)
	}{
		{
			name: "object shape",
			serverResp: `{
				"rating": {"general": 0.9, "sensitive": 0.1},
				"general": {"cute": 0.95, "smile": 0.4},
				"character": {"alice": 0.8}
			}`,
			status: http.StatusOK,
			check: func(t *testing.T, scores TagScores) {
				if scores.Rating["general"] != 0.9 {
					t.Errorf("rating = %v", scores.Rating)
				}
				if scores.General["cute"] != 0.95 {
					t.Errorf("general = %v", scores.General)
				}
				if scores.Character["alice"] != 0.8 {
					t.Errorf("character = %v", scores.Character)
				}
			},
		},
		{
			name: "positional array shape",
			serverResp: `[
				{"general": 0.7},
				{"long_hair": 0.6},
				{"bob": 0.5}
			]`,
			status: http.StatusOK,
			check: func(t *testing.T, scores TagScores) {
				if scores.Rating["general"] != 0.7 {
					t.Errorf("rating = %v", scores.Rating)
				}
				if scores.General["long_hair"] != 0.6 {
					t.Errorf("general = %v", scores.General)
				}
				if scores.Character["bob"] != 0.5 {
					t.Errorf("character = %v", scores.Character)
				}
			},
		},
		{
			name:       "non-numeric values dropped",
			serverResp: `{"rating": {"general": 0.9, "weird": "high"}, "general": {}, "character": {}}`,
			status:     http.StatusOK,
			check: func(t *testing.T, scores TagScores) {
				if _, ok := scores.Rating["weird"]; ok {
					t.Error("non-numeric value should be dropped")
				}
				if scores.Rating["general"] != 0.9 {
					t.Errorf("rating = %v", scores.Rating)
				}
			},
		},
		{
			name:       "unsupported shape",
			serverResp: `"just a string"`,
			status:     http.StatusOK,
			wantErr:    true,
		},
		{
			name:        "server error is unavailable",
			serverResp:  "model not loaded",
			status:      http.StatusServiceUnavailable,
			wantErr:     true,
			wantUnavail: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/tag" {
					t.Errorf("expected /v1/tag, got %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.serverResp))
			}))
			defer server.Close()

			client := NewTaggerClient(server.URL, "wd-tagger")
			scores, err := client.Tag(context.Background(), imgPath, 0.35, 0.85)

			if tt.wantErr {
				if err == nil {
					t.Fatal("Tag() expected error, got nil")
				}
				if tt.wantUnavail && !errors.Is(err, ErrUnavailable) {
					t.Errorf("Tag() error = %v, want ErrUnavailable", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Tag() unexpected error: %v", err)
			}
			if tt.check != nil {
				tt.check(t, scores)
			}
		})
	}
}

func TestTaggerClient_Tag_MissingFile(t *testing.T) {
	client := NewTaggerClient("http://localhost:1", "wd-tagger")
	if _, err := client.Tag(context.Background(), "/nope/missing.png", 0.35, 0.85); err == nil {
		t.Error("Tag() expected error for missing file")
	}
}
