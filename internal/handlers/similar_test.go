package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/mock/gomock"

	"imagedex/internal/models"
	"imagedex/internal/search"
	"imagedex/internal/storage"
	storage_mocks "imagedex/internal/storage/mocks"
)

type stubSimilarity struct {
	req     search.SimilarRequest
	matches []search.Match
	err     error
}

func (s *stubSimilarity) Search(_ context.Context, req search.SimilarRequest) ([]search.Match, error) {
	s.req = req
	return s.matches, s.err
}

type stubMatcher struct {
	tokens []search.Token
	ids    []int64
	err    error
}

func (s *stubMatcher) MatchedIDs(_ context.Context, tokens []search.Token) ([]int64, error) {
	s.tokens = tokens
	return s.ids, s.err
}

func postSimilar(t *testing.T, handler http.Handler, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/similar", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSimilarHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	images := storage_mocks.NewMockImageStore(ctrl)
	images.EXPECT().GetByID(gomock.Any(), int64(1)).
		Return(&storage.ImageRecord{ID: 1, Path: "a.png", Name: "a.png"}, nil)
	images.EXPECT().GetByID(gomock.Any(), int64(2)).
		Return(nil, storage.ErrNotFound)

	similarity := &stubSimilarity{matches: []search.Match{
		{ImageID: 1, Score: 0.93},
		{ImageID: 2, Score: 0.81},
	}}
	handler := NewSimilarHandler(similarity, &stubMatcher{}, images)

	rec := postSimilar(t, handler, SimilarRequest{PositiveText: []string{"forest"}, Limit: 5})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp SimilarResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	// The pruned id 2 is dropped silently.
	if len(resp.Matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(resp.Matches))
	}
	if resp.Matches[0].Score != 0.93 || resp.Matches[0].Image.Path != "a.png" {
		t.Errorf("match = %+v", resp.Matches[0])
	}
	if similarity.req.Limit != 5 || len(similarity.req.PositiveText) != 1 {
		t.Errorf("forwarded request = %+v", similarity.req)
	}
	if similarity.req.RestrictIDs != nil {
		t.Errorf("RestrictIDs = %v, want nil without a query", similarity.req.RestrictIDs)
	}
}

func TestSimilarHandler_QueryRestriction(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	images := storage_mocks.NewMockImageStore(ctrl)
	matcher := &stubMatcher{ids: []int64{3, 7}}
	similarity := &stubSimilarity{}
	handler := NewSimilarHandler(similarity, matcher, images)

	rec := postSimilar(t, handler, SimilarRequest{PositiveIDs: []int64{1}, Query: "char:alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(matcher.tokens) != 1 || matcher.tokens[0].Norm != "alice" {
		t.Errorf("matcher tokens = %+v", matcher.tokens)
	}
	if len(similarity.req.RestrictIDs) != 2 {
		t.Errorf("RestrictIDs = %v, want [3 7]", similarity.req.RestrictIDs)
	}
}

func TestSimilarHandler_EmptyRestrictionStaysEmpty(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	images := storage_mocks.NewMockImageStore(ctrl)
	similarity := &stubSimilarity{}
	handler := NewSimilarHandler(similarity, &stubMatcher{ids: nil}, images)

	rec := postSimilar(t, handler, SimilarRequest{PositiveIDs: []int64{1}, Query: "rating:explicit"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	// Empty result set must restrict to nothing, not lift the restriction.
	if similarity.req.RestrictIDs == nil || len(similarity.req.RestrictIDs) != 0 {
		t.Errorf("RestrictIDs = %#v, want empty non-nil slice", similarity.req.RestrictIDs)
	}
}

func TestSimilarHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		payload    any
		similarity *stubSimilarity
		wantStatus int
	}{
		{
			name:       "no anchors",
			payload:    SimilarRequest{Limit: 10},
			similarity: &stubSimilarity{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "model unavailable",
			payload:    SimilarRequest{PositiveText: []string{"forest"}},
			similarity: &stubSimilarity{err: models.ErrUnavailable},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			handler := NewSimilarHandler(tt.similarity, &stubMatcher{}, storage_mocks.NewMockImageStore(ctrl))
			rec := postSimilar(t, handler, tt.payload)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestSimilarHandler_BadBody(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	handler := NewSimilarHandler(&stubSimilarity{}, &stubMatcher{}, storage_mocks.NewMockImageStore(ctrl))
	req := httptest.NewRequest(http.MethodPost, "/api/similar", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
