package models

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
)

// TaggerClient is a client for a WD14-style auto-tagging server.
type TaggerClient struct {
	BaseURL string
	Model   string
	client  *http.Client
}

// NewTaggerClient creates a new tagger client.
func NewTaggerClient(baseURL, model string) *TaggerClient {
	return &TaggerClient{
		BaseURL: baseURL,
		Model:   model,
		client:  http.DefaultClient,
	}
}

// TagScores holds the three confidence maps a tagging model produces.
// All confidences are in [0,1].
type TagScores struct {
	Rating    map[string]float64
	General   map[string]float64
	Character map[string]float64
}

// TagRequest represents the request payload for the tagging API.
type TagRequest struct {
	Model              string  `json:"model"`
	ImageB64           string  `json:"image_b64"`
	GeneralThreshold   float64 `json:"general_threshold"`
	CharacterThreshold float64 `json:"character_threshold"`
}

// Tag scores the image file at path. Thresholding is left to the
// caller; the returned maps carry every label the server reported.
func (c *TaggerClient) Tag(ctx context.Context, path string, generalThreshold, characterThreshold float64) (TagScores, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return TagScores{}, fmt.Errorf("failed to read image: %w", err)
	}

	payload := TagRequest{
		Model:              c.Model,
		ImageB64:           base64.StdEncoding.EncodeToString(raw),
		GeneralThreshold:   generalThreshold,
		CharacterThreshold: characterThreshold,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return TagScores{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/tag", bytes.NewBuffer(body))
	if err != nil {
		return TagScores{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return TagScores{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		rawBody, _ := io.ReadAll(resp.Body)
		return TagScores{}, fmt.Errorf("%w: bad status %d: %s", ErrUnavailable, resp.StatusCode, string(rawBody))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return TagScores{}, fmt.Errorf("failed to read response: %w", err)
	}
	scores, err := decodeTagScores(respBody)
	if err != nil {
		return TagScores{}, err
	}
	return scores, nil
}

// decodeTagScores accepts the two response shapes tagging servers use:
// an object {"rating": {...}, "general": {...}, "character": {...}} or
// a positional array [rating, general, character].
func decodeTagScores(data []byte) (TagScores, error) {
	var object struct {
		Rating    json.RawMessage `json:"rating"`
		General   json.RawMessage `json:"general"`
		Character json.RawMessage `json:"character"`
	}
	if err := json.Unmarshal(data, &object); err == nil &&
		(object.Rating != nil || object.General != nil || object.Character != nil) {
		return TagScores{
			Rating:    coerceTagMap(object.Rating),
			General:   coerceTagMap(object.General),
			Character: coerceTagMap(object.Character),
		}, nil
	}

	var array []json.RawMessage
	if err := json.Unmarshal(data, &array); err == nil {
		scores := TagScores{}
		if len(array) > 0 {
			scores.Rating = coerceTagMap(array[0])
		}
		if len(array) > 1 {
			scores.General = coerceTagMap(array[1])
		}
		if len(array) > 2 {
			scores.Character = coerceTagMap(array[2])
		}
		return scores, nil
	}

	return TagScores{}, fmt.Errorf("unsupported tagger response shape")
}

// coerceTagMap keeps only numeric values, dropping whatever else the
// server put in the map.
func coerceTagMap(raw json.RawMessage) map[string]float64 {
	if raw == nil {
		return map[string]float64{}
	}
	var loose map[string]any
	if err := json.Unmarshal(raw, &loose); err != nil {
		return map[string]float64{}
	}
	out := make(map[string]float64, len(loose))
	for label, value := range loose {
		if num, ok := value.(float64); ok {
			out[label] = num
		}
	}
	return out
}
