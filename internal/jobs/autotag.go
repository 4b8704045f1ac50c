package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"imagedex/internal/models"
	"imagedex/internal/storage"
	"imagedex/internal/tags"
)

// Tagger scores an image with a tagging model.
type Tagger interface {
	Tag(ctx context.Context, path string, generalThreshold, characterThreshold float64) (models.TagScores, error)
}

// AutoTagHandler fills auto-tag jobs: it scores the image, merges the
// resulting tags under the configured strategy and writes the rating
// side-channel.
type AutoTagHandler struct {
	jobs               storage.JobStore
	tags               storage.TagStore
	tagger             Tagger
	model              string
	strategy           string
	generalThreshold   float64
	characterThreshold float64
	resolve            func(rel string) string
}

// NewAutoTagHandler creates an AutoTagHandler.
func NewAutoTagHandler(jobs storage.JobStore, tagStore storage.TagStore, tagger Tagger, model, strategy string, generalThreshold, characterThreshold float64, resolve func(string) string) *AutoTagHandler {
	return &AutoTagHandler{
		jobs:               jobs,
		tags:               tagStore,
		tagger:             tagger,
		model:              model,
		strategy:           strategy,
		generalThreshold:   generalThreshold,
		characterThreshold: characterThreshold,
		resolve:            resolve,
	}
}

// Kind returns the job kind this handler owns.
func (h *AutoTagHandler) Kind() string {
	return storage.JobKindAutoTag
}

// Process tags one image. The rating decision is written even when the
// tag merge is skipped, because rating rows live on a separate channel.
func (h *AutoTagHandler) Process(ctx context.Context, job storage.ClaimedJob) error {
	scores, err := h.tagger.Tag(ctx, h.resolve(job.Path), h.generalThreshold, h.characterThreshold)
	if err != nil {
		return err
	}

	records := ScoresToRecords(scores, h.generalThreshold, h.characterThreshold)
	result, err := h.tags.ApplyAutoTags(ctx, job.ImageID, records, h.strategy)
	if err != nil {
		return fmt.Errorf("failed to apply auto tags: %w", err)
	}
	if result == storage.ApplyMissing {
		// Image row vanished between claim and apply.
		return h.jobs.MarkSkipped(ctx, job.ImageID, h.Kind())
	}

	if len(scores.Rating) > 0 {
		if err := h.tags.UpdateRatingFromScores(ctx, job.ImageID, scores.Rating, h.model); err != nil {
			return fmt.Errorf("failed to store rating: %w", err)
		}
	}

	if result == storage.ApplySkipped && h.strategy == storage.MergeMissing {
		return h.jobs.MarkSkipped(ctx, job.ImageID, h.Kind())
	}
	return h.jobs.MarkReady(ctx, job.ImageID, h.Kind())
}

// ScoresToRecords converts model confidence maps into tag records, the
// same shape the prompt parser produces: weight carries the confidence,
// emphasis stays normal. The best rating label becomes a rating-kind
// record whose raw field preserves the full score map.
func ScoresToRecords(scores models.TagScores, generalThreshold, characterThreshold float64) []tags.Record {
	var records []tags.Record

	if len(scores.Rating) > 0 {
		normalized := make(map[string]float64, len(scores.Rating))
		for label, value := range scores.Rating {
			normalized[strings.ToLower(label)] = value
		}
		bestLabel := ""
		bestScore := 0.0
		labels := make([]string, 0, len(normalized))
		for label := range normalized {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			if bestLabel == "" || normalized[label] > bestScore {
				bestLabel = label
				bestScore = normalized[label]
			}
		}
		if bestLabel != "" {
			raw, _ := json.Marshal(map[string]any{"source": "tagger", "scores": normalized})
			records = append(records, tags.Record{
				Tag:      "rating:" + bestLabel,
				Norm:     bestLabel,
				Kind:     tags.KindRating,
				Emphasis: tags.EmphasisNormal,
				Weight:   bestScore,
				Raw:      string(raw),
				Source:   tags.SourceAuto,
			})
		}
	}

	records = append(records, scoredRecords(scores.General, tags.KindPrompt, generalThreshold)...)
	records = append(records, scoredRecords(scores.Character, tags.KindCharacter, characterThreshold)...)
	return records
}

func scoredRecords(scores map[string]float64, kind string, threshold float64) []tags.Record {
	type scored struct {
		label string
		score float64
	}
	kept := make([]scored, 0, len(scores))
	for label, score := range scores {
		if score < threshold {
			continue
		}
		kept = append(kept, scored{label, score})
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].score != kept[j].score {
			return kept[i].score > kept[j].score
		}
		return kept[i].label < kept[j].label
	})

	var records []tags.Record
	for _, item := range kept {
		norm := tags.Normalize(item.label)
		if norm == "" {
			continue
		}
		records = append(records, tags.Record{
			Tag:      item.label,
			Norm:     norm,
			Kind:     kind,
			Emphasis: tags.EmphasisNormal,
			Weight:   item.score,
			Raw:      fmt.Sprintf("tagger:%s:%.3f", item.label, item.score),
			Source:   tags.SourceAuto,
		})
	}
	return records
}
