package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"imagedex/internal/storage"
	"imagedex/internal/tags"
)

// Facet is one aggregated tag over a result set or the whole library.
type Facet struct {
	Tag  string `json:"tag"`
	Norm string `json:"norm"`
	Kind string `json:"kind"`
	Freq int    `json:"freq"`
}

// Engine evaluates compiled queries against the store.
type Engine struct {
	db          *sql.DB
	primaryRoot string
}

// NewEngine creates a new Engine. primaryRoot is the ingestion root
// used to relativize path filters.
func NewEngine(db *sql.DB, primaryRoot string) *Engine {
	return &Engine{db: db, primaryRoot: primaryRoot}
}

const matchedImageColumns = `i.id, i.path, i.name, i.mtime, i.size,
	COALESCE(i.width, 0), COALESCE(i.height, 0),
	COALESCE(i.seed, ''), COALESCE(i.model, ''), COALESCE(i.sampler, ''),
	COALESCE(i.scheduler, ''), COALESCE(i.generator, ''),
	COALESCE(i.steps, 0), COALESCE(i.cfg_scale, 0),
	COALESCE(i.description, ''), COALESCE(i.metadata_json, ''),
	COALESCE(i.rating, ''), COALESCE(i.rating_confidence, 0), COALESCE(i.rating_updated, 0)`

// SearchImages evaluates the tokens and returns one page of matching
// images newest first, plus the total match count.
func (e *Engine) SearchImages(ctx context.Context, tokens []Token, limit, offset int) ([]*storage.ImageRecord, int, error) {
	cte, params := buildMatchedCTE(tokens, e.primaryRoot)

	var total int
	if err := e.db.QueryRowContext(ctx, cte+" SELECT COUNT(*) FROM matched", params...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count matches: %w", err)
	}

	query := cte + ` SELECT ` + matchedImageColumns + ` FROM matched m
		JOIN images i ON i.id = m.image_id
		ORDER BY i.mtime DESC, i.id DESC LIMIT ? OFFSET ?`
	args := append(append([]any{}, params...), limit, offset)
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query matches: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var images []*storage.ImageRecord
	for rows.Next() {
		var img storage.ImageRecord
		if err := rows.Scan(
			&img.ID, &img.Path, &img.Name, &img.MTime, &img.Size,
			&img.Width, &img.Height,
			&img.Seed, &img.Model, &img.Sampler,
			&img.Scheduler, &img.Generator,
			&img.Steps, &img.CfgScale,
			&img.Description, &img.MetadataJSON,
			&img.Rating, &img.RatingConf, &img.RatingAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan image: %w", err)
		}
		images = append(images, &img)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("row iteration error: %w", err)
	}
	return images, total, nil
}

// Facets aggregates (tag, norm, kind, frequency) over the result set,
// ordered by kind priority, then frequency, then display tag.
func (e *Engine) Facets(ctx context.Context, tokens []Token, limit int) ([]Facet, error) {
	cte, params := buildMatchedCTE(tokens, e.primaryRoot)
	query := cte + ` SELECT t.tag, t.norm, t.kind, COUNT(*) AS freq
		FROM matched m JOIN tags t ON t.image_id = m.image_id
		GROUP BY t.norm, t.kind
		ORDER BY CASE t.kind
			WHEN 'prompt' THEN 0 WHEN 'rating' THEN 0 WHEN 'character' THEN 0 WHEN 'description' THEN 0
			WHEN 'negative' THEN 1 ELSE 2 END,
		freq DESC, t.tag ASC LIMIT ?`
	args := append(append([]any{}, params...), limit)
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query facets: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	return scanFacets(rows)
}

// MatchedIDs returns every image id the tokens select, unpaged. Used to
// restrict a similarity scan to a tag query's result set.
func (e *Engine) MatchedIDs(ctx context.Context, tokens []Token) ([]int64, error) {
	query := "SELECT id FROM images"
	var params []any
	if len(tokens) > 0 {
		cte, cteParams := buildMatchedCTE(tokens, e.primaryRoot)
		query = cte + " SELECT image_id FROM matched"
		params = cteParams
	}
	rows, err := e.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matched ids: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan image id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return ids, nil
}

var autocompleteKinds = map[string]bool{
	tags.KindPrompt:      true,
	tags.KindNegative:    true,
	tags.KindCharacter:   true,
	tags.KindDescription: true,
	tags.KindRating:      true,
}

// bareKeywords are scope prefixes typed without a colon yet; offering
// tag completions for them would be misleading.
var bareKeywords = map[string]bool{
	"path": true, "in": true, "prompt": true,
	"char": true, "character": true, "uc": true, "rating": true,
}

// Autocomplete suggests tags for a partially typed query term. An empty
// prefix yields the globally most frequent tags. A non-empty prefix is
// matched against the index first, then widened with a substring scan,
// de-duplicated by (norm, kind).
func (e *Engine) Autocomplete(ctx context.Context, prefix, kindFilter string, limit int) ([]Facet, error) {
	if prefix == "" {
		return e.topTags(ctx, kindFilter, limit)
	}

	lowered := strings.ToLower(strings.TrimSpace(prefix))
	if bareKeywords[lowered] {
		return nil, nil
	}
	term := prefix
	for _, p := range prefixes {
		if !strings.HasPrefix(lowered, p.prefix) {
			continue
		}
		if p.kind == KindPath || metadataTextKinds[p.kind] || metadataNumericKinds[p.kind] {
			// No tag suggestions apply to path or metadata scopes.
			return nil, nil
		}
		term = strings.TrimSpace(prefix[len(p.prefix):])
		kindFilter = p.kind
		break
	}
	norm := tags.Normalize(term)
	if norm == "" {
		return nil, nil
	}

	query := `SELECT tag, norm, kind, COUNT(DISTINCT image_id) AS freq
		FROM tag_index WHERE tag_index MATCH ?`
	params := []any{"norm:" + ftsQuote(norm) + "*"}
	if autocompleteKinds[kindFilter] {
		query += " AND kind = ?"
		params = append(params, kindFilter)
	}
	query += " GROUP BY norm, kind ORDER BY freq DESC"
	rows, err := e.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query autocomplete: %w", err)
	}
	results, err := scanFacets(rows)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	type facetKey struct{ norm, kind string }
	seen := make(map[facetKey]bool, len(results))
	for _, f := range results {
		seen[facetKey{f.Norm, f.Kind}] = true
	}

	// Widen with a substring scan once the prefix is long enough to be
	// selective.
	if len(norm) >= 2 {
		likeQuery := `SELECT tag, norm, kind, COUNT(DISTINCT image_id) AS freq
			FROM tags WHERE norm LIKE ?`
		likeParams := []any{"%" + norm + "%"}
		if autocompleteKinds[kindFilter] {
			likeQuery += " AND kind = ?"
			likeParams = append(likeParams, kindFilter)
		}
		likeQuery += " GROUP BY norm, kind ORDER BY freq DESC LIMIT ?"
		likeParams = append(likeParams, limit*2)
		likeRows, err := e.db.QueryContext(ctx, likeQuery, likeParams...)
		if err != nil {
			return nil, fmt.Errorf("failed to query autocomplete fallback: %w", err)
		}
		wider, err := scanFacets(likeRows)
		_ = likeRows.Close()
		if err != nil {
			return nil, err
		}
		for _, f := range wider {
			k := facetKey{f.Norm, f.Kind}
			if !seen[k] {
				results = append(results, f)
				seen[k] = true
			}
		}
	}

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (e *Engine) topTags(ctx context.Context, kindFilter string, limit int) ([]Facet, error) {
	query := "SELECT tag, norm, kind, COUNT(DISTINCT image_id) AS freq FROM tags"
	var params []any
	if autocompleteKinds[kindFilter] {
		query += " WHERE kind = ?"
		params = append(params, kindFilter)
	}
	query += " GROUP BY norm, kind ORDER BY freq DESC LIMIT ?"
	params = append(params, limit)
	rows, err := e.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top tags: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	return scanFacets(rows)
}

func scanFacets(rows *sql.Rows) ([]Facet, error) {
	var facets []Facet
	for rows.Next() {
		var f Facet
		if err := rows.Scan(&f.Tag, &f.Norm, &f.Kind, &f.Freq); err != nil {
			return nil, fmt.Errorf("failed to scan facet: %w", err)
		}
		facets = append(facets, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return facets, nil
}
