package search

import (
	"strconv"
	"strings"

	"imagedex/internal/tags"
)

// ftsQuote wraps a term so FTS5 treats it as a literal string token.
// Norms may contain ':' and '-', both of which are FTS query syntax.
func ftsQuote(term string) string {
	return `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
}

// normalizePathPattern rewrites a path filter for GLOB matching. A
// pattern under the primary root becomes root-relative, matching how
// paths are stored; extra-root paths stay absolute. Patterns without
// wildcards get them added: a trailing slash means directory search,
// anything else substring search.
func normalizePathPattern(pattern, primaryRoot string) string {
	pattern = strings.TrimSpace(pattern)
	if primaryRoot != "" {
		rootPrefix := strings.TrimRight(primaryRoot, "/") + "/"
		if strings.HasPrefix(pattern, rootPrefix) {
			pattern = strings.TrimLeft(pattern[len(rootPrefix):], "/")
		}
	}
	if pattern != "" && !strings.ContainsAny(pattern, "*?") {
		if strings.HasSuffix(pattern, "/") {
			pattern = "*/" + strings.TrimRight(pattern, "/") + "/*"
		} else {
			pattern = "*" + pattern + "*"
		}
	}
	return pattern
}

// filterClause returns one subquery selecting matching image ids for a
// single token.
func filterClause(tok Token, primaryRoot string) (string, []any) {
	switch {
	case tok.Kind == KindPath:
		return "SELECT DISTINCT CAST(id AS INTEGER) FROM images WHERE path GLOB ?",
			[]any{normalizePathPattern(tok.Norm, primaryRoot)}
	case metadataTextKinds[tok.Kind]:
		return "SELECT DISTINCT CAST(id AS INTEGER) FROM images WHERE " + tok.Kind + " LIKE ?",
			[]any{"%" + tok.Norm + "%"}
	case metadataNumericKinds[tok.Kind]:
		// Normalization turned "7.5" into "7_5"; map it back before
		// trying numeric equality, else fall through to substring.
		literal := strings.ReplaceAll(tok.Norm, "_", ".")
		if value, err := strconv.ParseFloat(literal, 64); err == nil {
			return "SELECT DISTINCT CAST(id AS INTEGER) FROM images WHERE " + tok.Kind + " = ?",
				[]any{value}
		}
		return "SELECT DISTINCT CAST(id AS INTEGER) FROM images WHERE CAST(" + tok.Kind + " AS TEXT) LIKE ?",
			[]any{"%" + literal + "%"}
	case tok.Kind == KindAny:
		return "SELECT DISTINCT CAST(image_id AS INTEGER) FROM tag_index WHERE kind IN ('" +
				tags.KindPrompt + "','" + tags.KindCharacter + "') AND tag_index MATCH ?",
			[]any{"norm:" + ftsQuote(tok.Norm)}
	default:
		return "SELECT DISTINCT CAST(image_id AS INTEGER) FROM tag_index WHERE kind=? AND tag_index MATCH ?",
			[]any{tok.Kind, "norm:" + ftsQuote(tok.Norm)}
	}
}

// buildMatchedCTE compiles the token list into a common table
// expression named matched holding the selected image ids. Positive
// filters intersect; negative filters union and exclude. No tokens
// selects every image.
func buildMatchedCTE(tokens []Token, primaryRoot string) (string, []any) {
	var positiveClauses, negativeClauses []string
	var positiveParams, negativeParams []any
	for _, tok := range tokens {
		clause, params := filterClause(tok, primaryRoot)
		if tok.Exclude {
			negativeClauses = append(negativeClauses, clause)
			negativeParams = append(negativeParams, params...)
		} else {
			positiveClauses = append(positiveClauses, clause)
			positiveParams = append(positiveParams, params...)
		}
	}

	var filters []string
	var params []any
	if len(positiveClauses) > 0 {
		filters = append(filters, "id IN ("+strings.Join(positiveClauses, " INTERSECT ")+")")
		params = append(params, positiveParams...)
	}
	if len(negativeClauses) > 0 {
		filters = append(filters, "id NOT IN ("+strings.Join(negativeClauses, " UNION ")+")")
		params = append(params, negativeParams...)
	}

	where := ""
	if len(filters) > 0 {
		where = " WHERE " + strings.Join(filters, " AND ")
	}
	return "WITH matched AS (SELECT id AS image_id FROM images" + where + ")", params
}
