// Package search compiles tag queries into SQL set algebra over the
// inverted tag index and evaluates them.
package search

import (
	"strings"

	"imagedex/internal/tags"
)

// Query-only scopes beyond the stored tag kinds.
const (
	KindAny  = "any"
	KindPath = "path"
)

// Metadata field scopes. These filter the images table directly instead
// of the tag index.
var metadataTextKinds = map[string]bool{
	"generator": true,
	"model":     true,
	"sampler":   true,
	"scheduler": true,
	"seed":      true,
}

var metadataNumericKinds = map[string]bool{
	"steps":     true,
	"cfg_scale": true,
}

// Token is one compiled query term.
type Token struct {
	Norm    string
	Kind    string
	Exclude bool
}

// prefixes maps a query prefix to the scope it selects. Path values
// keep their raw text; everything else is tag-normalized.
var prefixes = []struct {
	prefix string
	kind   string
}{
	{"char:", tags.KindCharacter},
	{"character:", tags.KindCharacter},
	{"prompt:", tags.KindPrompt},
	{"uc:", tags.KindNegative},
	{"rating:", tags.KindRating},
	{"path:", KindPath},
	{"in:", KindPath},
	{"generator:", "generator"},
	{"model:", "model"},
	{"sampler:", "sampler"},
	{"scheduler:", "scheduler"},
	{"seed:", "seed"},
	{"steps:", "steps"},
	{"cfg_scale:", "cfg_scale"},
	{"cfg:", "cfg_scale"},
}

func stripNegation(token string) (string, bool) {
	negated := false
	for {
		trimmed := strings.TrimSpace(token)
		if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "!") {
			negated = true
			token = trimmed[1:]
			continue
		}
		return trimmed, negated
	}
}

// ParseQuery tokenizes a comma or newline separated query string.
// Unknown text maps to the "any" scope, which matches prompt and
// character tags.
func ParseQuery(query string) []Token {
	if query == "" {
		return nil
	}
	var tokens []Token
	for _, raw := range strings.FieldsFunc(query, func(r rune) bool {
		return r == ',' || r == '\n'
	}) {
		token := strings.TrimSpace(raw)
		if token == "" {
			continue
		}

		// Negation is legal both before and after the scope prefix:
		// "-char:alice" and "char:-alice" both exclude.
		token, exclude := stripNegation(token)

		kind := KindAny
		lowered := strings.ToLower(token)
		for _, p := range prefixes {
			if strings.HasPrefix(lowered, p.prefix) {
				kind = p.kind
				token = strings.TrimSpace(token[len(p.prefix):])
				break
			}
		}

		var postNegated bool
		token, postNegated = stripNegation(token)
		exclude = exclude || postNegated

		if kind == KindPath {
			if token == "" {
				continue
			}
			tokens = append(tokens, Token{Norm: token, Kind: kind, Exclude: exclude})
			continue
		}

		norm := tags.Normalize(token)
		if norm == "" {
			continue
		}
		tokens = append(tokens, Token{Norm: norm, Kind: kind, Exclude: exclude})
	}
	return tokens
}
