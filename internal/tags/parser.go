package tags

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Tag kinds stored in the database. Query-only filter kinds (path,
// metadata fields) live in the search package.
const (
	KindPrompt      = "prompt"
	KindNegative    = "negative"
	KindCharacter   = "character"
	KindDescription = "description"
	KindRating      = "rating"
)

// Emphasis labels describing how a tag's weight was derived.
const (
	EmphasisNormal   = "normal"
	EmphasisStrong   = "strong"
	EmphasisWeak     = "weak"
	EmphasisWeighted = "weighted"
)

// Tag sources.
const (
	SourceEmbedded = "embedded"
	SourceAuto     = "auto"
	SourceDBRating = "dbrating"
)

// Record is one parsed tag. Norm is the identity key used for indexing
// and dedup.
type Record struct {
	Tag      string
	Norm     string
	Kind     string
	Emphasis string
	Weight   float64
	Raw      string
	Source   string
}

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	invalidCharRe = regexp.MustCompile(`[^a-z0-9_:-]`)
	underscoresRe = regexp.MustCompile(`_+`)
)

// Normalize lowercases a tag, collapses whitespace runs to a single
// underscore, replaces anything outside [a-z0-9_:-] with underscore,
// collapses underscore runs and trims leading/trailing underscores.
// It is idempotent.
func Normalize(tag string) string {
	value := strings.ToLower(strings.TrimSpace(tag))
	value = whitespaceRe.ReplaceAllString(value, "_")
	value = invalidCharRe.ReplaceAllString(value, "_")
	value = underscoresRe.ReplaceAllString(value, "_")
	return strings.Trim(value, "_")
}

// SplitPrompt splits prompt text on commas that are not inside an open
// {...} or [...] group. Depth only defers splitting; it does not have
// to balance.
func SplitPrompt(text string) []string {
	var tokens []string
	var buf strings.Builder
	braceLevel := 0
	bracketLevel := 0
	for _, ch := range text {
		if ch == ',' && braceLevel == 0 && bracketLevel == 0 {
			if token := strings.TrimSpace(buf.String()); token != "" {
				tokens = append(tokens, token)
			}
			buf.Reset()
			continue
		}
		switch ch {
		case '{':
			braceLevel++
		case '}':
			if braceLevel > 0 {
				braceLevel--
			}
		case '[':
			bracketLevel++
		case ']':
			if bracketLevel > 0 {
				bracketLevel--
			}
		}
		buf.WriteRune(ch)
	}
	if token := strings.TrimSpace(buf.String()); token != "" {
		tokens = append(tokens, token)
	}
	return tokens
}

// stripBalancedWrappers peels fully balanced {...} / [...] wrappers off
// the token. Wrapper detection requires the entire trimmed token to
// start and end with the matching bracket.
func stripBalancedWrappers(token string) (string, int, int) {
	strong := 0
	weak := 0
	current := token
	for {
		stripped := strings.TrimSpace(current)
		if len(stripped) >= 2 && stripped[0] == '{' && stripped[len(stripped)-1] == '}' {
			strong++
			current = stripped[1 : len(stripped)-1]
			continue
		}
		if len(stripped) >= 2 && stripped[0] == '[' && stripped[len(stripped)-1] == ']' {
			weak++
			current = stripped[1 : len(stripped)-1]
			continue
		}
		return strings.TrimSpace(current), strong, weak
	}
}

// consumeLeadingWrappers strips any remaining unbalanced opening
// brackets. Asymmetric wrapping is legal and still contributes weight.
func consumeLeadingWrappers(token string) (string, int, int) {
	strong := 0
	weak := 0
	i := 0
	for i < len(token) {
		switch token[i] {
		case '{':
			strong++
			i++
		case '[':
			weak++
			i++
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return strings.TrimLeft(token[i:], " \t\n\r"), strong, weak
		}
	}
	return "", strong, weak
}

// consumeTrailingWrappers strips dangling closing brackets, which carry
// no weight of their own.
func consumeTrailingWrappers(token string) string {
	end := len(token)
	for end > 0 {
		switch token[end-1] {
		case '}', ']', ' ', '\t', '\n', '\r':
			end--
		default:
			return strings.TrimRight(token[:end], " \t\n\r")
		}
	}
	return ""
}

var weightedPromptRe = regexp.MustCompile(`^([+-]?(?:\d*\.\d+|\d+)?)\s*::\s*(.*?)(?:\s*::\s*)?$`)

func parsePromptToken(rawToken, kind string, weightFactor float64, inheritedEmphasis string) []Record {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return nil
	}

	token, strong, weak := stripBalancedWrappers(token)

	var prefixStrong, prefixWeak int
	token, prefixStrong, prefixWeak = consumeLeadingWrappers(token)
	strong += prefixStrong
	weak += prefixWeak

	token = consumeTrailingWrappers(token)

	localWeight := weightFactor
	if strong > 0 {
		localWeight *= math.Pow(1.1, float64(strong))
	}
	if weak > 0 {
		localWeight *= math.Pow(0.9, float64(weak))
	}

	emphasis := inheritedEmphasis
	switch {
	case strong > 0:
		// strong wins when both wrapper styles occurred
		emphasis = EmphasisStrong
	case weak > 0:
		emphasis = EmphasisWeak
	}

	if token == "" {
		return nil
	}

	// Splitting may have been deferred because the commas sat inside a
	// then-open group; recurse with the accumulated weight and emphasis.
	subtokens := SplitPrompt(token)
	if len(subtokens) > 1 {
		var records []Record
		for _, sub := range subtokens {
			records = append(records, parsePromptToken(sub, kind, localWeight, emphasis)...)
		}
		return records
	}

	if m := weightedPromptRe.FindStringSubmatch(token); m != nil {
		numeric := m[1]
		token = strings.TrimSpace(m[2])
		emphasis = EmphasisWeighted
		value := 1.0
		if numeric != "" && numeric != "+" && numeric != "-" {
			if parsed, err := strconv.ParseFloat(numeric, 64); err == nil {
				value = parsed
			}
		}
		localWeight *= value
	}

	if token == "" {
		return nil
	}

	norm := Normalize(token)
	if norm == "" {
		return nil
	}

	if emphasis == "" {
		emphasis = EmphasisNormal
	}

	return []Record{{
		Tag:      strings.TrimSpace(token),
		Norm:     norm,
		Kind:     kind,
		Emphasis: emphasis,
		Weight:   localWeight,
		Raw:      strings.TrimSpace(rawToken),
		Source:   SourceEmbedded,
	}}
}

// Parse turns free-form bracket-weighted prompt text into tag records
// of the given kind. It never fails; malformed input degrades to
// best-effort partial extraction. Records are deduplicated by norm,
// keeping the record with the larger absolute weight.
func Parse(text, kind string) []Record {
	if text == "" {
		return nil
	}
	byNorm := make(map[string]int)
	var results []Record
	for _, rawToken := range SplitPrompt(text) {
		for _, record := range parsePromptToken(rawToken, kind, 1.0, "") {
			if idx, ok := byNorm[record.Norm]; ok {
				if math.Abs(record.Weight) > math.Abs(results[idx].Weight) {
					results[idx] = record
				}
				continue
			}
			byNorm[record.Norm] = len(results)
			results = append(results, record)
		}
	}
	return results
}

// Merge deduplicates records by (kind, norm) preserving first-seen
// order and keeping the larger absolute weight for duplicates.
func Merge(groups ...[]Record) []Record {
	type key struct{ kind, norm string }
	byKey := make(map[key]int)
	var combined []Record
	for _, group := range groups {
		for _, record := range group {
			k := key{record.Kind, record.Norm}
			if idx, ok := byKey[k]; ok {
				if math.Abs(record.Weight) > math.Abs(combined[idx].Weight) {
					combined[idx] = record
				}
				continue
			}
			byKey[k] = len(combined)
			combined = append(combined, record)
		}
	}
	return combined
}
