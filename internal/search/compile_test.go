package search

import (
	"reflect"
	"strings"
	"testing"
)

func TestNormalizePathPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		root    string
		want    string
	}{
		{
			name:    "bare text becomes substring wildcard",
			pattern: "vacation",
			root:    "/library",
			want:    "*vacation*",
		},
		{
			name:    "trailing slash becomes directory wildcard",
			pattern: "2024/Favorites/",
			root:    "/library",
			want:    "*/2024/Favorites/*",
		},
		{
			name:    "primary root prefix is stripped",
			pattern: "/library/2024/a.png",
			root:    "/library",
			want:    "*2024/a.png*",
		},
		{
			name:    "other absolute path stays absolute",
			pattern: "/mnt/extra/b.png",
			root:    "/library",
			want:    "*/mnt/extra/b.png*",
		},
		{
			name:    "existing wildcards left alone",
			pattern: "2024/*.png",
			root:    "/library",
			want:    "2024/*.png",
		},
		{
			name:    "question mark counts as a wildcard",
			pattern: "img_?.png",
			root:    "/library",
			want:    "img_?.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizePathPattern(tt.pattern, tt.root)
			if got != tt.want {
				t.Errorf("normalizePathPattern(%q) = %q, want %q", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestFTSQuote(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"blue_eyes", `"blue_eyes"`},
		{"dark-skinned_female", `"dark-skinned_female"`},
		{"rating:general", `"rating:general"`},
		{`odd"quote`, `"odd""quote"`},
	}
	for _, tt := range tests {
		if got := ftsQuote(tt.input); got != tt.want {
			t.Errorf("ftsQuote(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestBuildMatchedCTE(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantParams []any
		wantParts  []string
	}{
		{
			name:       "single positive term is quoted",
			query:      "dark-skinned_female",
			wantParams: []any{`norm:"dark-skinned_female"`},
			wantParts:  []string{"WITH matched AS", "id IN ("},
		},
		{
			name:       "negative term excludes",
			query:      "-dark-skinned_female",
			wantParams: []any{`norm:"dark-skinned_female"`},
			wantParts:  []string{"id NOT IN ("},
		},
		{
			name:       "positives intersect",
			query:      "tag1, tag2",
			wantParams: []any{`norm:"tag1"`, `norm:"tag2"`},
			wantParts:  []string{" INTERSECT "},
		},
		{
			name:       "negatives union",
			query:      "-tag1, -tag2",
			wantParams: []any{`norm:"tag1"`, `norm:"tag2"`},
			wantParts:  []string{" UNION "},
		},
		{
			name:       "kind scope binds the kind parameter",
			query:      "char:alice",
			wantParams: []any{"character", `norm:"alice"`},
			wantParts:  []string{"kind=?"},
		},
		{
			name:       "path filter globs",
			query:      "path:vacation",
			wantParams: []any{"*vacation*"},
			wantParts:  []string{"path GLOB ?"},
		},
		{
			name:       "metadata text filter likes",
			query:      "generator:novelai",
			wantParams: []any{"%novelai%"},
			wantParts:  []string{"generator LIKE ?"},
		},
		{
			name:       "numeric filter converts underscore decimal",
			query:      "cfg_scale:7.5",
			wantParams: []any{7.5},
			wantParts:  []string{"cfg_scale = ?"},
		},
		{
			name:       "non-numeric steps falls back to substring",
			query:      "steps:low",
			wantParams: []any{"%low%"},
			wantParts:  []string{"CAST(steps AS TEXT) LIKE ?"},
		},
		{
			name:       "no tokens selects everything",
			query:      "",
			wantParams: nil,
			wantParts:  []string{"WITH matched AS (SELECT id AS image_id FROM images)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cte, params := buildMatchedCTE(ParseQuery(tt.query), "")
			if !reflect.DeepEqual(params, tt.wantParams) {
				t.Errorf("params = %v, want %v", params, tt.wantParams)
			}
			for _, part := range tt.wantParts {
				if !strings.Contains(cte, part) {
					t.Errorf("cte missing %q:\n%s", part, cte)
				}
			}
		})
	}
}
