package store

import (
	"regexp"
	"strings"
)

var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

// tokenize lowercases and strips punctuation, returning the unique token
// set — the spec permits "a lexical token-overlap metric (e.g. Jaccard on
// lowercased, punctuation-stripped tokens)" and that is exactly what this
// implements.
func tokenize(s string) map[string]struct{} {
	lower := strings.ToLower(s)
	parts := tokenSplit.Split(lower, -1)
	set := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		set[p] = struct{}{}
	}
	return set
}

// jaccard computes |A∩B| / |A∪B|, satisfying the property set §3/§8
// requires of the similarity score: symmetric, >= 0, identical inputs score
// strictly above any distinct pair (assuming the pair isn't a token-for-
// token permutation), and permutations of the same tokens score identically
// (set intersection/union ignores order entirely).
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// Scored pairs a template with the score it received against a query.
type Scored struct {
	Template Template
	Score    float64
}

// rankSimilar orders candidates by descending score, tie-broken by
// descending SuccessRate, then descending UsageCount, then descending
// LastUsedAt, per §4.3.
func rankSimilar(question string, candidates []Template) []Scored {
	queryTokens := tokenize(question)
	scored := make([]Scored, 0, len(candidates))
	for _, t := range candidates {
		score := jaccard(queryTokens, tokenize(t.QuestionPattern))
		scored = append(scored, Scored{Template: t, Score: score})
	}
	sortScored(scored)
	return scored
}

func sortScored(scored []Scored) {
	// Insertion sort is plenty for the small candidate sets a workflow
	// store realistically holds in one process, and keeps the four-way
	// tie-break comparison in one readable place.
	for i := 1; i < len(scored); i++ {
		j := i
		for j > 0 && less(scored[j], scored[j-1]) {
			scored[j], scored[j-1] = scored[j-1], scored[j]
			j--
		}
	}
}

// less reports whether a should sort before b (i.e. a ranks higher).
func less(a, b Scored) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Template.SuccessRate != b.Template.SuccessRate {
		return a.Template.SuccessRate > b.Template.SuccessRate
	}
	if a.Template.UsageCount != b.Template.UsageCount {
		return a.Template.UsageCount > b.Template.UsageCount
	}
	return a.Template.LastUsedAt.After(b.Template.LastUsedAt)
}
