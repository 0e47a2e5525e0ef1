package domain

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
)

// DefaultKeywordPattern matches runs of two or more Han characters.
const DefaultKeywordPattern = `\p{Han}{2,}`

// KeywordVocabulary holds the top-K note tokens by corpus frequency.
type KeywordVocabulary struct {
	pattern *regexp.Regexp
	tokens  []string
	index   map[string]int
}

// FitKeywords tokenizes every note and keeps the k most frequent tokens. Frequency ties
// are broken lexicographically and the kept tokens are ordered lexicographically.
func FitKeywords(notes []string, k int, pattern string) (*KeywordVocabulary, error) {
	if pattern == "" {
		pattern = DefaultKeywordPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile keyword pattern: %w", err)
	}

	freq := make(map[string]int)
	for _, note := range notes {
		for _, tok := range re.FindAllString(note, -1) {
			freq[tok]++
		}
	}

	type tokenCount struct {
		token string
		count int
	}
	ranked := make([]tokenCount, 0, len(freq))
	for tok, n := range freq {
		ranked = append(ranked, tokenCount{tok, n})
	}
	slices.SortFunc(ranked, func(a, b tokenCount) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return cmp.Compare(a.token, b.token)
	})
	if k < len(ranked) {
		ranked = ranked[:max(k, 0)]
	}

	v := &KeywordVocabulary{pattern: re, index: make(map[string]int, len(ranked))}
	for _, tc := range ranked {
		v.tokens = append(v.tokens, tc.token)
	}
	slices.Sort(v.tokens)
	for i, tok := range v.tokens {
		v.index[tok] = i
	}
	return v, nil
}

// Tokens returns the kept tokens in column order.
func (v *KeywordVocabulary) Tokens() []string { return slices.Clone(v.tokens) }

// Counts returns the occurrences of each kept token in note, in column order.
func (v *KeywordVocabulary) Counts(note string) []float64 {
	out := make([]float64, len(v.tokens))
	for _, tok := range v.pattern.FindAllString(note, -1) {
		if i, ok := v.index[tok]; ok {
			out[i]++
		}
	}
	return out
}
