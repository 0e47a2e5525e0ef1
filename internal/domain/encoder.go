package domain

import (
	"slices"
)

// LabelEncoder is a frozen, bidirectional category <-> integer mapping. Codes follow
// the sorted order of the distinct values seen at fit time.
type LabelEncoder struct {
	classes []string
	index   map[string]int
}

// FitLabelEncoder builds an encoder over the distinct values.
func FitLabelEncoder(values []string) *LabelEncoder {
	seen := make(map[string]struct{}, len(values))
	classes := make([]string, 0)
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		classes = append(classes, v)
	}
	slices.Sort(classes)

	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	return &LabelEncoder{classes: classes, index: index}
}

// Encode returns the code for v and whether v is in the vocabulary.
func (e *LabelEncoder) Encode(v string) (int, bool) {
	code, ok := e.index[v]
	return code, ok
}

// Decode returns the category for code and whether the code is valid.
func (e *LabelEncoder) Decode(code int) (string, bool) {
	if code < 0 || code >= len(e.classes) {
		return "", false
	}
	return e.classes[code], true
}

// Classes returns the frozen vocabulary in code order.
func (e *LabelEncoder) Classes() []string {
	return slices.Clone(e.classes)
}

// Len returns the vocabulary size.
func (e *LabelEncoder) Len() int { return len(e.classes) }
