// Package textutil provides the small text helpers shared by the memory,
// scoring, knowledge and cache packages: tokenization, keyword extraction
// and set normalization.
package textutil

import (
	"sort"
	"strings"
	"unicode"
)

// stopWords are dropped by Keywords. The list is intentionally short; the
// scoring engine only needs to avoid matching on filler words.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "had": {}, "has": {},
	"have": {}, "he": {}, "her": {}, "him": {}, "his": {}, "i": {}, "in": {},
	"is": {}, "it": {}, "its": {}, "me": {}, "my": {}, "of": {}, "on": {},
	"or": {}, "our": {}, "she": {}, "so": {}, "that": {}, "the": {},
	"their": {}, "them": {}, "then": {}, "there": {}, "they": {}, "this": {},
	"to": {}, "was": {}, "we": {}, "were": {}, "what": {}, "when": {},
	"with": {}, "you": {}, "your": {},
}

// Tokenize splits text into lower-cased word tokens. Letters and digits
// form tokens; everything else separates them.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Keywords extracts up to max distinct keywords from text, skipping stop
// words and tokens shorter than two runes. The result is sorted so that it
// can be compared and hashed directly. max <= 0 means no limit. The result
// is never nil.
func Keywords(text string, max int) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, tok := range Tokenize(text) {
		if len([]rune(tok)) < 2 {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if max > 0 && len(out) >= max {
			break
		}
	}
	sort.Strings(out)
	return out
}

// NormalizeSet lower-cases, trims, de-duplicates and sorts values. Empty
// values are dropped. The result is never nil.
func NormalizeSet(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// SplitTags parses a comma-separated tag string into a normalized set.
func SplitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	return NormalizeSet(strings.Split(raw, ","))
}

// Union merges two normalized sets into a new normalized set.
func Union(a, b []string) []string {
	merged := make([]string, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	return NormalizeSet(merged)
}

// Jaccard returns |a ∩ b| / |a ∪ b| for two normalized (sorted, unique)
// sets. Two empty sets have similarity 0.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	i, j, inter := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			inter++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Truncate shortens s to at most n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
