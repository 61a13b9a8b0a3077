package event

import (
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// Normalize lower-cases a title, strips punctuation, and collapses
// whitespace runs, so near-identical titles from the same source map to one
// fingerprint ("Bitcoin Hits $50k!!" == "bitcoin hits 50k").
func Normalize(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	space := true // swallow leading whitespace
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r):
			if !space {
				b.WriteByte(' ')
				space = true
			}
		default:
			// punctuation and symbols drop out entirely
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Fingerprint returns the dedup key for a title+source pair.
// Same normalized title from the same source collapses to one key;
// the same story from a different source does not (the filter engine's
// recent-title gate covers that case).
func Fingerprint(title, sourceID string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(Normalize(title)))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(strings.TrimSpace(strings.ToLower(sourceID))))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Tokens returns the normalized title's token set.
func Tokens(title string) map[string]struct{} {
	norm := Normalize(title)
	if norm == "" {
		return nil
	}
	set := make(map[string]struct{})
	for _, t := range strings.Split(norm, " ") {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

// Similarity computes the token Jaccard index of two titles in [0,1].
// Two empty titles are considered identical.
func Similarity(a, b string) float64 {
	ta, tb := Tokens(a), Tokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}
