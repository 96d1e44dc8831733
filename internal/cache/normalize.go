package cache

import (
	"strings"
	"unicode"
)

// stopwords are structural filler removed during normalization: articles,
// auxiliaries/modals, pronouns, and politeness words that carry no query
// intent.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {}, "being": {},
	"do": {}, "does": {}, "did": {},
	"can": {}, "could": {}, "would": {}, "should": {}, "shall": {}, "will": {},
	"may": {}, "might": {}, "must": {},
	"i": {}, "me": {}, "my": {}, "you": {}, "your": {}, "we": {}, "us": {}, "it": {},
	"please": {}, "thanks": {}, "thank": {}, "hello": {}, "hi": {}, "hey": {},
	"tell": {}, "give": {}, "show": {},
	"of": {}, "for": {}, "to": {}, "in": {}, "on": {}, "at": {}, "and": {}, "or": {},
	"about": {}, "some": {}, "any": {},
}

// preserved overrides the stoplist: interrogatives and other content-bearing
// words are kept even if a future stoplist edit would catch them. This is a
// deliberately asymmetric stoplist, not generic stop-word removal.
var preserved = map[string]struct{}{
	"how": {}, "why": {}, "what": {}, "when": {}, "where": {}, "who": {}, "which": {},
	"not": {}, "no": {},
}

// Normalize canonicalizes a query: lowercase, punctuation stripped,
// whitespace collapsed, stoplist applied. Two queries that normalize
// identically share a cache key. Normalize is idempotent.
func Normalize(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for _, r := range strings.ToLower(query) {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			// Punctuation separates words rather than merging them.
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	kept := fields[:0]
	for _, w := range fields {
		if _, keep := preserved[w]; keep {
			kept = append(kept, w)
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// Key derives the cache key for a query under a task prefix.
func Key(query, taskPrefix string) string {
	return taskPrefix + ":" + Normalize(query)
}

// Similarity returns the Jaccard similarity of the normalized word sets of
// a and b, in [0,1]. Two queries that both normalize to nothing score 1;
// query-length validation upstream keeps that case out of the serving path.
func Similarity(a, b string) float64 {
	setA := wordSet(Normalize(a))
	setB := wordSet(Normalize(b))

	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}

	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}
