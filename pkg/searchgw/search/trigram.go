package search

import (
	"strings"
	"unicode"
)

// trigrams extracts the pg_trgm-style trigram set of s: words are
// lowercased, padded with two leading and one trailing space, and sliced
// into rune triples.
func trigrams(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, word := range splitWords(s) {
		runes := []rune("  " + word + " ")
		for i := 0; i+3 <= len(runes); i++ {
			out[string(runes[i:i+3])] = struct{}{}
		}
	}
	return out
}

func splitWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// similarity is the Jaccard ratio of two trigram sets, matching what
// pg_trgm's similarity() computes.
func similarity(a, b string) float64 {
	ta, tb := trigrams(a), trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

// wordSimilarity returns the best trigram similarity between needle and any
// single word of haystack. This mirrors how the database's word_similarity
// branch admits rows, so scoring classifies the same rows as trigram hits.
func wordSimilarity(needle, haystack string) float64 {
	best := 0.0
	for _, word := range splitWords(haystack) {
		if s := similarity(needle, word); s > best {
			best = s
		}
	}
	return best
}
