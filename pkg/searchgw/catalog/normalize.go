// Package catalog – normalize.go folds user text for catalog lookups.
// Arabic input arrives with inconsistent hamza seats, taa marbuta spellings,
// and stray diacritics; folding both sides makes «دمشـق» and «دمشق» the same
// key.
package catalog

import "strings"

var arabicFolder = strings.NewReplacer(
	"أ", "ا",
	"إ", "ا",
	"آ", "ا",
	"ٱ", "ا",
	"ة", "ه",
	"ى", "ي",
	"ئ", "ي",
	"ؤ", "و",
	"ـ", "", // tatweel
	"ً", "", // fathatan
	"ٌ", "", // dammatan
	"ٍ", "", // kasratan
	"َ", "", // fatha
	"ُ", "", // damma
	"ِ", "", // kasra
	"ّ", "", // shadda
	"ْ", "", // sukun
)

// Fold lower-cases, trims, and normalizes Arabic orthography so lookups are
// stable across spelling variants. Empty input folds to empty.
func Fold(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return ""
	}
	return arabicFolder.Replace(s)
}

// containsFold reports substring containment over already-folded strings.
func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(haystack, needle)
}

// FoldContains folds both sides, then tests containment either way. Used by
// location token matching where «المزة» should hit «مزة».
func FoldContains(a, b string) bool {
	fa, fb := Fold(a), Fold(b)
	if fa == "" || fb == "" {
		return false
	}
	return strings.Contains(fa, fb) || strings.Contains(fb, fa)
}
