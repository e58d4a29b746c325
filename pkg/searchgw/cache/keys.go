// Package cache – keys.go builds the namespaced cache keys. Inputs are
// hashed with 128-bit FNV-1a so keys stay short and never leak user text
// into Redis key listings; fields are joined with NUL so ("ab","c") and
// ("a","bc") cannot collide.
package cache

import (
	"encoding/hex"
	"hash/fnv"
	"strconv"
)

// Key namespaces.
const (
	nsIntent  = "ai:intent:"
	nsParams  = "ai:params:"
	nsSearch  = "search:"
	nsPopular = "popular:"
	nsOffice  = "office:"
)

// SearchPrefix is the namespace the daily sweep clears.
const SearchPrefix = nsSearch

// hashKey returns the hex digest of the canonical field sequence.
func hashKey(fields ...string) string {
	h := fnv.New128a()
	for i, f := range fields {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IntentKey keys classifier results by utterance and language.
func IntentKey(utterance, language string) string {
	return nsIntent + hashKey(utterance, language)
}

// ParamsKey keys planner output by query and language.
func ParamsKey(query, language string) string {
	return nsParams + hashKey(query, language)
}

// SearchKey keys an executed result set by the canonical plan fields and
// pagination.
func SearchKey(planFingerprint string, page, limit int) string {
	return nsSearch + hashKey(planFingerprint, strconv.Itoa(page), strconv.Itoa(limit))
}

// PopularKey keys the most-viewed / most-impressioned result sets.
func PopularKey(kind string, limit int) string {
	return nsPopular + hashKey(kind, strconv.Itoa(limit))
}

// OfficeKey keys a resolved office by the user's id-or-name reference.
func OfficeKey(ref string) string {
	return nsOffice + hashKey(ref)
}
