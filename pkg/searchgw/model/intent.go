package model

import (
	"sort"
	"strconv"
	"strings"
)

// IntentKind is the closed set of request intents the classifier can emit.
type IntentKind string

const (
	IntentSearch           IntentKind = "search"
	IntentMostViewed       IntentKind = "most_viewed"
	IntentMostImpressioned IntentKind = "most_impressioned"
	IntentGetOffices       IntentKind = "get_offices"
	IntentOfficeDetails    IntentKind = "get_office_details"
	IntentOfficeListings   IntentKind = "get_office_listings"
	IntentGreeting         IntentKind = "greeting"
	IntentHelp             IntentKind = "help"
)

// Valid reports whether k is one of the eight known kinds.
func (k IntentKind) Valid() bool {
	switch k {
	case IntentSearch, IntentMostViewed, IntentMostImpressioned,
		IntentGetOffices, IntentOfficeDetails, IntentOfficeListings,
		IntentGreeting, IntentHelp:
		return true
	}
	return false
}

// DefaultLimit applies when an intent does not carry an explicit limit.
const DefaultLimit = 10

// Intent is the classifier output: the kind plus the sub-parameters the
// utterance carried.
type Intent struct {
	Kind   IntentKind `json:"kind"`
	Query  string     `json:"query,omitempty"`
	Office string     `json:"office,omitempty"`
	Limit  int        `json:"limit,omitempty"`
}

// EffectiveLimit returns the extracted limit clamped to [1, 50], or
// DefaultLimit when none was extracted.
func (i Intent) EffectiveLimit() int {
	if i.Limit <= 0 {
		return DefaultLimit
	}
	if i.Limit > 50 {
		return 50
	}
	return i.Limit
}

// QueryPlan is the planner output for search intents: keywords, category
// candidates, and the structured hints extracted from the utterance. It
// lives for a single request.
type QueryPlan struct {
	Query    string   `json:"query"`
	Language Language `json:"language"`

	MainKeyword      string   `json:"mainKeyword"`
	ExpandedKeywords []string `json:"expandedKeywords"`

	// Category is a verified leaf slug, empty when narrowing failed.
	// SuggestedCategories keeps every candidate the planner proposed,
	// leaf or not, for the suggested-category fallback strategy.
	Category            string   `json:"category,omitempty"`
	SuggestedCategories []string `json:"suggestedCategories,omitempty"`

	City            *City  `json:"city,omitempty"`
	LocationText    string `json:"locationText,omitempty"`
	TransactionType string `json:"transactionType,omitempty"`

	RequestedAttributes map[string]string `json:"requestedAttributes,omitempty"`
	PriceHint           string            `json:"priceHint,omitempty"`
	ConditionHint       string            `json:"conditionHint,omitempty"`
}

// Keywords returns the expanded set, falling back to the raw query so the
// executor always has at least one term to match on.
func (p QueryPlan) Keywords() []string {
	if len(p.ExpandedKeywords) > 0 {
		return p.ExpandedKeywords
	}
	if p.Query != "" {
		return []string{p.Query}
	}
	return nil
}

// Fingerprint serializes the plan fields that influence search results
// into a stable string, used to key cached result sets. Attribute keys are
// sorted so equivalent plans always collide.
func (p QueryPlan) Fingerprint() string {
	var b strings.Builder
	sep := func() { b.WriteByte(0x1f) }
	b.WriteString(string(p.Language))
	sep()
	b.WriteString(strings.Join(p.Keywords(), ","))
	sep()
	b.WriteString(p.Category)
	sep()
	b.WriteString(strings.Join(p.SuggestedCategories, ","))
	sep()
	if p.City != nil {
		b.WriteString(strconv.FormatInt(p.City.ID, 10))
	}
	sep()
	b.WriteString(strings.ToLower(p.LocationText))
	sep()
	b.WriteString(p.TransactionType)
	sep()
	attrKeys := make([]string, 0, len(p.RequestedAttributes))
	for k := range p.RequestedAttributes {
		attrKeys = append(attrKeys, k)
	}
	sort.Strings(attrKeys)
	for _, k := range attrKeys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p.RequestedAttributes[k])
		b.WriteByte(';')
	}
	return b.String()
}

// MaxExpandedKeywords bounds the keyword set, main keyword included.
const MaxExpandedKeywords = 5

// NormalizeKeywords dedupes case-insensitively, guarantees the main keyword
// is present, and caps the set at MaxExpandedKeywords. Order is preserved
// with the main keyword first.
func NormalizeKeywords(main string, kws []string) []string {
	out := make([]string, 0, MaxExpandedKeywords)
	seen := make(map[string]struct{}, MaxExpandedKeywords)
	add := func(kw string) {
		kw = strings.TrimSpace(kw)
		if kw == "" || len(out) >= MaxExpandedKeywords {
			return
		}
		folded := strings.ToLower(kw)
		if _, dup := seen[folded]; dup {
			return
		}
		seen[folded] = struct{}{}
		out = append(out, kw)
	}
	add(main)
	for _, kw := range kws {
		add(kw)
	}
	return out
}
