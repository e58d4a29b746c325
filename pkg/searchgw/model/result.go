package model

// Strategy tags which rung of the relaxation ladder produced a result set.
type Strategy string

const (
	StrategyStrict            Strategy = "strict"
	StrategyRelaxedLocation   Strategy = "relaxed_location"
	StrategyRelaxedCategory   Strategy = "relaxed_category"
	StrategyTextOnly          Strategy = "text_only"
	StrategySuggestedCategory Strategy = "suggested_category"
	StrategyNoResults         Strategy = "no_results"
)

// TextMatch classifies how a listing's text matched the keywords. The
// classes are ordered: exact beats prefix beats trigram.
type TextMatch string

const (
	TextMatchExact   TextMatch = "exact"
	TextMatchPrefix  TextMatch = "prefix"
	TextMatchTrigram TextMatch = "trigram"
	TextMatchNone    TextMatch = "none"
)

// MatchBreakdown records which fields of the plan a listing agreed with.
type MatchBreakdown struct {
	City            bool      `json:"city"`
	Neighborhood    bool      `json:"neighborhood"`
	TransactionType bool      `json:"transactionType"`
	Text            TextMatch `json:"text"`
	AttributesMet   int       `json:"attributesMet"`
}

// AttributeMatchType summarizes attribute satisfaction for one result.
type AttributeMatchType string

const (
	AttrMatchExact   AttributeMatchType = "exact"
	AttrMatchPartial AttributeMatchType = "partial"
	AttrMatchNone    AttributeMatchType = "no_match"
)

// AttributeMatch is attached to every returned result when the plan
// requested attributes.
type AttributeMatch struct {
	Type      AttributeMatchType `json:"type"`
	Matched   []string           `json:"matched,omitempty"`
	Unmatched []string           `json:"unmatched,omitempty"`
	Note      string             `json:"note,omitempty"`
}

// RankedResult pairs a listing with its 0-100 match score against the plan.
type RankedResult struct {
	Listing         Listing        `json:"listing"`
	Score           int            `json:"score"`
	Breakdown       MatchBreakdown `json:"breakdown"`
	AttributeMatch  AttributeMatch `json:"attributeMatch"`
	Excluded        bool           `json:"-"`
	ExclusionReason string         `json:"-"`
}

// SearchResult is the single shape every renderer consumes. Which fields are
// populated depends on the intent: search fills Listings/Strategy, office
// intents fill Offices or Office, greeting/help fill nothing.
type SearchResult struct {
	Query    string     `json:"query"`
	Language Language   `json:"language"`
	Intent   IntentKind `json:"intent"`

	Plan     *QueryPlan `json:"plan,omitempty"`
	Strategy Strategy   `json:"strategy,omitempty"`

	Listings []RankedResult `json:"listings"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	Limit    int            `json:"limit"`

	// FallbackMessage is localized and only set on the no-results branch.
	FallbackMessage string   `json:"fallbackMessage,omitempty"`
	Suggestions     []string `json:"suggestions,omitempty"`

	Offices []Office `json:"offices,omitempty"`
	Office  *Office  `json:"office,omitempty"`

	// Transcription is set on the voice flow only.
	Transcription string `json:"transcription,omitempty"`
}

// Pagination derives the pagination block for the envelope meta.
func (r SearchResult) Pagination() Pagination {
	return NewPagination(r.Page, r.Limit, r.Total)
}
