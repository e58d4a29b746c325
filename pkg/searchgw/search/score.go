package search

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kasioon/searchgw/pkg/searchgw/catalog"
	"github.com/kasioon/searchgw/pkg/searchgw/model"
)

// Score weights. The total is clamped to [0, 100].
const (
	cityScore         = 30
	neighborhoodScore = 15
	txScore           = 20
	textExactScore    = 25
	textPrefixScore   = 15
	textTrigramScore  = 8
	attrScore         = 5
	attrScoreCap      = 25
	exclusionPenalty  = 20

	trigramThreshold = 0.2
	// Numeric attributes satisfy within 10% of the request and exclude
	// beyond 50% disagreement; between the two they are neutral.
	satisfyTolerance = 0.1
	excludeTolerance = 0.5
)

// scoreListing ranks one listing against the plan. Pure: everything it
// needs is in its arguments, so re-scoring the same pair always agrees.
func scoreListing(plan model.QueryPlan, l model.Listing) model.RankedResult {
	r := model.RankedResult{Listing: l}
	score := 0

	if plan.City != nil && l.CityID == plan.City.ID {
		score += cityScore
		r.Breakdown.City = true
	} else if matchNeighborhoodToken(plan.LocationText, l.NeighborhoodName) {
		score += neighborhoodScore
		r.Breakdown.Neighborhood = true
	}

	if plan.TransactionType != "" && l.TransactionType == plan.TransactionType {
		score += txScore
		r.Breakdown.TransactionType = true
	}

	r.Breakdown.Text = classifyText(plan.Keywords(), l.Title, l.Description)
	switch r.Breakdown.Text {
	case model.TextMatchExact:
		score += textExactScore
	case model.TextMatchPrefix:
		score += textPrefixScore
	case model.TextMatchTrigram:
		score += textTrigramScore
	}

	attrBonus, match, excluded, reason := matchAttributes(plan, l)
	score += attrBonus
	if excluded {
		score -= exclusionPenalty
		r.Excluded = true
		r.ExclusionReason = reason
	}
	r.Breakdown.AttributesMet = len(match.Matched)
	r.AttributeMatch = match

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	r.Score = score
	return r
}

// matchNeighborhoodToken reports whether any whitespace token of the free
// location text matches the listing's neighborhood name.
func matchNeighborhoodToken(locationText string, hood model.LocalizedName) bool {
	if locationText == "" || (hood.Ar == "" && hood.En == "") {
		return false
	}
	for _, token := range strings.Fields(locationText) {
		if catalog.FoldContains(hood.Ar, token) || catalog.FoldContains(hood.En, token) {
			return true
		}
	}
	return false
}

// classifyText finds the strongest match class any keyword achieves over
// title and description: exact equality, then contains, then trigram.
func classifyText(keywords []string, title, description string) model.TextMatch {
	ft := catalog.Fold(title)
	fd := catalog.Fold(description)

	folded := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if f := catalog.Fold(kw); f != "" {
			folded = append(folded, f)
		}
	}

	for _, kw := range folded {
		if kw == ft || kw == fd {
			return model.TextMatchExact
		}
	}
	for _, kw := range folded {
		if strings.Contains(ft, kw) || strings.Contains(fd, kw) {
			return model.TextMatchPrefix
		}
	}
	for _, kw := range folded {
		if wordSimilarity(kw, ft) >= trigramThreshold || wordSimilarity(kw, fd) >= trigramThreshold {
			return model.TextMatchTrigram
		}
	}
	return model.TextMatchNone
}

type attrOutcome int

const (
	attrSatisfied attrOutcome = iota
	attrNeutral
	attrExcluded
	attrMissing
)

// matchAttributes walks the requested attributes against the listing's bag
// and returns the score bonus, the classification, and the exclusion
// verdict.
func matchAttributes(plan model.QueryPlan, l model.Listing) (bonus int, match model.AttributeMatch, excluded bool, reason string) {
	if len(plan.RequestedAttributes) == 0 {
		match.Type = model.AttrMatchExact
		return 0, match, false, ""
	}

	for _, slug := range sortedKeys(plan.RequestedAttributes) {
		requested := plan.RequestedAttributes[slug]
		av, found := l.Attribute(slug)
		if !found {
			match.Unmatched = append(match.Unmatched, slug)
			continue
		}
		switch matchAttribute(requested, av) {
		case attrSatisfied:
			match.Matched = append(match.Matched, slug)
			if bonus < attrScoreCap {
				bonus += attrScore
			}
		case attrExcluded:
			match.Unmatched = append(match.Unmatched, slug)
			excluded = true
			reason = fmt.Sprintf("%s differs from requested %s by more than half", slug, requested)
		default:
			match.Unmatched = append(match.Unmatched, slug)
		}
	}

	requestedCount := len(plan.RequestedAttributes)
	switch {
	case len(match.Matched) == requestedCount:
		match.Type = model.AttrMatchExact
	case len(match.Matched) > 0:
		match.Type = model.AttrMatchPartial
	default:
		match.Type = model.AttrMatchNone
	}
	match.Note = matchNote(plan.Language, len(match.Matched), requestedCount)
	return bonus, match, excluded, reason
}

// matchAttribute applies the satisfaction rules for one requested value.
// Numeric requests use relative tolerance or range containment; text
// requests use folded equality or containment. Only numeric disagreement
// can exclude.
func matchAttribute(requested string, av model.AttributeValue) attrOutcome {
	if av.IsNumeric() {
		actual := *av.Numeric
		if nr, ok := parseNumericRequest(requested); ok {
			if nr.isRange {
				if actual >= nr.lo && actual <= nr.hi {
					return attrSatisfied
				}
				if relDiff(actual, nr.nearestBound(actual)) > excludeTolerance {
					return attrExcluded
				}
				return attrNeutral
			}
			diff := relDiff(actual, nr.value)
			if diff <= satisfyTolerance {
				return attrSatisfied
			}
			if diff > excludeTolerance {
				return attrExcluded
			}
			return attrNeutral
		}
		// Text request against a numeric value: compare display forms.
		if catalog.FoldContains(av.Display(), requested) {
			return attrSatisfied
		}
		return attrNeutral
	}

	if av.Text != nil && catalog.FoldContains(*av.Text, requested) {
		return attrSatisfied
	}
	return attrNeutral
}

// relDiff is the relative difference |actual − requested| / max(1, requested).
func relDiff(actual, requested float64) float64 {
	denom := requested
	if denom < 0 {
		denom = -denom
	}
	if denom < 1 {
		denom = 1
	}
	d := actual - requested
	if d < 0 {
		d = -d
	}
	return d / denom
}

func matchNote(lang model.Language, matched, requested int) string {
	if requested == 0 {
		return ""
	}
	if lang == model.LangArabic {
		return fmt.Sprintf("تطابق %d من %d مواصفات مطلوبة", matched, requested)
	}
	return fmt.Sprintf("matched %d of %d requested attributes", matched, requested)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
