package search

import (
	"strings"
	"testing"

	"github.com/kasioon/searchgw/pkg/searchgw/model"
)

func damascus() *model.City {
	return &model.City{ID: 1, Name: model.LocalizedName{Ar: "دمشق", En: "Damascus"}}
}

func TestScoreListingFullMatch(t *testing.T) {
	plan := model.QueryPlan{
		Query:               "شقة للإيجار في دمشق",
		Language:            model.LangArabic,
		MainKeyword:         "شقة",
		ExpandedKeywords:    []string{"شقة", "شقة للإيجار"},
		Category:            "apartments",
		City:                damascus(),
		LocationText:        "دمشق",
		TransactionType:     "rent",
		RequestedAttributes: map[string]string{"rooms": "3"},
	}
	l := model.Listing{
		ID:              1,
		Title:           "شقة للإيجار في المزة",
		CityID:          1,
		TransactionType: "rent",
		Attributes:      []model.AttributeValue{model.NumericValue("rooms", 3, "")},
	}

	r := scoreListing(plan, l)

	// 30 city + 20 transaction + 15 contains + 5 attribute.
	if r.Score != 70 {
		t.Errorf("Score = %d, want 70", r.Score)
	}
	if r.Excluded {
		t.Error("Excluded = true, want false")
	}
	b := r.Breakdown
	if !b.City || b.Neighborhood || !b.TransactionType {
		t.Errorf("Breakdown = %+v, want city+transaction", b)
	}
	if b.Text != model.TextMatchPrefix {
		t.Errorf("Text = %q, want prefix", b.Text)
	}
	if b.AttributesMet != 1 {
		t.Errorf("AttributesMet = %d, want 1", b.AttributesMet)
	}
	if r.AttributeMatch.Type != model.AttrMatchExact {
		t.Errorf("AttributeMatch.Type = %q, want exact", r.AttributeMatch.Type)
	}
	if r.AttributeMatch.Note != "تطابق 1 من 1 مواصفات مطلوبة" {
		t.Errorf("Note = %q", r.AttributeMatch.Note)
	}
}

func TestScoreListingExactTitle(t *testing.T) {
	plan := model.QueryPlan{
		Language:         model.LangEnglish,
		ExpandedKeywords: []string{"iphone 15"},
	}
	l := model.Listing{Title: "iPhone 15"}

	r := scoreListing(plan, l)
	if r.Breakdown.Text != model.TextMatchExact {
		t.Errorf("Text = %q, want exact", r.Breakdown.Text)
	}
	if r.Score != 25 {
		t.Errorf("Score = %d, want 25", r.Score)
	}
}

// Exact beats contains even when a different keyword only contains-matches.
func TestScoreListingTextPrecedence(t *testing.T) {
	plan := model.QueryPlan{
		Language:         model.LangArabic,
		ExpandedKeywords: []string{"جاكيت صوف", "قميص"},
	}
	l := model.Listing{Title: "جاكيت صوف مستعمل", Description: "قميص"}

	r := scoreListing(plan, l)
	if r.Breakdown.Text != model.TextMatchExact {
		t.Errorf("Text = %q, want exact via description", r.Breakdown.Text)
	}
}

func TestScoreListingTrigramFallback(t *testing.T) {
	plan := model.QueryPlan{
		Language:         model.LangArabic,
		ExpandedKeywords: []string{"تويتا"},
	}
	l := model.Listing{Title: "سيارة تويوتا حديثة"}

	r := scoreListing(plan, l)
	if r.Breakdown.Text != model.TextMatchTrigram {
		t.Errorf("Text = %q, want trigram", r.Breakdown.Text)
	}
	if r.Score != 8 {
		t.Errorf("Score = %d, want 8", r.Score)
	}
}

func TestScoreListingNeighborhoodIsCityAlternative(t *testing.T) {
	hood := model.LocalizedName{Ar: "المزة", En: "Mazzeh"}

	t.Run("wrong city but neighborhood token hits", func(t *testing.T) {
		plan := model.QueryPlan{
			Language:         model.LangArabic,
			ExpandedKeywords: []string{"مكتب"},
			City:             damascus(),
			LocationText:     "المزة",
		}
		l := model.Listing{Title: "عقار", CityID: 2, NeighborhoodName: hood}

		r := scoreListing(plan, l)
		if r.Breakdown.City || !r.Breakdown.Neighborhood {
			t.Errorf("Breakdown = %+v, want neighborhood only", r.Breakdown)
		}
		if r.Score != 15 {
			t.Errorf("Score = %d, want 15", r.Score)
		}
	})

	t.Run("city match suppresses neighborhood bonus", func(t *testing.T) {
		plan := model.QueryPlan{
			Language:         model.LangArabic,
			ExpandedKeywords: []string{"مكتب"},
			City:             damascus(),
			LocationText:     "المزة",
		}
		l := model.Listing{Title: "عقار", CityID: 1, NeighborhoodName: hood}

		r := scoreListing(plan, l)
		if !r.Breakdown.City || r.Breakdown.Neighborhood {
			t.Errorf("Breakdown = %+v, want city only", r.Breakdown)
		}
		if r.Score != 30 {
			t.Errorf("Score = %d, want 30", r.Score)
		}
	})
}

func TestScoreListingNumericExclusion(t *testing.T) {
	plan := model.QueryPlan{
		Language:            model.LangArabic,
		ExpandedKeywords:    []string{"شقة"},
		City:                damascus(),
		RequestedAttributes: map[string]string{"rooms": "10"},
	}
	l := model.Listing{
		Title:      "شقة",
		CityID:     1,
		Attributes: []model.AttributeValue{model.NumericValue("rooms", 2, "")},
	}

	r := scoreListing(plan, l)
	if !r.Excluded {
		t.Fatal("Excluded = false, want true")
	}
	if !strings.Contains(r.ExclusionReason, "rooms") {
		t.Errorf("ExclusionReason = %q, want rooms named", r.ExclusionReason)
	}
	// 30 city + 25 exact text - 20 penalty.
	if r.Score != 35 {
		t.Errorf("Score = %d, want 35", r.Score)
	}
	if r.AttributeMatch.Type != model.AttrMatchNone {
		t.Errorf("AttributeMatch.Type = %q, want no_match", r.AttributeMatch.Type)
	}
}

func TestScoreListingPartialAttributes(t *testing.T) {
	plan := model.QueryPlan{
		Language:         model.LangEnglish,
		ExpandedKeywords: []string{"apartment"},
		RequestedAttributes: map[string]string{
			"rooms": "3",
			"floor": "2",
		},
	}
	l := model.Listing{
		Title:      "apartment",
		Attributes: []model.AttributeValue{model.NumericValue("rooms", 3, "")},
	}

	r := scoreListing(plan, l)
	m := r.AttributeMatch
	if m.Type != model.AttrMatchPartial {
		t.Errorf("Type = %q, want partial", m.Type)
	}
	if len(m.Matched) != 1 || m.Matched[0] != "rooms" {
		t.Errorf("Matched = %v, want [rooms]", m.Matched)
	}
	if len(m.Unmatched) != 1 || m.Unmatched[0] != "floor" {
		t.Errorf("Unmatched = %v, want [floor]", m.Unmatched)
	}
	if m.Note != "matched 1 of 2 requested attributes" {
		t.Errorf("Note = %q", m.Note)
	}
	// 25 exact text + 5 one attribute.
	if r.Score != 30 {
		t.Errorf("Score = %d, want 30", r.Score)
	}
}

func TestScoreListingAttributeBonusCap(t *testing.T) {
	requested := make(map[string]string)
	var attrs []model.AttributeValue
	for _, slug := range []string{"a1", "a2", "a3", "a4", "a5", "a6"} {
		requested[slug] = "1"
		attrs = append(attrs, model.NumericValue(slug, 1, ""))
	}
	plan := model.QueryPlan{Language: model.LangEnglish, RequestedAttributes: requested}
	l := model.Listing{Title: "stuff", Attributes: attrs}

	r := scoreListing(plan, l)
	if r.Score != 25 {
		t.Errorf("Score = %d, want capped 25", r.Score)
	}
	if r.Breakdown.AttributesMet != 6 {
		t.Errorf("AttributesMet = %d, want 6", r.Breakdown.AttributesMet)
	}
	if r.AttributeMatch.Type != model.AttrMatchExact {
		t.Errorf("Type = %q, want exact", r.AttributeMatch.Type)
	}
}

func TestScoreListingClampsAtZero(t *testing.T) {
	plan := model.QueryPlan{
		Language:            model.LangEnglish,
		RequestedAttributes: map[string]string{"rooms": "10"},
	}
	l := model.Listing{
		Title:      "unrelated",
		Attributes: []model.AttributeValue{model.NumericValue("rooms", 2, "")},
	}

	r := scoreListing(plan, l)
	if r.Score != 0 {
		t.Errorf("Score = %d, want 0", r.Score)
	}
	if !r.Excluded {
		t.Error("Excluded = false, want true")
	}
}

func TestScoreListingNoRequestedAttributes(t *testing.T) {
	plan := model.QueryPlan{Language: model.LangArabic, ExpandedKeywords: []string{"شقة"}}
	r := scoreListing(plan, model.Listing{Title: "شقة"})

	if r.AttributeMatch.Type != model.AttrMatchExact {
		t.Errorf("Type = %q, want vacuous exact", r.AttributeMatch.Type)
	}
	if r.AttributeMatch.Note != "" {
		t.Errorf("Note = %q, want empty", r.AttributeMatch.Note)
	}
}

func TestMatchAttribute(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		value     model.AttributeValue
		want      attrOutcome
	}{
		{"within tolerance", "100", model.NumericValue("area", 105, "م²"), attrSatisfied},
		{"between tolerances", "100", model.NumericValue("area", 130, "م²"), attrNeutral},
		{"beyond half", "100", model.NumericValue("area", 160, "م²"), attrExcluded},
		{"inside range", "100-200", model.NumericValue("price", 150, "USD"), attrSatisfied},
		{"just outside range", "100-200", model.NumericValue("price", 95, "USD"), attrNeutral},
		{"near above range", "100-200", model.NumericValue("price", 240, "USD"), attrNeutral},
		{"far outside range", "100-200", model.NumericValue("price", 350, "USD"), attrExcluded},
		{"arabic digits", "٣", model.NumericValue("rooms", 3, ""), attrSatisfied},
		{"text contains folded", "احمر", model.TextValue("color", "أحمر غامق"), attrSatisfied},
		{"text mismatch never excludes", "ازرق", model.TextValue("color", "أحمر"), attrNeutral},
		{"text request on numeric value", "ديزل", model.NumericValue("year", 2015, ""), attrNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchAttribute(tt.requested, tt.value); got != tt.want {
				t.Errorf("matchAttribute(%q) = %v, want %v", tt.requested, got, tt.want)
			}
		})
	}
}

func TestParseNumericRequest(t *testing.T) {
	tests := []struct {
		in      string
		ok      bool
		value   float64
		isRange bool
		lo, hi  float64
	}{
		{in: "3", ok: true, value: 3},
		{in: " 3 ", ok: true, value: 3},
		{in: "٣", ok: true, value: 3},
		{in: "100,000", ok: true, value: 100000},
		{in: "3.5", ok: true, value: 3.5},
		{in: "٣٫٥", ok: true, value: 3.5},
		{in: "-5", ok: true, value: -5},
		{in: "50-100", ok: true, isRange: true, lo: 50, hi: 100},
		{in: "100-50", ok: true, isRange: true, lo: 50, hi: 100},
		{in: "٢٠١٥–٢٠٢٠", ok: true, isRange: true, lo: 2015, hi: 2020},
		{in: "abc", ok: false},
		{in: "", ok: false},
		{in: "10-", ok: false},
		{in: "1-2-3", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			nr, ok := parseNumericRequest(tt.in)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if nr.isRange != tt.isRange {
				t.Fatalf("isRange = %v, want %v", nr.isRange, tt.isRange)
			}
			if tt.isRange {
				if nr.lo != tt.lo || nr.hi != tt.hi {
					t.Errorf("range = [%v, %v], want [%v, %v]", nr.lo, nr.hi, tt.lo, tt.hi)
				}
			} else if nr.value != tt.value {
				t.Errorf("value = %v, want %v", nr.value, tt.value)
			}
		})
	}
}
