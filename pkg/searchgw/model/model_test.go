package model

import (
	"strings"
	"testing"
)

func TestListingURL(t *testing.T) {
	l := Listing{ID: 4821}
	want := "https://www.kasioon.com/listing/4821"
	if got := l.URL(); got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
	if got := OfficeURL("a1b2"); got != "https://www.kasioon.com/office/a1b2" {
		t.Errorf("OfficeURL() = %q", got)
	}
}

func TestAttributeValue(t *testing.T) {
	t.Run("numeric", func(t *testing.T) {
		v := NumericValue("rooms", 3, "")
		if !v.IsNumeric() || *v.Numeric != 3 {
			t.Fatalf("numeric value not set: %+v", v)
		}
		if v.Text != nil {
			t.Errorf("numeric value must not carry text")
		}
	})

	t.Run("text", func(t *testing.T) {
		v := TextValue("brand", "تويوتا")
		if v.IsNumeric() {
			t.Fatalf("text value reports numeric")
		}
		if v.Text == nil || *v.Text != "تويوتا" {
			t.Errorf("text not kept: %+v", v)
		}
	})

	t.Run("display", func(t *testing.T) {
		if got := NumericValue("price", 150000, "SYP").Display(); got != "150000 SYP" {
			t.Errorf("Display() = %q", got)
		}
		if got := NumericValue("rooms", 3, "").Display(); got != "3" {
			t.Errorf("Display() = %q", got)
		}
		if got := TextValue("color", "أبيض").Display(); got != "أبيض" {
			t.Errorf("Display() = %q", got)
		}
	})

	t.Run("normalize both set", func(t *testing.T) {
		n := 5.0
		s := "5"
		v, ok := AttributeValue{Slug: "rooms", Numeric: &n, Text: &s}.Normalize()
		if !ok {
			t.Fatalf("normalize rejected a repairable value")
		}
		if v.Text != nil || v.Numeric == nil {
			t.Errorf("numeric must win: %+v", v)
		}
	})

	t.Run("normalize empty", func(t *testing.T) {
		if _, ok := (AttributeValue{Slug: "rooms"}).Normalize(); ok {
			t.Errorf("empty value must be dropped")
		}
	})

	t.Run("normalize strips unit from text", func(t *testing.T) {
		s := "used"
		v, ok := AttributeValue{Slug: "condition", Text: &s, Unit: "x"}.Normalize()
		if !ok || v.Unit != "" {
			t.Errorf("unit must be cleared for text values: %+v", v)
		}
	})
}

func TestListingPrice(t *testing.T) {
	l := Listing{Attributes: []AttributeValue{
		TextValue("brand", "kia"),
		NumericValue("price", 9500, "USD"),
	}}
	v, cur, ok := l.Price()
	if !ok || v != 9500 || cur != "USD" {
		t.Errorf("Price() = %v %q %v", v, cur, ok)
	}
	if _, _, ok := (Listing{}).Price(); ok {
		t.Errorf("missing price must report ok=false")
	}
}

func TestLocalizedName(t *testing.T) {
	n := LocalizedName{Ar: "دمشق", En: "Damascus"}
	if got := n.In(LangArabic); got != "دمشق" {
		t.Errorf("In(ar) = %q", got)
	}
	if got := n.In(LangEnglish); got != "Damascus" {
		t.Errorf("In(en) = %q", got)
	}
	onlyAr := LocalizedName{Ar: "حلب"}
	if got := onlyAr.In(LangEnglish); got != "حلب" {
		t.Errorf("missing English must fall back, got %q", got)
	}
}

func TestNormalizeKeywords(t *testing.T) {
	t.Run("main keyword always present", func(t *testing.T) {
		got := NormalizeKeywords("toyota", []string{"تويوتا", "camry"})
		if len(got) == 0 || got[0] != "toyota" {
			t.Fatalf("main keyword missing or not first: %v", got)
		}
	})

	t.Run("case-insensitive dedupe", func(t *testing.T) {
		got := NormalizeKeywords("iPhone", []string{"IPHONE", "iphone", "ايفون"})
		if len(got) != 2 {
			t.Fatalf("want 2 keywords, got %v", got)
		}
	})

	t.Run("cap at five", func(t *testing.T) {
		got := NormalizeKeywords("a", []string{"b", "c", "d", "e", "f", "g"})
		if len(got) != MaxExpandedKeywords {
			t.Fatalf("want %d keywords, got %v", MaxExpandedKeywords, got)
		}
	})

	t.Run("blank entries dropped", func(t *testing.T) {
		got := NormalizeKeywords("شقة", []string{" ", "", "شقه"})
		if len(got) != 2 {
			t.Fatalf("want 2 keywords, got %v", got)
		}
	})
}

func TestIntentKind(t *testing.T) {
	valid := []IntentKind{
		IntentSearch, IntentMostViewed, IntentMostImpressioned,
		IntentGetOffices, IntentOfficeDetails, IntentOfficeListings,
		IntentGreeting, IntentHelp,
	}
	for _, k := range valid {
		if !k.Valid() {
			t.Errorf("%s must be valid", k)
		}
	}
	if IntentKind("order_pizza").Valid() {
		t.Errorf("unknown kind accepted")
	}
}

func TestEffectiveLimit(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{0, DefaultLimit},
		{-3, DefaultLimit},
		{7, 7},
		{50, 50},
		{51, 50},
	}
	for _, c := range cases {
		if got := (Intent{Limit: c.in}).EffectiveLimit(); got != c.want {
			t.Errorf("EffectiveLimit(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestPagination(t *testing.T) {
	p := NewPagination(2, 10, 25)
	if p.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3", p.TotalPages)
	}
	if p := NewPagination(1, 10, 0); p.TotalPages != 0 {
		t.Errorf("empty total must give 0 pages, got %d", p.TotalPages)
	}
}

func TestPlanKeywordsFallback(t *testing.T) {
	p := QueryPlan{Query: "بدي سيارة"}
	kws := p.Keywords()
	if len(kws) != 1 || kws[0] != "بدي سيارة" {
		t.Errorf("Keywords() = %v", kws)
	}
	p.ExpandedKeywords = []string{"سيارة", "car"}
	if got := p.Keywords(); len(got) != 2 {
		t.Errorf("Keywords() = %v", got)
	}
}

func TestSourceAndLanguage(t *testing.T) {
	for _, s := range []Source{SourceAPI, SourceTelegram, SourceWhatsApp, SourceWebsite, SourceApp} {
		if !s.Valid() {
			t.Errorf("%s must be valid", s)
		}
	}
	if Source("discord").Valid() {
		t.Errorf("unknown source accepted")
	}
	if !LangArabic.Valid() || !LangEnglish.Valid() || Language("fr").Valid() {
		t.Errorf("language validity wrong")
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		text string
		want Language
	}{
		{"شقة للإيجار في دمشق", LangArabic},
		{"apartment for rent", LangEnglish},
		{"Toyota كورولا 2015", LangArabic},
		{"", LangEnglish},
		{"123-456", LangEnglish},
	}
	for _, tt := range tests {
		if got := DetectLanguage(tt.text); got != tt.want {
			t.Errorf("DetectLanguage(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestEnvelope(t *testing.T) {
	ok := OK(map[string]string{"x": "y"}, &Meta{Intent: string(IntentSearch)})
	if !ok.Success || ok.Error != nil {
		t.Errorf("OK envelope malformed: %+v", ok)
	}
	e := Err(404, "لم يتم العثور على المكتب المطلوب", nil)
	if e.Success || e.Error == nil || e.Error.Status != 404 {
		t.Errorf("Err envelope malformed: %+v", e)
	}
	if !strings.Contains(e.String(), "404") {
		t.Errorf("String() = %q", e.String())
	}
}
