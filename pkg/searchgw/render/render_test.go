package render

import (
	"strings"
	"testing"

	"github.com/kasioon/searchgw/pkg/searchgw/model"
)

func rankedListing(id int64, title string, price float64) model.RankedResult {
	l := model.Listing{
		ID:              id,
		Title:           title,
		CityID:          1,
		CityName:        model.LocalizedName{Ar: "دمشق", En: "Damascus"},
		TransactionType: "rent",
	}
	if price > 0 {
		l.Attributes = []model.AttributeValue{model.NumericValue("price", price, "SYP")}
	}
	return model.RankedResult{Listing: l, Score: 70}
}

func searchResult(lang model.Language, n, total int) model.SearchResult {
	res := model.SearchResult{
		Query:    "شقة للإيجار في دمشق",
		Language: lang,
		Intent:   model.IntentSearch,
		Strategy: model.StrategyStrict,
		Total:    total,
		Page:     1,
		Limit:    10,
	}
	for i := 1; i <= n; i++ {
		res.Listings = append(res.Listings, rankedListing(int64(i), "شقة رقم "+strings.Repeat("١", i), 2500000))
	}
	return res
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{950, "950"},
		{2500000, "2,500,000"},
		{1234.5, "1,234.5"},
		{-1234567, "-1,234,567"},
		{100, "100"},
		{1000, "1,000"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.in); got != tt.want {
			t.Errorf("formatNumber(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPriceTextPlaceholder(t *testing.T) {
	noPrice := model.Listing{Title: "بدون سعر"}
	if got := priceText(model.LangArabic, noPrice); got != "غير محدد" {
		t.Errorf("arabic placeholder = %q", got)
	}
	if got := priceText(model.LangEnglish, noPrice); got != "N/A" {
		t.Errorf("english placeholder = %q", got)
	}

	priced := model.Listing{Attributes: []model.AttributeValue{model.NumericValue("price", 2500000, "SYP")}}
	if got := priceText(model.LangArabic, priced); got != "2,500,000 SYP" {
		t.Errorf("priced = %q", got)
	}
}

func TestTelegramSearchCapsAndButtons(t *testing.T) {
	res := searchResult(model.LangArabic, 7, 23)
	res.Suggestions = []string{"منزل", "بيت", "فلل"}

	msg := Telegram(res)

	if msg.ParseMode != "HTML" || !msg.DisableWebPagePreview {
		t.Errorf("ParseMode/preview = %q/%v", msg.ParseMode, msg.DisableWebPagePreview)
	}
	if !strings.Contains(msg.Text, "5. <b>") {
		t.Error("fifth listing missing")
	}
	if strings.Contains(msg.Text, "6. <b>") {
		t.Error("sixth listing rendered; cap is five")
	}
	if !strings.Contains(msg.Text, "https://www.kasioon.com/listing/1") {
		t.Error("canonical listing URL missing")
	}
	if !strings.Contains(msg.Text, "عدد النتائج الكلي: 23") {
		t.Error("total line missing")
	}

	if len(msg.Buttons) != 4 {
		t.Fatalf("buttons = %d, want 4 (%+v)", len(msg.Buttons), msg.Buttons)
	}
	if msg.Buttons[0].CallbackData != "search:منزل" || msg.Buttons[1].CallbackData != "search:بيت" {
		t.Errorf("suggestion callbacks = %q/%q", msg.Buttons[0].CallbackData, msg.Buttons[1].CallbackData)
	}
	if msg.Buttons[2].URL != model.WebsiteBaseURL || !strings.Contains(msg.Buttons[2].Text, "23") {
		t.Errorf("view-all button = %+v", msg.Buttons[2])
	}
	if msg.Buttons[3].CallbackData != "new_search" {
		t.Errorf("last button = %+v, want new_search", msg.Buttons[3])
	}
}

func TestTelegramEscapesUserText(t *testing.T) {
	res := searchResult(model.LangArabic, 0, 1)
	res.Listings = []model.RankedResult{rankedListing(1, `<b>عاجل</b> & شقة`, 0)}

	msg := Telegram(res)
	if strings.Contains(msg.Text, "<b>عاجل</b>") {
		t.Error("raw HTML from listing title leaked into message")
	}
	if !strings.Contains(msg.Text, "&lt;b&gt;عاجل&lt;/b&gt; &amp; شقة") {
		t.Errorf("title not escaped: %q", msg.Text)
	}
}

func TestTelegramNoResults(t *testing.T) {
	res := model.SearchResult{
		Query:           "مصعد",
		Language:        model.LangArabic,
		Intent:          model.IntentSearch,
		Strategy:        model.StrategyNoResults,
		FallbackMessage: "لم نجد نتائج مطابقة تماماً لبحثك. جرب كلمات مختلفة أو تصفح الاقتراحات.",
		Suggestions:     []string{"رافعة", "ونش"},
		Listings:        []model.RankedResult{},
	}

	msg := Telegram(res)
	if !strings.Contains(msg.Text, res.FallbackMessage) {
		t.Error("fallback message missing")
	}
	if !strings.Contains(msg.Text, "جرب: رافعة • ونش") {
		t.Errorf("suggestion line missing: %q", msg.Text)
	}
	// No view-all button without results; suggestions and new-search remain.
	for _, btn := range msg.Buttons {
		if btn.URL != "" {
			t.Errorf("unexpected URL button %+v", btn)
		}
	}
	if msg.Buttons[len(msg.Buttons)-1].CallbackData != "new_search" {
		t.Error("new_search button missing")
	}
}

func TestTelegramAttributeLine(t *testing.T) {
	res := searchResult(model.LangArabic, 1, 1)
	res.Listings[0].Listing.Attributes = append(res.Listings[0].Listing.Attributes,
		model.NumericValue("rooms", 3, ""),
		model.NumericValue("area", 120, "م²"),
		model.NumericValue("mileage", 150000, "كم"),
		model.TextValue("brand", "تويوتا"),
	)

	msg := Telegram(res)
	if !strings.Contains(msg.Text, "📋 غرف: 3 · مساحة: 120 م² · ماركة: تويوتا · ممشى: 150,000 كم") {
		t.Errorf("attribute line missing or misordered: %q", msg.Text)
	}

	bare := searchResult(model.LangArabic, 1, 1)
	if strings.Contains(Telegram(bare).Text, "📋") {
		t.Error("attribute line rendered for listing without chat attributes")
	}
}

func TestAttributeLineEnglish(t *testing.T) {
	l := model.Listing{Attributes: []model.AttributeValue{
		model.NumericValue("bathrooms", 2, ""),
		model.NumericValue("year", 2015, ""),
	}}
	if got := attributeLine(model.LangEnglish, l); got != "Baths: 2 · Year: 2015" {
		t.Errorf("attributeLine = %q", got)
	}
	if got := attributeLine(model.LangEnglish, model.Listing{}); got != "" {
		t.Errorf("empty bag = %q, want empty", got)
	}
}

func TestTelegramMatchNote(t *testing.T) {
	res := searchResult(model.LangArabic, 1, 1)
	res.Listings[0].AttributeMatch = model.AttributeMatch{
		Type:    model.AttrMatchPartial,
		Matched: []string{"rooms"},
		Note:    "تطابق 1 من 2 مواصفات مطلوبة",
	}

	msg := Telegram(res)
	if !strings.Contains(msg.Text, "✅ تطابق 1 من 2 مواصفات مطلوبة") {
		t.Errorf("match note missing: %q", msg.Text)
	}
}

func TestTelegramOfficeDetails(t *testing.T) {
	rating := 4.5
	res := model.SearchResult{
		Language: model.LangArabic,
		Intent:   model.IntentOfficeDetails,
		Office: &model.Office{
			ID:             "2b1e9f63-86ad-4f8e-9b3f-4dc1ea1f71b2",
			Name:           "مكتب النجمة",
			Phone:          "+963-11-0000000",
			CityName:       model.LocalizedName{Ar: "دمشق"},
			Premium:        true,
			Rating:         &rating,
			RatingCount:    12,
			ActiveListings: 8,
			TotalListings:  14,
		},
	}

	msg := Telegram(res)
	if !strings.Contains(msg.Text, "<b>مكتب النجمة</b> ⭐") {
		t.Errorf("office header missing: %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "4.5 (12)") {
		t.Error("rating missing")
	}
	if !strings.Contains(msg.Text, "8 إعلان فعال من أصل 14") {
		t.Error("listing counts missing")
	}
	if len(msg.Buttons) != 1 || msg.Buttons[0].URL != "https://www.kasioon.com/office/2b1e9f63-86ad-4f8e-9b3f-4dc1ea1f71b2" {
		t.Errorf("office page button = %+v", msg.Buttons)
	}
}

func TestTelegramGreeting(t *testing.T) {
	res := model.SearchResult{Language: model.LangEnglish, Intent: model.IntentGreeting}
	msg := Telegram(res)
	if msg.Text != Greeting(model.LangEnglish) {
		t.Errorf("Text = %q", msg.Text)
	}
	if len(msg.Buttons) != 0 {
		t.Errorf("Buttons = %+v, want none", msg.Buttons)
	}
}

func TestTelegramDeterministic(t *testing.T) {
	res := searchResult(model.LangArabic, 3, 10)
	res.Suggestions = []string{"منزل"}
	a, b := Telegram(res), Telegram(res)
	if a.Text != b.Text || len(a.Buttons) != len(b.Buttons) {
		t.Error("re-render differs")
	}
}

func TestWhatsAppSearch(t *testing.T) {
	res := searchResult(model.LangArabic, 5, 23)

	out := WhatsApp(res)
	if !strings.Contains(out, "*نتائج البحث عن: شقة للإيجار في دمشق*") {
		t.Errorf("bold header missing: %q", out)
	}
	if !strings.Contains(out, "*3. ") {
		t.Error("third listing missing")
	}
	if strings.Contains(out, "*4. ") {
		t.Error("fourth listing rendered; cap is three")
	}
	if !strings.Contains(out, whatsappRule) {
		t.Error("rule separator missing")
	}
	if !strings.Contains(out, "عدد النتائج الكلي: 23") {
		t.Error("total line missing")
	}
	if !strings.Contains(out, "المزيد على https://www.kasioon.com") {
		t.Error("website tail missing")
	}
	if !strings.Contains(out, "السعر: 2,500,000 SYP") {
		t.Error("price line missing")
	}
}

func TestWhatsAppNeutralizesFormatting(t *testing.T) {
	res := searchResult(model.LangEnglish, 0, 1)
	res.Listings = []model.RankedResult{rankedListing(1, "*urgent* _sale_", 0)}

	out := WhatsApp(res)
	if strings.Contains(out, "*urgent*") || strings.Contains(out, "_sale_") {
		t.Errorf("formatting characters leaked: %q", out)
	}
	if !strings.Contains(out, "1. urgent sale") {
		t.Errorf("title mangled: %q", out)
	}
	if !strings.Contains(out, "Price: N/A") {
		t.Error("english price placeholder missing")
	}
}

func TestWhatsAppOfficeCard(t *testing.T) {
	res := model.SearchResult{
		Language: model.LangEnglish,
		Intent:   model.IntentOfficeDetails,
		Office: &model.Office{
			ID:             "2b1e9f63-86ad-4f8e-9b3f-4dc1ea1f71b2",
			Name:           "Star Realty",
			ActiveListings: 3,
			TotalListings:  5,
		},
	}

	out := WhatsApp(res)
	if !strings.HasPrefix(out, "*Star Realty*") {
		t.Errorf("office name not bold: %q", out)
	}
	if !strings.Contains(out, "3 active of 5 listings") {
		t.Error("counts missing")
	}
	if !strings.Contains(out, "https://www.kasioon.com/office/") {
		t.Error("office URL missing")
	}
}

func TestWhatsAppGreeting(t *testing.T) {
	res := model.SearchResult{Language: model.LangArabic, Intent: model.IntentGreeting}
	if got := WhatsApp(res); got != Greeting(model.LangArabic) {
		t.Errorf("greeting = %q", got)
	}
}

func TestHTTPMessage(t *testing.T) {
	help := HTTP(model.SearchResult{Language: model.LangArabic, Intent: model.IntentHelp})
	if help.Message != Help(model.LangArabic) {
		t.Errorf("help Message = %q", help.Message)
	}

	search := HTTP(searchResult(model.LangArabic, 2, 2))
	if search.Message != "" {
		t.Errorf("search Message = %q, want empty", search.Message)
	}
	if len(search.Listings) != 2 {
		t.Errorf("Listings = %d, want passthrough", len(search.Listings))
	}
}

func TestHeaderLocalization(t *testing.T) {
	tests := []struct {
		intent model.IntentKind
		lang   model.Language
		want   string
	}{
		{model.IntentMostViewed, model.LangArabic, "الإعلانات الأكثر مشاهدة"},
		{model.IntentMostViewed, model.LangEnglish, "Most viewed listings"},
		{model.IntentMostImpressioned, model.LangArabic, "الإعلانات الأكثر رواجاً"},
		{model.IntentGetOffices, model.LangEnglish, "Registered offices"},
	}
	for _, tt := range tests {
		res := model.SearchResult{Intent: tt.intent, Language: tt.lang}
		if got := header(res); got != tt.want {
			t.Errorf("header(%s, %s) = %q, want %q", tt.intent, tt.lang, got, tt.want)
		}
	}
}
