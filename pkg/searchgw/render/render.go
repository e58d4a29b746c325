// Package render turns pipeline results into channel payloads: a JSON data
// block for the HTTP API, an HTML message with inline buttons for Telegram,
// and a plain-text message for WhatsApp. Renderers are pure functions; the
// same result always renders to the same bytes.
package render

import (
	"strconv"
	"strings"

	"github.com/kasioon/searchgw/pkg/searchgw/model"
)

// Per-channel listing caps. The HTTP API returns the full page.
const (
	telegramMaxListings = 5
	whatsappMaxListings = 3
)

// Greeting is the canned reply for the greeting intent.
func Greeting(lang model.Language) string {
	if lang == model.LangEnglish {
		return "Welcome to Kasioon! Type what you are looking for, for example: apartment for rent in Damascus."
	}
	return "مرحباً بك في كاسيون! اكتب ما تبحث عنه مباشرة، مثلاً: شقة للإيجار في دمشق."
}

// Help is the canned reply for the help intent.
func Help(lang model.Language) string {
	if lang == model.LangEnglish {
		return strings.Join([]string{
			"You can search Kasioon in plain language:",
			"• apartment for rent in Damascus under 2 million",
			"• Toyota Corolla 2015 in Aleppo",
			"• most viewed listings",
			"• offices in Homs",
			"You can also send a voice message with your search.",
		}, "\n")
	}
	return strings.Join([]string{
		"يمكنك البحث في كاسيون بلغتك العادية:",
		"• شقة للإيجار في دمشق بأقل من مليونين",
		"• تويوتا كورولا 2015 في حلب",
		"• الإعلانات الأكثر مشاهدة",
		"• مكاتب في حمص",
		"ويمكنك أيضاً إرسال رسالة صوتية بطلبك.",
	}, "\n")
}

// header returns the localized plain-text title line for a result. Channels
// apply their own emphasis markers around it.
func header(res model.SearchResult) string {
	ar := res.Language != model.LangEnglish
	switch res.Intent {
	case model.IntentSearch:
		if res.Strategy == model.StrategyNoResults {
			return res.FallbackMessage
		}
		if ar {
			return "نتائج البحث عن: " + res.Query
		}
		return "Search results for: " + res.Query
	case model.IntentMostViewed:
		if ar {
			return "الإعلانات الأكثر مشاهدة"
		}
		return "Most viewed listings"
	case model.IntentMostImpressioned:
		if ar {
			return "الإعلانات الأكثر رواجاً"
		}
		return "Trending listings"
	case model.IntentGetOffices:
		if ar {
			return "المكاتب المسجلة"
		}
		return "Registered offices"
	case model.IntentOfficeDetails:
		if res.Office != nil {
			return res.Office.Name
		}
		return ""
	case model.IntentOfficeListings:
		name := ""
		if res.Office != nil {
			name = res.Office.Name
		}
		if ar {
			return "إعلانات " + name
		}
		return "Listings by " + name
	case model.IntentGreeting:
		return Greeting(res.Language)
	case model.IntentHelp:
		return Help(res.Language)
	}
	return ""
}

// priceText renders a listing price, or the localized placeholder when the
// listing carries none. Price is the only attribute with a placeholder;
// everything else absent is simply omitted.
func priceText(lang model.Language, l model.Listing) string {
	v, currency, ok := l.Price()
	if !ok {
		if lang == model.LangEnglish {
			return "N/A"
		}
		return "غير محدد"
	}
	s := formatNumber(v)
	if currency != "" {
		s += " " + currency
	}
	return s
}

// locationText joins city and neighborhood for display, either part
// optional.
func locationText(lang model.Language, l model.Listing) string {
	parts := make([]string, 0, 2)
	if c := l.CityName.In(lang); c != "" {
		parts = append(parts, c)
	}
	if n := l.NeighborhoodName.In(lang); n != "" {
		parts = append(parts, n)
	}
	return strings.Join(parts, " · ")
}

var txLabels = map[string]model.LocalizedName{
	model.TxSale:      {Ar: "بيع", En: "Sale"},
	model.TxRent:      {Ar: "إيجار", En: "Rent"},
	model.TxExchange:  {Ar: "مقايضة", En: "Exchange"},
	model.TxWanted:    {Ar: "مطلوب", En: "Wanted"},
	model.TxDailyRent: {Ar: "إيجار يومي", En: "Daily Rent"},
}

// txLabel localizes a transaction type slug; unknown slugs render as-is.
func txLabel(lang model.Language, slug string) string {
	if n, ok := txLabels[slug]; ok {
		return n.In(lang)
	}
	return slug
}

// chatAttributes are the attribute slugs shown on a chat listing line, in
// render order. Price has its own line and is excluded here.
var chatAttributes = []string{"rooms", "bathrooms", "area", "year", "brand", "mileage"}

var chatAttributeLabels = map[string]model.LocalizedName{
	"rooms":     {Ar: "غرف", En: "Rooms"},
	"bathrooms": {Ar: "حمامات", En: "Baths"},
	"area":      {Ar: "مساحة", En: "Area"},
	"year":      {Ar: "سنة", En: "Year"},
	"brand":     {Ar: "ماركة", En: "Brand"},
	"mileage":   {Ar: "ممشى", En: "Mileage"},
}

// groupedAttributes take thousands separators. Years and room counts render
// raw; "2,015" is not a model year.
var groupedAttributes = map[string]bool{"area": true, "mileage": true}

// attributeLine joins the chat-visible attributes a listing carries into one
// compact line, like "غرف: 3 · مساحة: 120 م²". Missing attributes are
// omitted; an empty string means the listing has none of them.
func attributeLine(lang model.Language, l model.Listing) string {
	parts := make([]string, 0, len(chatAttributes))
	for _, slug := range chatAttributes {
		av, ok := l.Attribute(slug)
		if !ok {
			continue
		}
		val := av.Display()
		if av.Numeric != nil && groupedAttributes[slug] {
			val = formatNumber(*av.Numeric)
			if av.Unit != "" {
				val += " " + av.Unit
			}
		}
		if val == "" {
			continue
		}
		parts = append(parts, chatAttributeLabels[slug].In(lang)+": "+val)
	}
	return strings.Join(parts, " · ")
}

// formatNumber renders a price-style number with thousands separators.
// Fractions are kept only when present.
func formatNumber(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, fracPart := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i:]
	}
	if len(intPart) > 3 {
		var b strings.Builder
		lead := len(intPart) % 3
		if lead > 0 {
			b.WriteString(intPart[:lead])
		}
		for i := lead; i < len(intPart); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(intPart[i : i+3])
		}
		intPart = b.String()
	}
	out := intPart + fracPart
	if neg {
		out = "-" + out
	}
	return out
}

// ratingText renders an office rating like "4.5 (12)", empty when unrated.
func ratingText(o model.Office) string {
	if o.Rating == nil {
		return ""
	}
	s := strconv.FormatFloat(*o.Rating, 'f', 1, 64)
	if o.RatingCount > 0 {
		s += " (" + strconv.Itoa(o.RatingCount) + ")"
	}
	return s
}

// moreLabel is the localized "view more on the website" tail line.
func moreLabel(lang model.Language) string {
	if lang == model.LangEnglish {
		return "More on " + model.WebsiteBaseURL
	}
	return "المزيد على " + model.WebsiteBaseURL
}
