package render

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/kasioon/searchgw/pkg/searchgw/model"
)

// TelegramMessage is a ready-to-send Bot API message: HTML body plus the
// inline keyboard. The transport turns Buttons into reply_markup rows.
type TelegramMessage struct {
	Text                  string
	ParseMode             string
	Buttons               []InlineButton
	DisableWebPagePreview bool
}

// InlineButton is one inline keyboard button; exactly one of CallbackData
// or URL is set.
type InlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

// Telegram renders a result as an HTML message. User-derived text is
// escaped; listing links use the canonical site URLs.
func Telegram(res model.SearchResult) TelegramMessage {
	msg := TelegramMessage{
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	}
	ar := res.Language != model.LangEnglish

	var b strings.Builder
	switch res.Intent {
	case model.IntentGreeting, model.IntentHelp:
		b.WriteString(html.EscapeString(header(res)))
	case model.IntentGetOffices:
		fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(header(res)))
		for i, o := range res.Offices {
			if i >= telegramMaxListings {
				break
			}
			writeTelegramOffice(&b, res.Language, i+1, o)
		}
	case model.IntentOfficeDetails:
		if res.Office != nil {
			writeTelegramOfficeCard(&b, res.Language, *res.Office)
			msg.Buttons = append(msg.Buttons, InlineButton{
				Text: officePageLabel(res.Language),
				URL:  res.Office.URL(),
			})
		}
	default:
		fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(header(res)))
		if res.Strategy == model.StrategyNoResults {
			writeTelegramSuggestionLines(&b, res)
		}
		for i, r := range res.Listings {
			if i >= telegramMaxListings {
				break
			}
			writeTelegramListing(&b, res.Language, i+1, r)
		}
		if res.Total > len(res.Listings) {
			if ar {
				fmt.Fprintf(&b, "\nعدد النتائج الكلي: %d", res.Total)
			} else {
				fmt.Fprintf(&b, "\nTotal results: %d", res.Total)
			}
		}
		msg.Buttons = telegramSearchButtons(res)
	}

	msg.Text = strings.TrimRight(b.String(), "\n")
	return msg
}

func writeTelegramListing(b *strings.Builder, lang model.Language, n int, r model.RankedResult) {
	l := r.Listing
	fmt.Fprintf(b, "\n%d. <b>%s</b>\n", n, html.EscapeString(l.Title))
	fmt.Fprintf(b, "💰 %s\n", html.EscapeString(priceText(lang, l)))
	if loc := locationText(lang, l); loc != "" {
		fmt.Fprintf(b, "📍 %s", html.EscapeString(loc))
		if l.TransactionType != "" {
			fmt.Fprintf(b, " · %s", html.EscapeString(txLabel(lang, l.TransactionType)))
		}
		b.WriteByte('\n')
	}
	if attrs := attributeLine(lang, l); attrs != "" {
		fmt.Fprintf(b, "📋 %s\n", html.EscapeString(attrs))
	}
	if note := r.AttributeMatch.Note; note != "" && len(r.AttributeMatch.Matched) > 0 {
		fmt.Fprintf(b, "✅ %s\n", html.EscapeString(note))
	}
	label := "عرض الإعلان"
	if lang == model.LangEnglish {
		label = "View listing"
	}
	fmt.Fprintf(b, "🔗 <a href=\"%s\">%s</a>\n", l.URL(), label)
}

func writeTelegramOffice(b *strings.Builder, lang model.Language, n int, o model.Office) {
	fmt.Fprintf(b, "\n%d. <b>%s</b>", n, html.EscapeString(o.Name))
	if o.Premium {
		b.WriteString(" ⭐")
	}
	b.WriteByte('\n')
	if city := o.CityName.In(lang); city != "" {
		fmt.Fprintf(b, "📍 %s\n", html.EscapeString(city))
	}
	if r := ratingText(o); r != "" {
		fmt.Fprintf(b, "⭐ %s\n", r)
	}
	fmt.Fprintf(b, "🔗 <a href=\"%s\">%s</a>\n", o.URL(), officePageLabel(lang))
}

func writeTelegramOfficeCard(b *strings.Builder, lang model.Language, o model.Office) {
	fmt.Fprintf(b, "<b>%s</b>", html.EscapeString(o.Name))
	if o.Premium {
		b.WriteString(" ⭐")
	}
	b.WriteByte('\n')
	if d := o.Description.In(lang); d != "" {
		fmt.Fprintf(b, "%s\n", html.EscapeString(d))
	}
	if city := o.CityName.In(lang); city != "" {
		loc := city
		if o.Address != "" {
			loc += " · " + o.Address
		}
		fmt.Fprintf(b, "📍 %s\n", html.EscapeString(loc))
	}
	if o.Phone != "" {
		fmt.Fprintf(b, "📞 %s\n", html.EscapeString(o.Phone))
	}
	if r := ratingText(o); r != "" {
		fmt.Fprintf(b, "⭐ %s\n", r)
	}
	if lang == model.LangEnglish {
		fmt.Fprintf(b, "📋 %d active of %d listings\n", o.ActiveListings, o.TotalListings)
	} else {
		fmt.Fprintf(b, "📋 %d إعلان فعال من أصل %d\n", o.ActiveListings, o.TotalListings)
	}
}

func writeTelegramSuggestionLines(b *strings.Builder, res model.SearchResult) {
	if len(res.Suggestions) == 0 {
		return
	}
	label := "جرب"
	if res.Language == model.LangEnglish {
		label = "Try"
	}
	escaped := make([]string, len(res.Suggestions))
	for i, s := range res.Suggestions {
		escaped[i] = html.EscapeString(s)
	}
	fmt.Fprintf(b, "%s: %s\n", label, strings.Join(escaped, " • "))
}

// telegramSearchButtons builds the keyboard for listing results: up to two
// suggestion callbacks, a view-all link when the page is truncated, and a
// new-search callback.
func telegramSearchButtons(res model.SearchResult) []InlineButton {
	var buttons []InlineButton
	ar := res.Language != model.LangEnglish

	for i, s := range res.Suggestions {
		if i >= 2 {
			break
		}
		buttons = append(buttons, InlineButton{
			Text:         "🔍 " + s,
			CallbackData: "search:" + s,
		})
	}

	if res.Total > telegramMaxListings {
		text := "عرض كل النتائج (" + strconv.Itoa(res.Total) + ")"
		if !ar {
			text = "View all results (" + strconv.Itoa(res.Total) + ")"
		}
		buttons = append(buttons, InlineButton{Text: text, URL: model.WebsiteBaseURL})
	}

	text := "بحث جديد"
	if !ar {
		text = "New search"
	}
	buttons = append(buttons, InlineButton{Text: text, CallbackData: "new_search"})
	return buttons
}

func officePageLabel(lang model.Language) string {
	if lang == model.LangEnglish {
		return "Office page"
	}
	return "صفحة المكتب"
}
