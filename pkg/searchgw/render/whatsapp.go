package render

import (
	"fmt"
	"strings"

	"github.com/kasioon/searchgw/pkg/searchgw/model"
)

const whatsappRule = "────────────"

// waEscape neutralizes WhatsApp formatting characters in user-derived text
// so a title like "*urgent*" cannot hijack the message styling.
var waEscape = strings.NewReplacer("*", "", "_", "", "~", "", "```", "")

// WhatsApp renders a result as plain text with asterisk emphasis. At most
// three listings are shown; the site link covers the rest.
func WhatsApp(res model.SearchResult) string {
	ar := res.Language != model.LangEnglish

	var b strings.Builder
	switch res.Intent {
	case model.IntentGreeting, model.IntentHelp:
		b.WriteString(header(res))
	case model.IntentGetOffices:
		fmt.Fprintf(&b, "*%s*\n", waEscape.Replace(header(res)))
		for i, o := range res.Offices {
			if i >= whatsappMaxListings {
				break
			}
			writeWhatsAppOffice(&b, res.Language, i+1, o)
		}
		b.WriteString("\n" + moreLabel(res.Language))
	case model.IntentOfficeDetails:
		if res.Office != nil {
			writeWhatsAppOfficeCard(&b, res.Language, *res.Office)
		}
	default:
		fmt.Fprintf(&b, "*%s*\n", waEscape.Replace(header(res)))
		if res.Strategy == model.StrategyNoResults && len(res.Suggestions) > 0 {
			label := "جرب"
			if !ar {
				label = "Try"
			}
			fmt.Fprintf(&b, "%s: %s\n", label, strings.Join(res.Suggestions, " • "))
		}
		for i, r := range res.Listings {
			if i >= whatsappMaxListings {
				break
			}
			writeWhatsAppListing(&b, res.Language, i+1, r)
		}
		if res.Total > whatsappMaxListings {
			if ar {
				fmt.Fprintf(&b, "\nعدد النتائج الكلي: %d\n", res.Total)
			} else {
				fmt.Fprintf(&b, "\nTotal results: %d\n", res.Total)
			}
		}
		if len(res.Listings) > 0 {
			b.WriteString(moreLabel(res.Language))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func writeWhatsAppListing(b *strings.Builder, lang model.Language, n int, r model.RankedResult) {
	l := r.Listing
	fmt.Fprintf(b, "\n*%d. %s*\n", n, waEscape.Replace(l.Title))
	priceLabel, locLabel := "السعر", "الموقع"
	if lang == model.LangEnglish {
		priceLabel, locLabel = "Price", "Location"
	}
	fmt.Fprintf(b, "%s: %s\n", priceLabel, priceText(lang, l))
	if loc := locationText(lang, l); loc != "" {
		line := loc
		if l.TransactionType != "" {
			line += " · " + txLabel(lang, l.TransactionType)
		}
		fmt.Fprintf(b, "%s: %s\n", locLabel, waEscape.Replace(line))
	}
	if note := r.AttributeMatch.Note; note != "" && len(r.AttributeMatch.Matched) > 0 {
		fmt.Fprintf(b, "%s\n", note)
	}
	fmt.Fprintf(b, "%s\n%s\n", l.URL(), whatsappRule)
}

func writeWhatsAppOffice(b *strings.Builder, lang model.Language, n int, o model.Office) {
	name := waEscape.Replace(o.Name)
	if o.Premium {
		name += " ⭐"
	}
	fmt.Fprintf(b, "\n*%d. %s*\n", n, name)
	if city := o.CityName.In(lang); city != "" {
		fmt.Fprintf(b, "%s\n", waEscape.Replace(city))
	}
	if r := ratingText(o); r != "" {
		fmt.Fprintf(b, "⭐ %s\n", r)
	}
	fmt.Fprintf(b, "%s\n%s\n", o.URL(), whatsappRule)
}

func writeWhatsAppOfficeCard(b *strings.Builder, lang model.Language, o model.Office) {
	name := waEscape.Replace(o.Name)
	if o.Premium {
		name += " ⭐"
	}
	fmt.Fprintf(b, "*%s*\n", name)
	if d := o.Description.In(lang); d != "" {
		fmt.Fprintf(b, "%s\n", waEscape.Replace(d))
	}
	if city := o.CityName.In(lang); city != "" {
		loc := city
		if o.Address != "" {
			loc += " · " + o.Address
		}
		fmt.Fprintf(b, "📍 %s\n", waEscape.Replace(loc))
	}
	if o.Phone != "" {
		fmt.Fprintf(b, "📞 %s\n", o.Phone)
	}
	if r := ratingText(o); r != "" {
		fmt.Fprintf(b, "⭐ %s\n", r)
	}
	if lang == model.LangEnglish {
		fmt.Fprintf(b, "%d active of %d listings\n", o.ActiveListings, o.TotalListings)
	} else {
		fmt.Fprintf(b, "%d إعلان فعال من أصل %d\n", o.ActiveListings, o.TotalListings)
	}
	b.WriteString(o.URL())
}
