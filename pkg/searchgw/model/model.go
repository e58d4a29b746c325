// Package model defines the canonical internal representation of the
// marketplace catalog (categories, cities, transaction types, attributes),
// listings, offices, and the request/response shapes the pipeline passes
// between its stages. Everything downstream of the store speaks these types;
// renderers never see database rows.
package model

import (
	"fmt"
	"strconv"
	"time"
)

// WebsiteBaseURL is the public marketplace site. Listing and office URLs are
// always derived from it via ListingURL / OfficeURL.
const WebsiteBaseURL = "https://www.kasioon.com"

// ListingURL returns the canonical public URL for a listing.
func ListingURL(id int64) string {
	return WebsiteBaseURL + "/listing/" + strconv.FormatInt(id, 10)
}

// OfficeURL returns the canonical public URL for an office.
func OfficeURL(id string) string {
	return WebsiteBaseURL + "/office/" + id
}

// Language is a supported response language.
type Language string

const (
	LangArabic  Language = "ar"
	LangEnglish Language = "en"
)

// Valid reports whether l is a recognized language code.
func (l Language) Valid() bool {
	return l == LangArabic || l == LangEnglish
}

// DetectLanguage guesses the language of an utterance by script: any
// Arabic-block rune makes it Arabic, otherwise English. Chat channels use
// this for the reply language; the HTTP API takes an explicit parameter.
func DetectLanguage(text string) Language {
	for _, r := range text {
		if r >= 0x0600 && r <= 0x06FF {
			return LangArabic
		}
	}
	return LangEnglish
}

// Source identifies the channel a request arrived from.
type Source string

const (
	SourceAPI      Source = "api"
	SourceTelegram Source = "telegram"
	SourceWhatsApp Source = "whatsapp"
	SourceWebsite  Source = "website"
	SourceApp      Source = "app"
)

// Valid reports whether s is a recognized request source.
func (s Source) Valid() bool {
	switch s {
	case SourceAPI, SourceTelegram, SourceWhatsApp, SourceWebsite, SourceApp:
		return true
	}
	return false
}

// LocalizedName carries the Arabic and English forms of a display name.
type LocalizedName struct {
	Ar string `json:"ar"`
	En string `json:"en"`
}

// In returns the name for the given language, falling back to the other
// language when the requested one is empty.
func (n LocalizedName) In(lang Language) string {
	if lang == LangEnglish {
		if n.En != "" {
			return n.En
		}
		return n.Ar
	}
	if n.Ar != "" {
		return n.Ar
	}
	return n.En
}

// Category is a node in the marketplace category tree. Listings attach only
// to leaves; leafness is derived from the parent pointers by the catalog
// index, never stored.
type Category struct {
	ID        int64         `json:"id"`
	Slug      string        `json:"slug"`
	Name      LocalizedName `json:"name"`
	ParentID  *int64        `json:"parentId,omitempty"`
	SortOrder int           `json:"sortOrder"`
	Active    bool          `json:"active"`
}

// City is a flat catalog entity.
type City struct {
	ID       int64         `json:"id"`
	Name     LocalizedName `json:"name"`
	Province string        `json:"province,omitempty"`
}

// Neighborhood belongs to exactly one city.
type Neighborhood struct {
	ID     int64         `json:"id"`
	CityID int64         `json:"cityId"`
	Name   LocalizedName `json:"name"`
}

// Transaction type slugs. The set is closed; anything else coming back from
// the planner is discarded.
const (
	TxSale      = "sale"
	TxRent      = "rent"
	TxExchange  = "exchange"
	TxWanted    = "wanted"
	TxDailyRent = "daily_rent"
)

// TransactionType describes how a listing changes hands (sale, rent, ...).
type TransactionType struct {
	ID   int64         `json:"id"`
	Slug string        `json:"slug"`
	Name LocalizedName `json:"name"`
}

// Attribute is a per-category dynamic field definition (rooms, mileage,
// brand, ...). Kind is "number" or "text"; Unit is meaningful only for
// numeric attributes.
type Attribute struct {
	ID           int64         `json:"id"`
	Slug         string        `json:"slug"`
	Name         LocalizedName `json:"name"`
	Kind         string        `json:"kind"`
	Unit         string        `json:"unit,omitempty"`
	CategorySlug string        `json:"categorySlug,omitempty"`
}

// AttributeValue is one concrete attribute of a listing. Exactly one of
// Numeric/Text is set; Unit accompanies numeric values only. Use
// NumericValue/TextValue to construct well-formed instances.
type AttributeValue struct {
	AttributeID int64    `json:"attributeId,omitempty"`
	Slug        string   `json:"slug"`
	Numeric     *float64 `json:"numeric,omitempty"`
	Text        *string  `json:"text,omitempty"`
	Unit        string   `json:"unit,omitempty"`
}

// NumericValue builds a numeric attribute value.
func NumericValue(slug string, v float64, unit string) AttributeValue {
	return AttributeValue{Slug: slug, Numeric: &v, Unit: unit}
}

// TextValue builds a textual attribute value.
func TextValue(slug, v string) AttributeValue {
	return AttributeValue{Slug: slug, Text: &v}
}

// IsNumeric reports whether the value carries a number.
func (v AttributeValue) IsNumeric() bool { return v.Numeric != nil }

// Display renders the value for humans: number with unit, or raw text.
func (v AttributeValue) Display() string {
	if v.Numeric != nil {
		s := strconv.FormatFloat(*v.Numeric, 'f', -1, 64)
		if v.Unit != "" {
			return s + " " + v.Unit
		}
		return s
	}
	if v.Text != nil {
		return *v.Text
	}
	return ""
}

// Normalize repairs rows that violate the one-of rule: when both sides are
// set the numeric wins, when neither is set ok is false and the value should
// be dropped at ingest.
func (v AttributeValue) Normalize() (AttributeValue, bool) {
	if v.Numeric != nil {
		v.Text = nil
		return v, true
	}
	if v.Text != nil {
		v.Unit = ""
		return v, true
	}
	return v, false
}

// ListingStatusActive is the only status the search surface returns.
const ListingStatusActive = "active"

// Listing is a single classified ad with its denormalized display fields and
// attribute bag.
type Listing struct {
	ID               int64            `json:"id"`
	Title            string           `json:"title"`
	Description      string           `json:"description,omitempty"`
	CategoryID       int64            `json:"categoryId"`
	CategorySlug     string           `json:"categorySlug"`
	CityID           int64            `json:"cityId"`
	CityName         LocalizedName    `json:"cityName"`
	NeighborhoodID   *int64           `json:"neighborhoodId,omitempty"`
	NeighborhoodName LocalizedName    `json:"neighborhoodName,omitempty"`
	TransactionType  string           `json:"transactionType"`
	Views            int64            `json:"views"`
	Boosted          bool             `json:"boosted"`
	Priority         int              `json:"priority"`
	Status           string           `json:"status"`
	CreatedAt        time.Time        `json:"createdAt"`
	MainImageURL     string           `json:"mainImageUrl,omitempty"`
	ImageURLs        []string         `json:"imageUrls,omitempty"`
	VideoURLs        []string         `json:"videoUrls,omitempty"`
	OfficeID         *string          `json:"officeId,omitempty"`
	UserID           *string          `json:"userId,omitempty"`
	Attributes       []AttributeValue `json:"attributes,omitempty"`
}

// URL returns the canonical public URL of the listing.
func (l Listing) URL() string { return ListingURL(l.ID) }

// Attribute returns the listing's value for the given attribute slug.
func (l Listing) Attribute(slug string) (AttributeValue, bool) {
	for _, av := range l.Attributes {
		if av.Slug == slug {
			return av, true
		}
	}
	return AttributeValue{}, false
}

// Price returns the listing's price attribute value and currency unit, or
// ok=false when the listing carries no price.
func (l Listing) Price() (value float64, currency string, ok bool) {
	av, found := l.Attribute("price")
	if !found || av.Numeric == nil {
		return 0, "", false
	}
	return *av.Numeric, av.Unit, true
}

// Office is a registered business account that owns listings.
type Office struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description LocalizedName `json:"description,omitempty"`
	Phone       string        `json:"phone,omitempty"`
	Email       string        `json:"email,omitempty"`
	Website     string        `json:"website,omitempty"`
	LogoURL     string        `json:"logoUrl,omitempty"`
	CityID      *int64        `json:"cityId,omitempty"`
	CityName    LocalizedName `json:"cityName,omitempty"`
	Address     string        `json:"address,omitempty"`
	Latitude    *float64      `json:"latitude,omitempty"`
	Longitude   *float64      `json:"longitude,omitempty"`
	Premium     bool          `json:"premium"`
	Rating      *float64      `json:"rating,omitempty"`
	RatingCount int           `json:"ratingCount"`
	Approved    bool          `json:"approved"`
	CreatedAt   time.Time     `json:"createdAt"`

	// Listing counts are populated by the office-details query only.
	ActiveListings int `json:"activeListingsCount"`
	TotalListings  int `json:"totalListingsCount"`
}

// URL returns the canonical public URL of the office.
func (o Office) URL() string { return OfficeURL(o.ID) }

// Pagination is 1-based; Limit is capped at 50 by request validation.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination derives the page count from the total.
func NewPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{Page: page, Limit: limit, Total: total, TotalPages: pages}
}

// Meta accompanies every successful response envelope.
type Meta struct {
	Timestamp  time.Time   `json:"timestamp"`
	Intent     string      `json:"intent,omitempty"`
	ElapsedMS  int64       `json:"elapsedMs"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// ErrorBody is the error half of the response envelope.
type ErrorBody struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
	Details any    `json:"details,omitempty"`
}

// ResponseEnvelope is the common JSON wrapper for every HTTP response.
type ResponseEnvelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Meta    *Meta      `json:"meta,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// OK builds a success envelope.
func OK(data any, meta *Meta) ResponseEnvelope {
	return ResponseEnvelope{Success: true, Data: data, Meta: meta}
}

// Err builds an error envelope.
func Err(status int, message string, details any) ResponseEnvelope {
	return ResponseEnvelope{Success: false, Error: &ErrorBody{
		Message: message,
		Status:  status,
		Details: details,
	}}
}

func (e ResponseEnvelope) String() string {
	if e.Success {
		return "envelope(success)"
	}
	if e.Error != nil {
		return fmt.Sprintf("envelope(error %d)", e.Error.Status)
	}
	return "envelope(error)"
}
