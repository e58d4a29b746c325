// Package stats serves the non-search intents: popularity rankings and
// office lookups. Popular listing sets are cached language-neutrally and
// localized per request.
package stats

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kasioon/searchgw/pkg/searchgw/apperr"
	"github.com/kasioon/searchgw/pkg/searchgw/cache"
	"github.com/kasioon/searchgw/pkg/searchgw/model"
	"github.com/kasioon/searchgw/pkg/searchgw/store"
)

// officeNotFoundMessage is the user-facing text for a missing office.
const officeNotFoundMessage = "لم يتم العثور على المكتب المطلوب"

// Backend is the slice of the store this service reads through.
type Backend interface {
	MostViewed(ctx context.Context, limit int) ([]model.Listing, error)
	MostImpressioned(ctx context.Context, limit int) ([]model.Listing, error)
	ListOffices(ctx context.Context, limit int) ([]model.Office, error)
	OfficeByID(ctx context.Context, id string) (model.Office, error)
	OfficesByName(ctx context.Context, name string, limit int) ([]model.Office, error)
	OfficeListings(ctx context.Context, officeID string, limit int) ([]model.Listing, error)
	OfficeListingCounts(ctx context.Context, officeID string) (active, total int, err error)
	AttributeBags(ctx context.Context, listingIDs []int64) (map[int64][]model.AttributeValue, error)
}

// Service answers popularity and office intents.
type Service struct {
	store  Backend
	cache  *cache.Cache
	logger *slog.Logger
}

func New(backend Backend, c *cache.Cache, logger *slog.Logger) *Service {
	return &Service{
		store:  backend,
		cache:  c,
		logger: logger.With("component", "stats"),
	}
}

// MostViewed returns the listings with the highest view counts.
func (s *Service) MostViewed(ctx context.Context, lang model.Language, limit int) (model.SearchResult, error) {
	return s.popular(ctx, "most_viewed", model.IntentMostViewed, lang, limit, s.store.MostViewed)
}

// MostImpressioned returns the listings ranked by the impression proxy
// (views weighted with boost and priority).
func (s *Service) MostImpressioned(ctx context.Context, lang model.Language, limit int) (model.SearchResult, error) {
	return s.popular(ctx, "most_impressioned", model.IntentMostImpressioned, lang, limit, s.store.MostImpressioned)
}

// popular serves one ranking, caching the raw listing set so Arabic and
// English requests share an entry.
func (s *Service) popular(ctx context.Context, kind string, intent model.IntentKind, lang model.Language, limit int, fetch func(context.Context, int) ([]model.Listing, error)) (model.SearchResult, error) {
	limit = clampLimit(limit)
	key := cache.PopularKey(kind, limit)

	var listings []model.Listing
	if !s.cache.GetJSON(ctx, key, &listings) {
		var err error
		listings, err = fetch(ctx, limit)
		if err != nil {
			return model.SearchResult{}, err
		}
		if err := s.attachAttributes(ctx, listings); err != nil {
			return model.SearchResult{}, err
		}
		s.cache.SetJSON(ctx, key, listings, cache.TTLPopular)
	}

	return model.SearchResult{
		Language: lang,
		Intent:   intent,
		Listings: wrapListings(listings),
		Total:    len(listings),
		Page:     1,
		Limit:    limit,
	}, nil
}

// Offices returns the office directory, premium and best-rated first.
func (s *Service) Offices(ctx context.Context, lang model.Language, limit int) (model.SearchResult, error) {
	limit = clampLimit(limit)
	key := cache.PopularKey("offices", limit)

	var offices []model.Office
	if !s.cache.GetJSON(ctx, key, &offices) {
		var err error
		offices, err = s.store.ListOffices(ctx, limit)
		if err != nil {
			return model.SearchResult{}, err
		}
		s.cache.SetJSON(ctx, key, offices, cache.TTLPopular)
	}

	return model.SearchResult{
		Language: lang,
		Intent:   model.IntentGetOffices,
		Listings: []model.RankedResult{},
		Offices:  offices,
		Total:    len(offices),
		Page:     1,
		Limit:    limit,
	}, nil
}

// OfficeDetails resolves one office by UUID or name and annotates it with
// its listing counts.
func (s *Service) OfficeDetails(ctx context.Context, lang model.Language, idOrName string) (model.SearchResult, error) {
	office, err := s.resolveOffice(ctx, idOrName)
	if err != nil {
		return model.SearchResult{}, err
	}

	active, total, err := s.store.OfficeListingCounts(ctx, office.ID)
	if err != nil {
		return model.SearchResult{}, err
	}
	office.ActiveListings = active
	office.TotalListings = total

	return model.SearchResult{
		Language: lang,
		Intent:   model.IntentOfficeDetails,
		Listings: []model.RankedResult{},
		Office:   &office,
	}, nil
}

// OfficeListings resolves an office and returns its active listings.
func (s *Service) OfficeListings(ctx context.Context, lang model.Language, idOrName string, limit int) (model.SearchResult, error) {
	limit = clampLimit(limit)

	office, err := s.resolveOffice(ctx, idOrName)
	if err != nil {
		return model.SearchResult{}, err
	}

	listings, err := s.store.OfficeListings(ctx, office.ID, limit)
	if err != nil {
		return model.SearchResult{}, err
	}
	if err := s.attachAttributes(ctx, listings); err != nil {
		return model.SearchResult{}, err
	}

	return model.SearchResult{
		Language: lang,
		Intent:   model.IntentOfficeListings,
		Listings: wrapListings(listings),
		Office:   &office,
		Total:    len(listings),
		Page:     1,
		Limit:    limit,
	}, nil
}

// resolveOffice accepts either a UUID or a free-text name fragment. The
// UUID test runs first so identifiers never hit the name index. Resolved
// offices are cached under the structure TTL; misses are not cached.
func (s *Service) resolveOffice(ctx context.Context, idOrName string) (model.Office, error) {
	key := cache.OfficeKey(idOrName)
	var cached model.Office
	if s.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	office, err := s.lookupOffice(ctx, idOrName)
	if err != nil {
		return model.Office{}, err
	}
	s.cache.SetJSON(ctx, key, office, cache.TTLStructure)
	return office, nil
}

func (s *Service) lookupOffice(ctx context.Context, idOrName string) (model.Office, error) {
	if _, err := uuid.Parse(idOrName); err == nil {
		office, err := s.store.OfficeByID(ctx, idOrName)
		if errors.Is(err, store.ErrNotFound) {
			return model.Office{}, apperr.New(apperr.NotFound, officeNotFoundMessage)
		}
		return office, err
	}

	matches, err := s.store.OfficesByName(ctx, idOrName, 1)
	if err != nil {
		return model.Office{}, err
	}
	if len(matches) == 0 {
		return model.Office{}, apperr.New(apperr.NotFound, officeNotFoundMessage)
	}
	return matches[0], nil
}

func (s *Service) attachAttributes(ctx context.Context, listings []model.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	ids := make([]int64, len(listings))
	for i, l := range listings {
		ids[i] = l.ID
	}
	bags, err := s.store.AttributeBags(ctx, ids)
	if err != nil {
		return err
	}
	for i := range listings {
		listings[i].Attributes = bags[listings[i].ID]
	}
	return nil
}

func wrapListings(listings []model.Listing) []model.RankedResult {
	out := make([]model.RankedResult, len(listings))
	for i, l := range listings {
		out[i] = model.RankedResult{Listing: l}
	}
	return out
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return model.DefaultLimit
	}
	if limit > 50 {
		return 50
	}
	return limit
}
