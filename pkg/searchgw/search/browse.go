package search

import (
	"context"
	"fmt"

	"github.com/kasioon/searchgw/pkg/searchgw/apperr"
	"github.com/kasioon/searchgw/pkg/searchgw/cache"
	"github.com/kasioon/searchgw/pkg/searchgw/model"
	"github.com/kasioon/searchgw/pkg/searchgw/store"
)

// BrowseFilters narrows a category browse.
type BrowseFilters struct {
	Language        model.Language
	CityID          int64
	TransactionType string
}

// Browse lists a category's newest listings without keyword ranking. The
// category is addressed by numeric ID and the query covers its whole
// subtree.
func (e *Executor) Browse(ctx context.Context, categoryID int64, f BrowseFilters, page, limit int) (model.SearchResult, error) {
	if limit <= 0 {
		limit = model.DefaultLimit
	} else if limit > 50 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}

	cat, ok := e.catalog.CategoryByID(categoryID)
	if !ok {
		return model.SearchResult{}, apperr.Newf(apperr.NotFound, "unknown category %d", categoryID)
	}

	fingerprint := fmt.Sprintf("browse\x1f%s\x1f%d\x1f%d\x1f%s",
		f.Language, categoryID, f.CityID, f.TransactionType)
	key := cache.SearchKey(fingerprint, page, limit)
	var cached model.SearchResult
	if e.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	q := store.ListingQuery{
		CategoryIDs:     e.catalog.SubtreeIDs(cat.Slug),
		CityID:          f.CityID,
		TransactionType: f.TransactionType,
		Limit:           limit,
		Offset:          (page - 1) * limit,
	}
	rows, total, err := e.store.SearchListings(ctx, q)
	if err != nil {
		return model.SearchResult{}, err
	}
	if len(rows) > 0 {
		if err := e.attachAttributes(ctx, rows); err != nil {
			return model.SearchResult{}, err
		}
	}

	listings := make([]model.RankedResult, len(rows))
	for i, l := range rows {
		listings[i] = model.RankedResult{Listing: l}
	}
	res := model.SearchResult{
		Query:    cat.Name.In(f.Language),
		Language: f.Language,
		Intent:   model.IntentSearch,
		Strategy: model.StrategyStrict,
		Listings: listings,
		Total:    total,
		Page:     page,
		Limit:    limit,
	}
	e.cache.SetJSON(ctx, key, res, cache.TTLSearch)
	e.logger.Info("category browse",
		"category", cat.Slug,
		"returned", len(listings),
		"total", total)
	return res, nil
}
