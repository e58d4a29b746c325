// Package search runs the strategy ladder: a sequence of progressively
// relaxed database queries, re-ranked in memory by a 0-100 match score.
// The first rung that yields surviving results wins; when none does, the
// caller gets an empty set with a localized fallback message and the
// no-results strategy tag.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kasioon/searchgw/pkg/searchgw/cache"
	"github.com/kasioon/searchgw/pkg/searchgw/catalog"
	"github.com/kasioon/searchgw/pkg/searchgw/config"
	"github.com/kasioon/searchgw/pkg/searchgw/metrics"
	"github.com/kasioon/searchgw/pkg/searchgw/model"
	"github.com/kasioon/searchgw/pkg/searchgw/store"
)

// Backend is the slice of the store the executor reads through.
type Backend interface {
	SearchListings(ctx context.Context, q store.ListingQuery) ([]model.Listing, int, error)
	AttributeBags(ctx context.Context, listingIDs []int64) (map[int64][]model.AttributeValue, error)
}

// Executor walks the strategy ladder for one plan.
type Executor struct {
	store       Backend
	catalog     *catalog.Index
	cache       *cache.Cache
	minScore    int
	fetchFactor int
	logger      *slog.Logger
}

// New builds an Executor. MinScore and FetchFactor fall back to their
// defaults (30 and 3) when unset.
func New(backend Backend, cat *catalog.Index, c *cache.Cache, cfg config.SearchConfig, logger *slog.Logger) *Executor {
	minScore := cfg.MinScore
	if minScore <= 0 {
		minScore = 30
	}
	factor := cfg.FetchFactor
	if factor <= 0 {
		factor = 3
	}
	return &Executor{
		store:       backend,
		catalog:     cat,
		cache:       c,
		minScore:    minScore,
		fetchFactor: factor,
		logger:      logger.With("component", "search"),
	}
}

type rung struct {
	strategy model.Strategy
	query    store.ListingQuery
}

// Execute runs the ladder for the plan and returns the ranked page.
// Database failures propagate; everything else degrades.
func (e *Executor) Execute(ctx context.Context, plan model.QueryPlan, page, limit int) (model.SearchResult, error) {
	if limit <= 0 {
		limit = model.DefaultLimit
	}
	if limit > 50 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}

	key := cache.SearchKey(plan.Fingerprint(), page, limit)
	var cached model.SearchResult
	if e.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	// Category attribute metadata loads concurrently with the first fetch.
	attrsCh := make(chan map[string]model.Attribute, 1)
	go func() { attrsCh <- e.categoryAttributes(plan) }()
	var attrMeta map[string]model.Attribute
	scored := plan

	fetchLimit := limit * e.fetchFactor
	offset := (page - 1) * limit

	for _, r := range e.ladder(plan, fetchLimit, offset) {
		rows, total, err := e.store.SearchListings(ctx, r.query)
		if err != nil {
			return model.SearchResult{}, err
		}
		if len(rows) == 0 {
			continue
		}
		if err := e.attachAttributes(ctx, rows); err != nil {
			return model.SearchResult{}, err
		}

		if attrMeta == nil {
			attrMeta = <-attrsCh
			scored = restrictRequested(plan, attrMeta)
		}

		survivors := e.rank(scored, rows, limit)
		if len(survivors) == 0 {
			e.logger.Debug("strategy rows all ranked below threshold",
				"strategy", r.strategy,
				"rows", len(rows))
			continue
		}

		res := e.result(plan, r.strategy, survivors, total, page, limit)
		metrics.RecordStrategy(string(r.strategy))
		e.cache.SetJSON(ctx, key, res, cache.TTLSearch)
		e.logger.Info("search resolved",
			"strategy", r.strategy,
			"rows", len(rows),
			"returned", len(survivors),
			"total", total)
		return res, nil
	}

	res := e.result(plan, model.StrategyNoResults, []model.RankedResult{}, 0, page, limit)
	res.FallbackMessage = fallbackMessage(plan.Language)
	metrics.RecordStrategy(string(model.StrategyNoResults))
	e.cache.SetJSON(ctx, key, res, cache.TTLSearch)
	return res, nil
}

// ladder assembles the strategy sequence for the plan. Rungs whose filter
// set collapses to an already-tried one are skipped so a plan without a
// city does not run the same query twice.
func (e *Executor) ladder(plan model.QueryPlan, fetchLimit, offset int) []rung {
	base := store.ListingQuery{
		Keywords: plan.Keywords(),
		Limit:    fetchLimit,
		Offset:   offset,
	}
	var catIDs []int64
	if plan.Category != "" {
		catIDs = e.catalog.SubtreeIDs(plan.Category)
	}
	var cityID int64
	if plan.City != nil {
		cityID = plan.City.ID
	}

	var rungs []rung
	seen := make(map[string]bool)
	add := func(st model.Strategy, q store.ListingQuery) {
		sig := querySignature(q)
		if seen[sig] {
			return
		}
		seen[sig] = true
		rungs = append(rungs, rung{strategy: st, query: q})
	}

	strict := base
	strict.CategoryIDs = catIDs
	strict.CityID = cityID
	strict.TransactionType = plan.TransactionType
	add(model.StrategyStrict, strict)

	relaxedLoc := strict
	relaxedLoc.CityID = 0
	add(model.StrategyRelaxedLocation, relaxedLoc)

	relaxedCat := strict
	relaxedCat.CategoryIDs = nil
	add(model.StrategyRelaxedCategory, relaxedCat)

	add(model.StrategyTextOnly, base)

	for _, slug := range plan.SuggestedCategories {
		if slug == plan.Category {
			continue
		}
		q := base
		q.CategoryIDs = e.catalog.SubtreeIDs(slug)
		if len(q.CategoryIDs) == 0 {
			continue
		}
		add(model.StrategySuggestedCategory, q)
	}
	return rungs
}

func querySignature(q store.ListingQuery) string {
	var b strings.Builder
	for _, id := range q.CategoryIDs {
		fmt.Fprintf(&b, "%d,", id)
	}
	fmt.Fprintf(&b, "|%d|%s|%s", q.CityID, q.TransactionType, strings.Join(q.Keywords, ","))
	return b.String()
}

// rank scores the fetched rows, drops exclusions and sub-threshold
// results, and returns the top page in score order.
func (e *Executor) rank(plan model.QueryPlan, rows []model.Listing, limit int) []model.RankedResult {
	survivors := make([]model.RankedResult, 0, len(rows))
	for _, l := range rows {
		r := scoreListing(plan, l)
		if r.Excluded {
			e.logger.Debug("listing excluded", "listing_id", l.ID, "reason", r.ExclusionReason)
			continue
		}
		if r.Score < e.minScore {
			continue
		}
		survivors = append(survivors, r)
	}
	sort.SliceStable(survivors, func(i, j int) bool {
		return survivors[i].Score > survivors[j].Score
	})
	if len(survivors) > limit {
		survivors = survivors[:limit]
	}
	return survivors
}

func (e *Executor) attachAttributes(ctx context.Context, rows []model.Listing) error {
	ids := make([]int64, len(rows))
	for i, l := range rows {
		ids[i] = l.ID
	}
	bags, err := e.store.AttributeBags(ctx, ids)
	if err != nil {
		return err
	}
	for i := range rows {
		rows[i].Attributes = bags[rows[i].ID]
	}
	return nil
}

// categoryAttributes collects the attribute definitions of the plan's
// category candidates.
func (e *Executor) categoryAttributes(plan model.QueryPlan) map[string]model.Attribute {
	out := make(map[string]model.Attribute)
	slugs := append([]string{plan.Category}, plan.SuggestedCategories...)
	for _, slug := range slugs {
		if slug == "" {
			continue
		}
		for _, a := range e.catalog.AttributesOf(slug) {
			out[a.Slug] = a
		}
	}
	return out
}

// restrictRequested drops requested attributes that no candidate category
// defines, so an extraction slip (mileage on an apartment search) cannot
// poison the classification. Plans without category candidates keep the
// full request.
func restrictRequested(plan model.QueryPlan, attrMeta map[string]model.Attribute) model.QueryPlan {
	if len(attrMeta) == 0 || len(plan.RequestedAttributes) == 0 {
		return plan
	}
	kept := make(map[string]string, len(plan.RequestedAttributes))
	for slug, v := range plan.RequestedAttributes {
		if _, ok := attrMeta[slug]; ok {
			kept[slug] = v
		}
	}
	plan.RequestedAttributes = kept
	return plan
}

func (e *Executor) result(plan model.QueryPlan, strategy model.Strategy, listings []model.RankedResult, total, page, limit int) model.SearchResult {
	p := plan
	return model.SearchResult{
		Query:       plan.Query,
		Language:    plan.Language,
		Intent:      model.IntentSearch,
		Plan:        &p,
		Strategy:    strategy,
		Listings:    listings,
		Total:       total,
		Page:        page,
		Limit:       limit,
		Suggestions: e.suggestions(plan),
	}
}

// suggestions synthesizes up to three alternate queries: keyword variants
// first, then sibling category names.
func (e *Executor) suggestions(plan model.QueryPlan) []string {
	var out []string
	seen := map[string]bool{catalog.Fold(plan.MainKeyword): true}
	push := func(s string) {
		s = strings.TrimSpace(s)
		f := catalog.Fold(s)
		if s == "" || seen[f] || len(out) >= 3 {
			return
		}
		seen[f] = true
		out = append(out, s)
	}

	for _, kw := range plan.ExpandedKeywords {
		if len(out) >= 2 {
			break
		}
		push(kw)
	}

	base := plan.Category
	if base == "" && len(plan.SuggestedCategories) > 0 {
		base = plan.SuggestedCategories[0]
	}
	if base != "" {
		for _, sib := range e.catalog.SiblingSlugs(base) {
			if c, ok := e.catalog.LookupCategory(sib); ok {
				push(c.Name.In(plan.Language))
			}
		}
	}
	return out
}

func fallbackMessage(lang model.Language) string {
	if lang == model.LangEnglish {
		return "No exact matches found for your search. Try different keywords or browse the suggestions."
	}
	return "لم نجد نتائج مطابقة تماماً لبحثك. جرب كلمات مختلفة أو تصفح الاقتراحات."
}
