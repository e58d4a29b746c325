// Package planner turns a cleaned search query into a QueryPlan: the
// expanded keyword set, category candidates, and structured hints (city,
// transaction type, requested attributes). One JSON-mode call on the
// powerful model does the extraction; a second, cheaper "deepen" call runs
// only when a suggested category needs narrowing to a leaf. Any model
// failure degrades to a minimal text-only plan.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kasioon/searchgw/pkg/searchgw/cache"
	"github.com/kasioon/searchgw/pkg/searchgw/catalog"
	"github.com/kasioon/searchgw/pkg/searchgw/llm"
	"github.com/kasioon/searchgw/pkg/searchgw/model"
)

// Planner extracts a structured QueryPlan from free text.
type Planner struct {
	llm     chatClient
	cache   *cache.Cache
	catalog *catalog.Index
	logger  *slog.Logger
}

// chatClient is the slice of the LLM gateway the planner needs.
type chatClient interface {
	ChatJSON(ctx context.Context, task llm.Task, system, user string, opts llm.ChatOptions, target any) error
}

// New builds a Planner over the live catalog.
func New(llmClient chatClient, c *cache.Cache, cat *catalog.Index, logger *slog.Logger) *Planner {
	return &Planner{
		llm:     llmClient,
		cache:   c,
		catalog: cat,
		logger:  logger.With("component", "planner"),
	}
}

type planResponse struct {
	MainKeyword         string            `json:"mainKeyword"`
	ExpandedKeywords    []string          `json:"expandedKeywords"`
	SuggestedCategories []string          `json:"suggestedCategories"`
	Location            string            `json:"location"`
	TransactionType     string            `json:"transactionType"`
	RequestedAttributes map[string]string `json:"requestedAttributes"`
	PriceHint           string            `json:"priceHint"`
	ConditionHint       string            `json:"conditionHint"`
}

type deepenResponse struct {
	Category string `json:"category"`
}

// Plan builds the QueryPlan for a search query. It returns an error only
// when the context is done; model failures degrade to a minimal plan that
// still lets the executor run a text-only search.
func (p *Planner) Plan(ctx context.Context, query string, language model.Language) (model.QueryPlan, error) {
	query = strings.TrimSpace(query)
	minimal := model.QueryPlan{
		Query:            query,
		Language:         language,
		MainKeyword:      query,
		ExpandedKeywords: []string{query},
	}
	if query == "" {
		return minimal, nil
	}

	key := cache.ParamsKey(query, string(language))
	var cached model.QueryPlan
	if ok := p.cache.GetJSON(ctx, key, &cached); ok {
		return cached, nil
	}

	var resp planResponse
	err := p.llm.ChatJSON(ctx, llm.TaskPlan, p.extractInstruction(), planUser(query, language), llm.ChatOptions{Temperature: 0.1, MaxTokens: 600}, &resp)
	if err != nil {
		if ctx.Err() != nil {
			return minimal, ctx.Err()
		}
		p.logger.Warn("query planning degraded to text-only", "error", err)
		return minimal, nil
	}

	plan := p.normalize(ctx, query, language, resp)
	p.cache.SetJSON(ctx, key, plan, cache.TTLLLM)
	return plan, nil
}

// extractInstruction embeds the live root-category list so the model only
// suggests slugs the catalog actually has.
func (p *Planner) extractInstruction() string {
	var b strings.Builder
	b.WriteString(`You extract structured search parameters from a classifieds-marketplace query (Arabic or English).

Root categories (slug: Arabic / English):
`)
	for _, cat := range p.catalog.RootCategories() {
		fmt.Fprintf(&b, "- %s: %s / %s\n", cat.Slug, cat.Name.Ar, cat.Name.En)
	}
	b.WriteString(`
Transaction types: `)
	txs := p.catalog.TransactionTypes()
	for i, tx := range txs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tx.Slug)
	}
	b.WriteString(`

Respond with a JSON object:
{
  "mainKeyword": "<the core product/item term>",
  "expandedKeywords": ["<4-5 variants: synonyms, common misspellings, the other language>"],
  "suggestedCategories": ["<1-2 root slugs from the list above>"],
  "location": "<city or area name as written, or empty>",
  "transactionType": "<slug from the list, or empty>",
  "requestedAttributes": {"<attribute-slug>": "<raw requested value>"},
  "priceHint": "<price constraint as written, or empty>",
  "conditionHint": "<new/used wording, or empty>"
}

Attribute slugs: rooms, bathrooms, area, floor, furnished, year, mileage, brand, model, fuel_type, color, condition, storage, price.
Keep values raw ("3", "100000-200000", "تويوتا"). Never invent values the user did not say.`)
	return b.String()
}

func planUser(query string, language model.Language) string {
	return fmt.Sprintf("Language: %s\nQuery: %s", language, query)
}

// normalize validates the extraction against the catalog and narrows
// category suggestions to a verified leaf when possible.
func (p *Planner) normalize(ctx context.Context, query string, language model.Language, resp planResponse) model.QueryPlan {
	plan := model.QueryPlan{
		Query:         query,
		Language:      language,
		PriceHint:     strings.TrimSpace(resp.PriceHint),
		ConditionHint: strings.TrimSpace(resp.ConditionHint),
	}

	main := strings.TrimSpace(resp.MainKeyword)
	if main == "" {
		main = query
	}
	plan.MainKeyword = main
	plan.ExpandedKeywords = model.NormalizeKeywords(main, resp.ExpandedKeywords)

	for _, slug := range resp.SuggestedCategories {
		slug = strings.ToLower(strings.TrimSpace(slug))
		if slug == "" {
			continue
		}
		if _, ok := p.catalog.LookupCategory(slug); !ok {
			p.logger.Debug("dropping unknown category suggestion", "slug", slug)
			continue
		}
		plan.SuggestedCategories = append(plan.SuggestedCategories, slug)
	}
	p.narrowToLeaf(ctx, &plan)

	if loc := strings.TrimSpace(resp.Location); loc != "" {
		plan.LocationText = loc
		if city, ok := p.catalog.LookupCity(loc, language); ok {
			plan.City = &city
		}
	}

	if tx := strings.ToLower(strings.TrimSpace(resp.TransactionType)); tx != "" {
		if _, ok := p.catalog.TransactionTypeBySlug(tx); ok {
			plan.TransactionType = tx
		} else {
			p.logger.Debug("dropping unknown transaction type", "slug", tx)
		}
	}

	for k, v := range resp.RequestedAttributes {
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		if plan.RequestedAttributes == nil {
			plan.RequestedAttributes = make(map[string]string)
		}
		plan.RequestedAttributes[k] = v
	}

	return plan
}

// narrowToLeaf promotes the first usable suggestion to the plan's verified
// leaf category. A non-leaf suggestion gets one deepen call with its
// subtree; if that fails or returns a non-leaf, the suggestion stays a
// hint and the strict strategy runs without a category filter.
func (p *Planner) narrowToLeaf(ctx context.Context, plan *model.QueryPlan) {
	for _, slug := range plan.SuggestedCategories {
		if p.catalog.IsLeaf(slug) {
			plan.Category = slug
			return
		}
	}
	for _, slug := range plan.SuggestedCategories {
		if leaf, ok := p.deepen(ctx, plan.Query, slug); ok {
			plan.Category = leaf
			return
		}
	}
}

func (p *Planner) deepen(ctx context.Context, query, parentSlug string) (string, bool) {
	subtree := p.catalog.Subtree(parentSlug)
	if len(subtree) <= 1 {
		return "", false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Pick the single best matching subcategory of %q for the query, or empty if none fits.\n\nSubcategories (slug: Arabic / English):\n", parentSlug)
	for _, cat := range subtree {
		if cat.Slug == parentSlug || !p.catalog.IsLeaf(cat.Slug) {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s / %s\n", cat.Slug, cat.Name.Ar, cat.Name.En)
	}
	b.WriteString("\nRespond with a JSON object: {\"category\": \"<slug or empty>\"}")

	var resp deepenResponse
	err := p.llm.ChatJSON(ctx, llm.TaskDeepen, b.String(), "Query: "+query, llm.ChatOptions{Temperature: 0.1, MaxTokens: 100}, &resp)
	if err != nil {
		p.logger.Debug("category deepening failed, keeping hint", "parent", parentSlug, "error", err)
		return "", false
	}

	leaf := strings.ToLower(strings.TrimSpace(resp.Category))
	if leaf == "" || !p.catalog.IsLeaf(leaf) || !p.catalog.IsUnder(leaf, parentSlug) {
		return "", false
	}
	return leaf, true
}
