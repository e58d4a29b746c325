// Package catalog keeps an in-memory snapshot of the marketplace structure:
// the category tree, cities and neighborhoods, transaction types, and the
// per-category attribute definitions. The snapshot is copy-on-refresh behind
// an atomic pointer, so request handlers read a consistent view without
// locking while the scheduler swaps in a fresh one.
package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/kasioon/searchgw/pkg/searchgw/model"
)

// Loader supplies the raw catalog rows. The Postgres store implements it;
// tests supply fakes.
type Loader interface {
	CatalogCategories(ctx context.Context) ([]model.Category, error)
	CatalogCities(ctx context.Context) ([]model.City, error)
	CatalogNeighborhoods(ctx context.Context) ([]model.Neighborhood, error)
	CatalogTransactionTypes(ctx context.Context) ([]model.TransactionType, error)
	CatalogAttributes(ctx context.Context) ([]model.Attribute, error)
}

// Index is the public handle. All lookups delegate to the current snapshot.
type Index struct {
	loader   Loader
	logger   *slog.Logger
	snapshot atomic.Pointer[snapshot]

	// keywordsFile holds aliases loaded from the optional JSON file; merged
	// into every snapshot with snapshot-derived entries winning.
	keywordsFile map[string][]string
}

//go:embed fallback.json
var fallbackJSON []byte

// New builds the index and performs the initial load: first from the loader,
// then from the bundled fallback snapshot. It fails only when both are
// unusable.
func New(ctx context.Context, loader Loader, keywordsPath string, logger *slog.Logger) (*Index, error) {
	idx := &Index{
		loader: loader,
		logger: logger.With("component", "catalog"),
	}
	if keywordsPath != "" {
		kw, err := loadKeywordsFile(keywordsPath)
		if err != nil {
			idx.logger.Warn("category keywords file unusable", "path", keywordsPath, "error", err)
		} else {
			idx.keywordsFile = kw
			idx.logger.Info("category keywords loaded", "path", keywordsPath, "categories", len(kw))
		}
	}

	if err := idx.Refresh(ctx); err != nil {
		idx.logger.Warn("catalog load failed, using bundled fallback", "error", err)
		snap, ferr := idx.buildFromFallback()
		if ferr != nil {
			return nil, fmt.Errorf("catalog unavailable: %w (fallback: %v)", err, ferr)
		}
		idx.snapshot.Store(snap)
	}
	return idx, nil
}

// Refresh loads a fresh snapshot. On failure the previous snapshot stays
// live and the error is returned for the caller to log.
func (idx *Index) Refresh(ctx context.Context) error {
	if idx.loader == nil {
		return fmt.Errorf("no catalog loader configured")
	}
	cats, err := idx.loader.CatalogCategories(ctx)
	if err != nil {
		return fmt.Errorf("loading categories: %w", err)
	}
	cities, err := idx.loader.CatalogCities(ctx)
	if err != nil {
		return fmt.Errorf("loading cities: %w", err)
	}
	hoods, err := idx.loader.CatalogNeighborhoods(ctx)
	if err != nil {
		return fmt.Errorf("loading neighborhoods: %w", err)
	}
	txs, err := idx.loader.CatalogTransactionTypes(ctx)
	if err != nil {
		return fmt.Errorf("loading transaction types: %w", err)
	}
	attrs, err := idx.loader.CatalogAttributes(ctx)
	if err != nil {
		return fmt.Errorf("loading attributes: %w", err)
	}

	snap := idx.build(cats, cities, hoods, txs, attrs)
	idx.snapshot.Store(snap)
	idx.logger.Info("catalog refreshed",
		"categories", len(cats),
		"leaves", len(snap.leaves),
		"cities", len(cities),
		"attributes", len(attrs))
	return nil
}

// LastRefresh reports when the current snapshot was built.
func (idx *Index) LastRefresh() time.Time {
	return idx.current().builtAt
}

func (idx *Index) current() *snapshot {
	if s := idx.snapshot.Load(); s != nil {
		return s
	}
	// Only reachable if New failed and the caller ignored the error.
	return &snapshot{}
}

// snapshot is one immutable view of the catalog.
type snapshot struct {
	builtAt time.Time

	byID     map[int64]model.Category
	bySlug   map[string]model.Category
	children map[int64][]string
	roots    []model.Category
	leaves   map[string]bool
	keywords map[string][]string

	cities      []model.City
	cityByID    map[int64]model.City
	cityByName  map[string]int64
	hoodsByCity map[int64][]model.Neighborhood
	txBySlug    map[string]model.TransactionType
	txs         []model.TransactionType
	attrsBySlug map[string][]model.Attribute
}

func (idx *Index) build(cats []model.Category, cities []model.City, hoods []model.Neighborhood, txs []model.TransactionType, attrs []model.Attribute) *snapshot {
	s := &snapshot{
		builtAt:     time.Now(),
		byID:        make(map[int64]model.Category, len(cats)),
		bySlug:      make(map[string]model.Category, len(cats)),
		children:    make(map[int64][]string),
		leaves:      make(map[string]bool),
		keywords:    make(map[string][]string),
		cities:      cities,
		cityByID:    make(map[int64]model.City, len(cities)),
		cityByName:  make(map[string]int64, len(cities)*2),
		hoodsByCity: make(map[int64][]model.Neighborhood),
		txBySlug:    make(map[string]model.TransactionType, len(txs)),
		txs:         txs,
		attrsBySlug: make(map[string][]model.Attribute),
	}

	for _, c := range cats {
		if !c.Active {
			continue
		}
		s.byID[c.ID] = c
		s.bySlug[c.Slug] = c
	}
	for _, c := range s.bySlug {
		if c.ParentID != nil {
			s.children[*c.ParentID] = append(s.children[*c.ParentID], c.Slug)
		} else {
			s.roots = append(s.roots, c)
		}
	}
	sort.Slice(s.roots, func(i, j int) bool {
		if s.roots[i].SortOrder != s.roots[j].SortOrder {
			return s.roots[i].SortOrder < s.roots[j].SortOrder
		}
		return s.roots[i].ID < s.roots[j].ID
	})
	for id, kids := range s.children {
		sort.Slice(kids, func(i, j int) bool {
			a, b := s.bySlug[kids[i]], s.bySlug[kids[j]]
			if a.SortOrder != b.SortOrder {
				return a.SortOrder < b.SortOrder
			}
			return a.ID < b.ID
		})
		s.children[id] = kids
	}
	// Leafness is derived, never stored: a category with no active children
	// is a leaf.
	for slug, c := range s.bySlug {
		if len(s.children[c.ID]) == 0 {
			s.leaves[slug] = true
		}
	}

	// Seed keywords with the category names; the aliases file fills gaps.
	for slug, c := range s.bySlug {
		kws := make([]string, 0, 2)
		if c.Name.Ar != "" {
			kws = append(kws, c.Name.Ar)
		}
		if c.Name.En != "" {
			kws = append(kws, c.Name.En)
		}
		s.keywords[slug] = kws
	}
	for slug, aliases := range idx.keywordsFile {
		if _, exists := s.keywords[slug]; !exists {
			s.keywords[slug] = aliases
		}
	}

	for _, city := range cities {
		s.cityByID[city.ID] = city
		if n := Fold(city.Name.Ar); n != "" {
			s.cityByName[n] = city.ID
		}
		if n := Fold(city.Name.En); n != "" {
			s.cityByName[n] = city.ID
		}
	}
	for _, h := range hoods {
		s.hoodsByCity[h.CityID] = append(s.hoodsByCity[h.CityID], h)
	}
	for _, tx := range txs {
		s.txBySlug[tx.Slug] = tx
	}
	for _, a := range attrs {
		s.attrsBySlug[a.CategorySlug] = append(s.attrsBySlug[a.CategorySlug], a)
	}
	return s
}

type fallbackData struct {
	Categories       []model.Category        `json:"categories"`
	Cities           []model.City            `json:"cities"`
	Neighborhoods    []model.Neighborhood    `json:"neighborhoods"`
	TransactionTypes []model.TransactionType `json:"transactionTypes"`
	Attributes       []model.Attribute       `json:"attributes"`
}

func (idx *Index) buildFromFallback() (*snapshot, error) {
	var data fallbackData
	if err := json.Unmarshal(fallbackJSON, &data); err != nil {
		return nil, fmt.Errorf("parsing bundled catalog: %w", err)
	}
	return idx.build(data.Categories, data.Cities, data.Neighborhoods, data.TransactionTypes, data.Attributes), nil
}

// ---------- Lookups ----------

// LookupCategory returns the category for a slug.
func (idx *Index) LookupCategory(slug string) (model.Category, bool) {
	c, ok := idx.current().bySlug[slug]
	return c, ok
}

// CategoryByID returns the category for a numeric ID.
func (idx *Index) CategoryByID(id int64) (model.Category, bool) {
	c, ok := idx.current().byID[id]
	return c, ok
}

// IsLeaf reports whether the slug names a category with no children.
// Unknown slugs are not leaves.
func (idx *Index) IsLeaf(slug string) bool {
	return idx.current().leaves[slug]
}

// LeafSlugs returns every leaf slug, sorted.
func (idx *Index) LeafSlugs() []string {
	s := idx.current()
	out := make([]string, 0, len(s.leaves))
	for slug := range s.leaves {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// RootCategories returns the top-level categories in display order.
func (idx *Index) RootCategories() []model.Category {
	return idx.current().roots
}

// Children returns the direct children of a category, in display order.
func (idx *Index) Children(slug string) []model.Category {
	s := idx.current()
	c, ok := s.bySlug[slug]
	if !ok {
		return nil
	}
	kids := s.children[c.ID]
	out := make([]model.Category, 0, len(kids))
	for _, k := range kids {
		out = append(out, s.bySlug[k])
	}
	return out
}

// Subtree returns the slug's category and every descendant. Unknown slugs
// return nil.
func (idx *Index) Subtree(slug string) []model.Category {
	s := idx.current()
	root, ok := s.bySlug[slug]
	if !ok {
		return nil
	}
	out := []model.Category{root}
	queue := append([]string(nil), s.children[root.ID]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		c := s.bySlug[next]
		out = append(out, c)
		queue = append(queue, s.children[c.ID]...)
	}
	return out
}

// SubtreeIDs returns the category IDs of the subtree rooted at slug.
func (idx *Index) SubtreeIDs(slug string) []int64 {
	cats := idx.Subtree(slug)
	out := make([]int64, len(cats))
	for i, c := range cats {
		out[i] = c.ID
	}
	return out
}

// IsUnder reports whether slug sits in the subtree rooted at ancestor.
func (idx *Index) IsUnder(slug, ancestor string) bool {
	s := idx.current()
	c, ok := s.bySlug[slug]
	if !ok {
		return false
	}
	for {
		if c.Slug == ancestor {
			return true
		}
		if c.ParentID == nil {
			return false
		}
		parent, ok := s.byID[*c.ParentID]
		if !ok {
			return false
		}
		c = parent
	}
}

// SiblingSlugs returns the other children of slug's parent. Roots return
// the other roots.
func (idx *Index) SiblingSlugs(slug string) []string {
	s := idx.current()
	c, ok := s.bySlug[slug]
	if !ok {
		return nil
	}
	var pool []string
	if c.ParentID == nil {
		for _, r := range s.roots {
			pool = append(pool, r.Slug)
		}
	} else {
		pool = s.children[*c.ParentID]
	}
	out := make([]string, 0, len(pool))
	for _, p := range pool {
		if p != slug {
			out = append(out, p)
		}
	}
	return out
}

// CategoryKeywords returns the merged slug → aliases map.
func (idx *Index) CategoryKeywords() map[string][]string {
	return idx.current().keywords
}

// Cities returns all cities.
func (idx *Index) Cities() []model.City {
	return idx.current().cities
}

// CityByID returns a city by identifier.
func (idx *Index) CityByID(id int64) (model.City, bool) {
	c, ok := idx.current().cityByID[id]
	return c, ok
}

// LookupCity resolves a free-text city name in either language. Exact
// folded equality wins; otherwise a containment pass catches inputs like
// "مدينة دمشق".
func (idx *Index) LookupCity(name string, lang model.Language) (model.City, bool) {
	s := idx.current()
	folded := Fold(name)
	if folded == "" {
		return model.City{}, false
	}
	if id, ok := s.cityByName[folded]; ok {
		return s.cityByID[id], true
	}
	for norm, id := range s.cityByName {
		if norm == "" {
			continue
		}
		if containsFold(folded, norm) || containsFold(norm, folded) {
			return s.cityByID[id], true
		}
	}
	return model.City{}, false
}

// LookupNeighborhood resolves a neighborhood name within a city.
func (idx *Index) LookupNeighborhood(cityID int64, name string) (model.Neighborhood, bool) {
	folded := Fold(name)
	if folded == "" {
		return model.Neighborhood{}, false
	}
	for _, h := range idx.current().hoodsByCity[cityID] {
		if Fold(h.Name.Ar) == folded || Fold(h.Name.En) == folded {
			return h, true
		}
	}
	return model.Neighborhood{}, false
}

// AttributesOf returns the attribute definitions scoped to a category.
func (idx *Index) AttributesOf(categorySlug string) []model.Attribute {
	return idx.current().attrsBySlug[categorySlug]
}

// TransactionTypeBySlug resolves a transaction type.
func (idx *Index) TransactionTypeBySlug(slug string) (model.TransactionType, bool) {
	tx, ok := idx.current().txBySlug[slug]
	return tx, ok
}

// TransactionTypes returns all transaction types.
func (idx *Index) TransactionTypes() []model.TransactionType {
	return idx.current().txs
}
