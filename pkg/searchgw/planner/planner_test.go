package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/kasioon/searchgw/pkg/searchgw/cache"
	"github.com/kasioon/searchgw/pkg/searchgw/catalog"
	"github.com/kasioon/searchgw/pkg/searchgw/config"
	"github.com/kasioon/searchgw/pkg/searchgw/llm"
	"github.com/kasioon/searchgw/pkg/searchgw/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(new(strings.Builder), &slog.HandlerOptions{Level: slog.LevelError}))
}

// failingLoader forces the catalog onto its bundled snapshot.
type failingLoader struct{}

func (failingLoader) CatalogCategories(ctx context.Context) ([]model.Category, error) {
	return nil, errors.New("db down")
}
func (failingLoader) CatalogCities(ctx context.Context) ([]model.City, error) {
	return nil, errors.New("db down")
}
func (failingLoader) CatalogNeighborhoods(ctx context.Context) ([]model.Neighborhood, error) {
	return nil, errors.New("db down")
}
func (failingLoader) CatalogTransactionTypes(ctx context.Context) ([]model.TransactionType, error) {
	return nil, errors.New("db down")
}
func (failingLoader) CatalogAttributes(ctx context.Context) ([]model.Attribute, error) {
	return nil, errors.New("db down")
}

func testCatalog(t *testing.T) *catalog.Index {
	t.Helper()
	idx, err := catalog.New(context.Background(), failingLoader{}, "", testLogger())
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return idx
}

func testCache(t *testing.T) *cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.New(config.CacheConfig{URL: "redis://" + mr.Addr()}, testLogger())
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

type fakeChat struct {
	resp    map[llm.Task]any
	errs    map[llm.Task]error
	calls   map[llm.Task]int
	systems map[llm.Task]string
}

func (f *fakeChat) ChatJSON(ctx context.Context, task llm.Task, system, user string, opts llm.ChatOptions, target any) error {
	if f.calls == nil {
		f.calls = make(map[llm.Task]int)
	}
	if f.systems == nil {
		f.systems = make(map[llm.Task]string)
	}
	f.calls[task]++
	f.systems[task] = system
	if err := f.errs[task]; err != nil {
		return err
	}
	b, err := json.Marshal(f.resp[task])
	if err != nil {
		return fmt.Errorf("fake marshal: %w", err)
	}
	return json.Unmarshal(b, target)
}

func newPlanner(t *testing.T, fake *fakeChat) *Planner {
	t.Helper()
	return New(fake, testCache(t), testCatalog(t), testLogger())
}

func TestPlanFullExtraction(t *testing.T) {
	fake := &fakeChat{
		resp: map[llm.Task]any{
			llm.TaskPlan: planResponse{
				MainKeyword:         "شقة",
				ExpandedKeywords:    []string{"شقه", "apartment", "شقة سكنية"},
				SuggestedCategories: []string{"real-estate"},
				Location:            "دمشق",
				TransactionType:     "rent",
				RequestedAttributes: map[string]string{"rooms": "3"},
			},
			llm.TaskDeepen: deepenResponse{Category: "apartments"},
		},
	}
	p := newPlanner(t, fake)

	plan, err := p.Plan(context.Background(), "شقة للايجار في دمشق ٣ غرف", model.LangArabic)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if plan.MainKeyword != "شقة" {
		t.Errorf("main keyword = %q", plan.MainKeyword)
	}
	if plan.ExpandedKeywords[0] != "شقة" {
		t.Errorf("main keyword not first: %v", plan.ExpandedKeywords)
	}
	if plan.Category != "apartments" {
		t.Errorf("category = %q, want deepened leaf", plan.Category)
	}
	if plan.City == nil || plan.City.Name.Ar != "دمشق" {
		t.Errorf("city = %+v, want Damascus", plan.City)
	}
	if plan.LocationText != "دمشق" {
		t.Errorf("location text = %q", plan.LocationText)
	}
	if plan.TransactionType != "rent" {
		t.Errorf("transaction type = %q", plan.TransactionType)
	}
	if plan.RequestedAttributes["rooms"] != "3" {
		t.Errorf("attributes = %v", plan.RequestedAttributes)
	}
	if got := fake.calls[llm.TaskDeepen]; got != 1 {
		t.Errorf("deepen calls = %d, want 1", got)
	}
}

func TestPlanLeafSuggestionSkipsDeepen(t *testing.T) {
	fake := &fakeChat{
		resp: map[llm.Task]any{
			llm.TaskPlan: planResponse{
				MainKeyword:         "تويوتا",
				SuggestedCategories: []string{"cars"},
			},
		},
	}
	p := newPlanner(t, fake)

	plan, err := p.Plan(context.Background(), "سيارة تويوتا", model.LangArabic)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Category != "cars" {
		t.Errorf("category = %q, want cars", plan.Category)
	}
	if fake.calls[llm.TaskDeepen] != 0 {
		t.Errorf("deepen called %d times for a leaf suggestion", fake.calls[llm.TaskDeepen])
	}
}

func TestPlanDegradesOnLLMFailure(t *testing.T) {
	fake := &fakeChat{errs: map[llm.Task]error{llm.TaskPlan: errors.New("provider down")}}
	p := newPlanner(t, fake)

	plan, err := p.Plan(context.Background(), "laptop", model.LangEnglish)
	if err != nil {
		t.Fatalf("Plan must not fail on LLM error, got %v", err)
	}
	if len(plan.ExpandedKeywords) != 1 || plan.ExpandedKeywords[0] != "laptop" {
		t.Errorf("keywords = %v, want [laptop]", plan.ExpandedKeywords)
	}
	if plan.Category != "" || len(plan.SuggestedCategories) != 0 {
		t.Errorf("degraded plan carries categories: %+v", plan)
	}
}

func TestPlanDeepenFailureKeepsHint(t *testing.T) {
	fake := &fakeChat{
		resp: map[llm.Task]any{
			llm.TaskPlan: planResponse{
				MainKeyword:         "عقار",
				SuggestedCategories: []string{"real-estate"},
			},
		},
		errs: map[llm.Task]error{llm.TaskDeepen: errors.New("provider down")},
	}
	p := newPlanner(t, fake)

	plan, err := p.Plan(context.Background(), "عقار في حلب", model.LangArabic)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Category != "" {
		t.Errorf("category = %q, want empty after deepen failure", plan.Category)
	}
	if len(plan.SuggestedCategories) != 1 || plan.SuggestedCategories[0] != "real-estate" {
		t.Errorf("suggestions = %v, want hint kept", plan.SuggestedCategories)
	}
}

func TestPlanDeepenRejectsForeignLeaf(t *testing.T) {
	// "cars" is a real leaf but not under real-estate; the deepen answer
	// must be discarded.
	fake := &fakeChat{
		resp: map[llm.Task]any{
			llm.TaskPlan: planResponse{
				MainKeyword:         "عقار",
				SuggestedCategories: []string{"real-estate"},
			},
			llm.TaskDeepen: deepenResponse{Category: "cars"},
		},
	}
	p := newPlanner(t, fake)

	plan, _ := p.Plan(context.Background(), "عقار", model.LangArabic)
	if plan.Category != "" {
		t.Errorf("category = %q, want empty for out-of-subtree answer", plan.Category)
	}
}

func TestPlanDropsUnknownCatalogValues(t *testing.T) {
	fake := &fakeChat{
		resp: map[llm.Task]any{
			llm.TaskPlan: planResponse{
				MainKeyword:         "phone",
				SuggestedCategories: []string{"gadgets-nonexistent", "mobile-phones"},
				TransactionType:     "lease-to-own",
				Location:            "Atlantis",
			},
		},
	}
	p := newPlanner(t, fake)

	plan, err := p.Plan(context.Background(), "phone", model.LangEnglish)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.SuggestedCategories) != 1 || plan.SuggestedCategories[0] != "mobile-phones" {
		t.Errorf("suggestions = %v", plan.SuggestedCategories)
	}
	if plan.TransactionType != "" {
		t.Errorf("transaction type = %q, want unknown dropped", plan.TransactionType)
	}
	if plan.City != nil {
		t.Errorf("city = %+v, want nil for unknown location", plan.City)
	}
	if plan.LocationText != "Atlantis" {
		t.Errorf("location text = %q, want raw retained", plan.LocationText)
	}
}

func TestPlanKeywordNormalization(t *testing.T) {
	fake := &fakeChat{
		resp: map[llm.Task]any{
			llm.TaskPlan: planResponse{
				MainKeyword:      "Toyota",
				ExpandedKeywords: []string{"toyota", "TOYOTA", "تويوتا", "طويوطة", "corolla", "camry"},
			},
		},
	}
	p := newPlanner(t, fake)

	plan, _ := p.Plan(context.Background(), "toyota", model.LangEnglish)
	want := []string{"Toyota", "تويوتا", "طويوطة", "corolla", "camry"}
	if len(plan.ExpandedKeywords) != len(want) {
		t.Fatalf("keywords = %v, want %v", plan.ExpandedKeywords, want)
	}
	for i, kw := range want {
		if plan.ExpandedKeywords[i] != kw {
			t.Errorf("keyword[%d] = %q, want %q", i, plan.ExpandedKeywords[i], kw)
		}
	}
}

func TestPlanCacheReuse(t *testing.T) {
	fake := &fakeChat{
		resp: map[llm.Task]any{
			llm.TaskPlan: planResponse{MainKeyword: "laptop"},
		},
	}
	p := newPlanner(t, fake)

	for i := 0; i < 3; i++ {
		if _, err := p.Plan(context.Background(), "laptop dell", model.LangEnglish); err != nil {
			t.Fatalf("Plan #%d: %v", i, err)
		}
	}
	if fake.calls[llm.TaskPlan] != 1 {
		t.Errorf("model called %d times, want 1 (cache reuse)", fake.calls[llm.TaskPlan])
	}
}

func TestPlanEmptyQuerySkipsModel(t *testing.T) {
	fake := &fakeChat{}
	p := newPlanner(t, fake)

	plan, err := p.Plan(context.Background(), "   ", model.LangArabic)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Query != "" {
		t.Errorf("query = %q", plan.Query)
	}
	if len(fake.calls) != 0 {
		t.Errorf("model called for empty query")
	}
}

func TestPlanInstructionCarriesLiveCatalog(t *testing.T) {
	fake := &fakeChat{
		resp: map[llm.Task]any{
			llm.TaskPlan: planResponse{MainKeyword: "x"},
		},
	}
	p := newPlanner(t, fake)

	if _, err := p.Plan(context.Background(), "x", model.LangEnglish); err != nil {
		t.Fatalf("Plan: %v", err)
	}
	system := fake.systems[llm.TaskPlan]
	for _, slug := range []string{"real-estate", "vehicles", "rent", "sale"} {
		if !strings.Contains(system, slug) {
			t.Errorf("instruction missing catalog entry %q", slug)
		}
	}
}

func TestFingerprintStable(t *testing.T) {
	a := model.QueryPlan{
		Language:            model.LangArabic,
		ExpandedKeywords:    []string{"شقة", "شقه"},
		Category:            "apartments",
		RequestedAttributes: map[string]string{"rooms": "3", "area": "120"},
	}
	b := model.QueryPlan{
		Language:            model.LangArabic,
		ExpandedKeywords:    []string{"شقة", "شقه"},
		Category:            "apartments",
		RequestedAttributes: map[string]string{"area": "120", "rooms": "3"},
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("fingerprints differ for equivalent plans")
	}
	b.Category = "villas"
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("fingerprints collide for different categories")
	}
}
