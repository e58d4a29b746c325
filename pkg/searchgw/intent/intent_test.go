package intent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/kasioon/searchgw/pkg/searchgw/cache"
	"github.com/kasioon/searchgw/pkg/searchgw/config"
	"github.com/kasioon/searchgw/pkg/searchgw/llm"
	"github.com/kasioon/searchgw/pkg/searchgw/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(new(strings.Builder), &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeChat struct {
	resp  classifyResponse
	err   error
	calls int
}

func (f *fakeChat) ChatJSON(ctx context.Context, task llm.Task, system, user string, opts llm.ChatOptions, target any) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	b, _ := json.Marshal(f.resp)
	return json.Unmarshal(b, target)
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

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		utterance string
		resp      classifyResponse
		wantKind  model.IntentKind
		wantQuery string
	}{
		{
			name:      "greeting",
			utterance: "مرحبا",
			resp:      classifyResponse{Intent: "greeting"},
			wantKind:  model.IntentGreeting,
		},
		{
			name:      "search with cleaned query",
			utterance: "ابحث عن شقة للايجار في دمشق",
			resp:      classifyResponse{Intent: "search", Query: "شقة للايجار في دمشق"},
			wantKind:  model.IntentSearch,
			wantQuery: "شقة للايجار في دمشق",
		},
		{
			name:      "most viewed",
			utterance: "الأكثر مشاهدة",
			resp:      classifyResponse{Intent: "most_viewed"},
			wantKind:  model.IntentMostViewed,
		},
		{
			name:      "unknown kind degrades to search",
			utterance: "toyota corolla",
			resp:      classifyResponse{Intent: "buy_now"},
			wantKind:  model.IntentSearch,
			wantQuery: "toyota corolla",
		},
		{
			name:      "empty search query falls back to utterance",
			utterance: "فيلا مفروشة",
			resp:      classifyResponse{Intent: "search"},
			wantKind:  model.IntentSearch,
			wantQuery: "فيلا مفروشة",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cl := New(&fakeChat{resp: tt.resp}, testCache(t), testLogger())
			got, err := cl.Classify(context.Background(), tt.utterance, model.LangArabic)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if got.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", got.Kind, tt.wantKind)
			}
			if got.Query != tt.wantQuery {
				t.Errorf("query = %q, want %q", got.Query, tt.wantQuery)
			}
		})
	}
}

func TestClassifyDegradesOnLLMFailure(t *testing.T) {
	fake := &fakeChat{err: errors.New("provider down")}
	cl := New(fake, testCache(t), testLogger())

	got, err := cl.Classify(context.Background(), "سيارة تويوتا", model.LangArabic)
	if err != nil {
		t.Fatalf("Classify must not fail on LLM error, got %v", err)
	}
	if got.Kind != model.IntentSearch {
		t.Errorf("kind = %q, want search", got.Kind)
	}
	if got.Query != "سيارة تويوتا" {
		t.Errorf("query = %q, want original utterance", got.Query)
	}
}

func TestClassifyUsesCache(t *testing.T) {
	fake := &fakeChat{resp: classifyResponse{Intent: "help"}}
	c := testCache(t)
	cl := New(fake, c, testLogger())

	for i := 0; i < 3; i++ {
		got, err := cl.Classify(context.Background(), "what can you do", model.LangEnglish)
		if err != nil {
			t.Fatalf("Classify #%d: %v", i, err)
		}
		if got.Kind != model.IntentHelp {
			t.Errorf("kind = %q, want help", got.Kind)
		}
	}
	if fake.calls != 1 {
		t.Errorf("model called %d times, want 1 (cache reuse)", fake.calls)
	}
}

func TestClassifyOfficeKinds(t *testing.T) {
	t.Run("office carried", func(t *testing.T) {
		fake := &fakeChat{resp: classifyResponse{Intent: "get_office_details", Office: "مكتب الأمانة", Limit: 0}}
		cl := New(fake, testCache(t), testLogger())
		got, _ := cl.Classify(context.Background(), "تفاصيل مكتب الأمانة", model.LangArabic)
		if got.Kind != model.IntentOfficeDetails || got.Office != "مكتب الأمانة" {
			t.Errorf("got %+v", got)
		}
	})
	t.Run("office falls back to query field", func(t *testing.T) {
		fake := &fakeChat{resp: classifyResponse{Intent: "get_office_listings", Query: "Damascus Realty"}}
		cl := New(fake, testCache(t), testLogger())
		got, _ := cl.Classify(context.Background(), "listings of Damascus Realty", model.LangEnglish)
		if got.Office != "Damascus Realty" {
			t.Errorf("office = %q", got.Office)
		}
	})
}

func TestClassifyLimit(t *testing.T) {
	fake := &fakeChat{resp: classifyResponse{Intent: "most_viewed", Limit: 5}}
	cl := New(fake, testCache(t), testLogger())
	got, _ := cl.Classify(context.Background(), "top 5 most viewed", model.LangEnglish)
	if got.Limit != 5 {
		t.Errorf("limit = %d, want 5", got.Limit)
	}
	if got.EffectiveLimit() != 5 {
		t.Errorf("effective limit = %d", got.EffectiveLimit())
	}

	fake = &fakeChat{resp: classifyResponse{Intent: "most_viewed", Limit: -2}}
	cl = New(fake, testCache(t), testLogger())
	got, _ = cl.Classify(context.Background(), "most viewed", model.LangEnglish)
	if got.Limit != 0 || got.EffectiveLimit() != model.DefaultLimit {
		t.Errorf("limit = %d, effective = %d", got.Limit, got.EffectiveLimit())
	}
}
