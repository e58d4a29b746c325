// Package intent classifies user utterances into one of the eight request
// kinds the gateway serves. Classification is a single JSON-mode call on
// the fast model tier, cached by utterance, and degrades to a plain search
// whenever the model is unreachable so a user query never fails here.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kasioon/searchgw/pkg/searchgw/cache"
	"github.com/kasioon/searchgw/pkg/searchgw/llm"
	"github.com/kasioon/searchgw/pkg/searchgw/metrics"
	"github.com/kasioon/searchgw/pkg/searchgw/model"
)

const classifyInstruction = `You classify a classifieds-marketplace user message into exactly one intent.

Intents:
- "search": the user is looking for listings (products, properties, vehicles, jobs...). Extract the search text into "query", stripped of filler like "I want" / "ابحث عن".
- "most_viewed": the user asks for the most viewed listings ("most viewed", "الأكثر مشاهدة", "اكثر مشاهدة").
- "most_impressioned": the user asks for trending or highest-interaction listings ("most impressioned", "الأكثر تفاعلاً", "الاكثر تفاعلا").
- "get_offices": the user asks to see offices or agencies ("show offices", "المكاتب", "المكاتب العقارية").
- "get_office_details": the user asks about one specific office by name or id ("details of office X", "تفاصيل مكتب X"). Put the office name or id into "office".
- "get_office_listings": the user asks for the listings of one office ("listings of office X", "إعلانات مكتب X"). Put the office name or id into "office".
- "greeting": a greeting with no request ("hi", "مرحبا", "السلام عليكم").
- "help": the user asks what you can do ("help", "مساعدة", "شو بتعمل").

Respond with a JSON object:
{"intent": "<one of the eight>", "query": "<search text or empty>", "office": "<office name or id or empty>", "limit": <requested count or 0>}

"limit" is only set when the user names a count ("top 5", "أفضل ٣"). Otherwise 0.`

// Classifier resolves the intent behind a raw utterance.
type Classifier struct {
	llm    chatClient
	cache  *cache.Cache
	logger *slog.Logger
}

// chatClient is the slice of the LLM gateway the classifier needs.
type chatClient interface {
	ChatJSON(ctx context.Context, task llm.Task, system, user string, opts llm.ChatOptions, target any) error
}

// New builds a Classifier. The cache may be disabled; classification still
// works, just without reuse.
func New(llmClient chatClient, c *cache.Cache, logger *slog.Logger) *Classifier {
	return &Classifier{
		llm:    llmClient,
		cache:  c,
		logger: logger.With("component", "intent"),
	}
}

type classifyResponse struct {
	Intent string `json:"intent"`
	Query  string `json:"query"`
	Office string `json:"office"`
	Limit  int    `json:"limit"`
}

// Classify maps the utterance to an Intent. It returns an error only when
// the context is done; every model failure degrades to a search intent
// carrying the original utterance.
func (c *Classifier) Classify(ctx context.Context, utterance string, language model.Language) (model.Intent, error) {
	utterance = strings.TrimSpace(utterance)
	fallback := model.Intent{Kind: model.IntentSearch, Query: utterance}

	key := cache.IntentKey(utterance, string(language))
	var cached model.Intent
	if ok := c.cache.GetJSON(ctx, key, &cached); ok {
		metrics.RecordIntent(string(cached.Kind))
		return cached, nil
	}

	var resp classifyResponse
	err := c.llm.ChatJSON(ctx, llm.TaskIntent, classifyInstruction, classifyUser(utterance, language), llm.ChatOptions{Temperature: 0.1, MaxTokens: 200}, &resp)
	if err != nil {
		if ctx.Err() != nil {
			return fallback, ctx.Err()
		}
		c.logger.Warn("intent classification degraded to search", "error", err)
		metrics.RecordIntent(string(model.IntentSearch))
		return fallback, nil
	}

	out := c.normalize(resp, utterance)
	c.cache.SetJSON(ctx, key, out, cache.TTLLLM)
	metrics.RecordIntent(string(out.Kind))
	return out, nil
}

func classifyUser(utterance string, language model.Language) string {
	return fmt.Sprintf("Language: %s\nMessage: %s", language, utterance)
}

// normalize validates the model's answer. Unknown kinds and search intents
// with an empty query fall back to the raw utterance.
func (c *Classifier) normalize(resp classifyResponse, utterance string) model.Intent {
	kind := model.IntentKind(strings.ToLower(strings.TrimSpace(resp.Intent)))
	if !kind.Valid() {
		c.logger.Warn("model returned unknown intent kind", "kind", resp.Intent)
		kind = model.IntentSearch
	}

	out := model.Intent{
		Kind:   kind,
		Query:  strings.TrimSpace(resp.Query),
		Office: strings.TrimSpace(resp.Office),
		Limit:  resp.Limit,
	}
	if out.Kind == model.IntentSearch && out.Query == "" {
		out.Query = utterance
	}
	if out.Limit < 0 {
		out.Limit = 0
	}
	switch out.Kind {
	case model.IntentOfficeDetails, model.IntentOfficeListings:
		if out.Office == "" && out.Query != "" {
			out.Office = out.Query
		}
	}
	return out
}
