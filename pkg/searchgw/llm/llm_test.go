package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kasioon/searchgw/pkg/searchgw/apperr"
	"github.com/kasioon/searchgw/pkg/searchgw/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(new(strings.Builder), &slog.HandlerOptions{Level: slog.LevelError}))
}

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(config.LLMConfig{
		BaseURL:      url,
		APIKey:       "test-key",
		Model:        "gpt-test",
		Fast:         "gpt-fast",
		Powerful:     "gpt-powerful",
		EmbedModel:   "embed-test",
		EmbedDim:     4,
		ChatTimeout:  5 * time.Second,
		EmbedTimeout: 5 * time.Second,
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func chatOK(content string) string {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(config.LLMConfig{Model: "m"}, testLogger())
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestChatSuccess(t *testing.T) {
	var gotAuth, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		fmt.Fprint(w, chatOK("  hello world  "))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	text, err := c.Chat(context.Background(), TaskIntent, "sys", "user msg", ChatOptions{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if text != "hello world" {
		t.Errorf("content = %q, want trimmed %q", text, "hello world")
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotModel != "gpt-fast" {
		t.Errorf("intent task used model %q, want fast tier", gotModel)
	}

	u := c.Usage(TaskIntent)
	if u.Calls != 1 || u.PromptTokens != 12 || u.CompletionTokens != 7 {
		t.Errorf("usage = %+v", u)
	}
}

func TestChatModelTiers(t *testing.T) {
	var models []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		models = append(models, req.Model)
		fmt.Fprint(w, chatOK("ok"))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	for _, task := range []Task{TaskIntent, TaskDeepen, TaskPlan} {
		if _, err := c.Chat(context.Background(), task, "", "q", ChatOptions{}); err != nil {
			t.Fatalf("Chat(%s): %v", task, err)
		}
	}
	want := []string{"gpt-fast", "gpt-fast", "gpt-powerful"}
	for i, m := range want {
		if models[i] != m {
			t.Errorf("call %d used model %q, want %q", i, models[i], m)
		}
	}
}

func TestChatJSONMode(t *testing.T) {
	var sawFormat bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		sawFormat = req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object"
		fmt.Fprint(w, chatOK("```json\n{\"intent\": \"search\"}\n```"))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	var out struct {
		Intent string `json:"intent"`
	}
	if err := c.ChatJSON(context.Background(), TaskIntent, "", "q", ChatOptions{}, &out); err != nil {
		t.Fatalf("ChatJSON: %v", err)
	}
	if !sawFormat {
		t.Error("request did not carry response_format json_object")
	}
	if out.Intent != "search" {
		t.Errorf("intent = %q", out.Intent)
	}
}

func TestChatJSONRejectsNonObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatOK(`["not", "an", "object"]`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	var out map[string]any
	if err := c.ChatJSON(context.Background(), TaskIntent, "", "q", ChatOptions{}, &out); err == nil {
		t.Fatal("expected error for array response")
	}
}

func TestChatRetriesTransientErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error": {"message": "server exploded"}}`)
			return
		}
		fmt.Fprint(w, chatOK("recovered"))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	text, err := c.Chat(context.Background(), TaskPlan, "", "q", ChatOptions{})
	if err != nil {
		t.Fatalf("Chat after retries: %v", err)
	}
	if text != "recovered" {
		t.Errorf("content = %q", text)
	}
	if calls != 3 {
		t.Errorf("server saw %d calls, want 3", calls)
	}
}

func TestChatRateLimitNoRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "rate limit exceeded"}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Chat(context.Background(), TaskIntent, "", "q", ChatOptions{})
	if err == nil {
		t.Fatal("expected rate limit error")
	}
	if calls != 1 {
		t.Errorf("server saw %d calls, want 1 (no retry on 429)", calls)
	}
	if !apperr.Is(err, apperr.RateLimited) {
		t.Errorf("kind = %v, want RateLimited", apperr.KindOf(err))
	}
	if ae := apperr.AsError(err); ae.RetryAfterSec != 17 {
		t.Errorf("retry-after = %d, want 17", ae.RetryAfterSec)
	}
}

func TestChatAuthFailsFast(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "invalid api key"}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Chat(context.Background(), TaskIntent, "", "q", ChatOptions{})
	if err == nil {
		t.Fatal("expected auth error")
	}
	if calls != 1 {
		t.Errorf("server saw %d calls, want 1 (no retry on auth)", calls)
	}
	if !apperr.Is(err, apperr.Unavailable) {
		t.Errorf("kind = %v, want Unavailable", apperr.KindOf(err))
	}
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		data := make([]map[string]any, len(req.Input))
		// Return out of order to verify index-based placement.
		for i := range req.Input {
			data[len(req.Input)-1-i] = map[string]any{
				"index":     i,
				"embedding": []float64{float64(i), 0, 0, 0},
			}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data":  data,
			"usage": map[string]int{"prompt_tokens": 5},
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	vecs, err := c.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	for i, v := range vecs {
		if v[0] != float64(i) {
			t.Errorf("vector %d out of order: %v", i, v)
		}
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 0, "embedding": []float64{1, 2}},
			},
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	if _, err := c.Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	c := testClient(t, "http://unused.invalid")
	vecs, err := c.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed(nil): %v", err)
	}
	if vecs != nil {
		t.Errorf("want nil, got %v", vecs)
	}
}

func TestClassifyAPIError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{"rate limit status", 429, "", ErrorRateLimit},
		{"rate limit body", 400, "Rate limit exceeded for requests", ErrorRateLimit},
		{"overloaded", 529, "", ErrorOverloaded},
		{"overloaded body", 503, "the engine is currently overloaded", ErrorOverloaded},
		{"context window", 400, "maximum context length is 8192 tokens", ErrorContext},
		{"billing", 402, "insufficient_quota", ErrorBilling},
		{"auth 401", 401, "", ErrorAuth},
		{"auth 403", 403, "", ErrorAuth},
		{"bad request", 400, "invalid payload", ErrorBadRequest},
		{"server error", 500, "", ErrorRetryable},
		{"timeout body", 0, "request timed out", ErrorTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyAPIError(tt.status, tt.body)
			if got != tt.want {
				t.Errorf("classifyAPIError(%d, %q) = %v, want %v", tt.status, tt.body, got, tt.want)
			}
		})
	}
}

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"generic fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"leading prose", "Here you go:\n```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"whitespace", "  {\"a\": 1}\n", `{"a": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanJSONBlock(tt.input); got != tt.want {
				t.Errorf("CleanJSONBlock(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
