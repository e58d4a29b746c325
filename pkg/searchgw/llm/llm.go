// Package llm implements the OpenAI-compatible client behind the intent
// classifier and query planner. Works with OpenAI and any compatible
// endpoint. Each task tier (intent, deepen, plan, embed) maps to its own
// model so cheap extraction runs on the fast model while planning gets the
// powerful one.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kasioon/searchgw/pkg/searchgw/config"
	"github.com/kasioon/searchgw/pkg/searchgw/metrics"
)

// Task selects the model tier and token budget for a call.
type Task string

const (
	TaskIntent Task = "intent"
	TaskDeepen Task = "deepen"
	TaskPlan   Task = "plan"
	TaskEmbed  Task = "embed"
)

// maxRetries is the automatic retry budget on transient failures.
const maxRetries = 2

// Client handles communication with the LLM provider API.
type Client struct {
	baseURL    string
	apiKey     string
	fast       string
	powerful   string
	embedModel string
	embedDim   int

	chatTimeout  time.Duration
	embedTimeout time.Duration

	httpClient *http.Client
	logger     *slog.Logger

	usage map[Task]*taskUsage
}

type taskUsage struct {
	calls      atomic.Int64
	failures   atomic.Int64
	prompt     atomic.Int64
	completion atomic.Int64
}

// Usage is a point-in-time snapshot of one task's token accounting.
type Usage struct {
	Calls            int64 `json:"calls"`
	Failures         int64 `json:"failures"`
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
}

// New creates the client from config. The API key must already be resolved;
// a missing key is a boot error, not a per-call surprise.
func New(cfg config.LLMConfig, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("LLM API key is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	fast := cfg.Fast
	if fast == "" {
		fast = cfg.Model
	}
	powerful := cfg.Powerful
	if powerful == "" {
		powerful = cfg.Model
	}
	c := &Client{
		baseURL:      baseURL,
		apiKey:       cfg.APIKey,
		fast:         fast,
		powerful:     powerful,
		embedModel:   cfg.EmbedModel,
		embedDim:     cfg.EmbedDim,
		chatTimeout:  cfg.ChatTimeout,
		embedTimeout: cfg.EmbedTimeout,
		httpClient: &http.Client{
			// No global timeout — each call carries its own context deadline.
			Transport: &http.Transport{
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   5,
				IdleConnTimeout:       120 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 60 * time.Second,
			},
		},
		logger: logger.With("component", "llm"),
		usage: map[Task]*taskUsage{
			TaskIntent: {},
			TaskDeepen: {},
			TaskPlan:   {},
			TaskEmbed:  {},
		},
	}
	if c.chatTimeout <= 0 {
		c.chatTimeout = 30 * time.Second
	}
	if c.embedTimeout <= 0 {
		c.embedTimeout = 15 * time.Second
	}
	return c, nil
}

// EmbedDim returns the fixed embedding dimension.
func (c *Client) EmbedDim() int { return c.embedDim }

// Usage returns the accumulated counters for a task.
func (c *Client) Usage(task Task) Usage {
	u, ok := c.usage[task]
	if !ok {
		return Usage{}
	}
	return Usage{
		Calls:            u.calls.Load(),
		Failures:         u.failures.Load(),
		PromptTokens:     u.prompt.Load(),
		CompletionTokens: u.completion.Load(),
	}
}

func (c *Client) modelFor(task Task) string {
	switch task {
	case TaskPlan:
		return c.powerful
	case TaskEmbed:
		return c.embedModel
	default:
		return c.fast
	}
}

// ChatOptions tunes a single call. Zero values get task defaults:
// temperature 0.2, the provider's own max_tokens.
type ChatOptions struct {
	JSONMode    bool
	Temperature float64
	MaxTokens   int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Chat sends one completion request for the task and returns the text
// content. Transient failures are retried twice with exponential backoff;
// auth errors fail fast; rate limits surface as domain errors.
func (c *Client) Chat(ctx context.Context, task Task, system, user string, opts ChatOptions) (string, error) {
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = 0.2
	}
	messages := make([]chatMessage, 0, 2)
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: user})

	reqBody := chatRequest{
		Model:       c.modelFor(task),
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if opts.JSONMode {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := 500 * time.Millisecond << (attempt - 1)
			select {
			case <-ctx.Done():
				return "", toAppError(fmt.Errorf("retry wait: %w", ctx.Err()))
			case <-time.After(delay):
			}
		}

		text, err := c.chatOnce(ctx, task, reqBody)
		if err == nil {
			metrics.RecordLLMRequest(string(task), "ok")
			return text, nil
		}
		lastErr = err

		ae, ok := err.(*apiError)
		if !ok || !ae.kind().Retryable() {
			break
		}
		c.logger.Warn("chat attempt failed, retrying",
			"task", task,
			"attempt", attempt+1,
			"kind", ae.kind().String())
	}

	c.usage[task].failures.Add(1)
	metrics.RecordLLMRequest(string(task), "error")
	return "", toAppError(lastErr)
}

func (c *Client) chatOnce(ctx context.Context, task Task, reqBody chatRequest) (string, error) {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.chatTimeout)
	defer cancel()

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("sending chat completion",
		"task", task,
		"model", reqBody.Model,
		"json_mode", reqBody.ResponseFormat != nil)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", &apiError{statusCode: 0, body: "request timed out"}
		}
		return "", fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	bodyStr := string(respBody)

	if resp.StatusCode != http.StatusOK {
		apierr := &apiError{statusCode: resp.StatusCode, body: bodyStr}
		if resp.StatusCode == 429 {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if sec, err := strconv.Atoi(ra); err == nil && sec > 0 {
					apierr.retryAfterSec = sec
				}
			}
		}
		c.logger.Error("chat API error",
			"task", task,
			"status", resp.StatusCode,
			"body", truncate(bodyStr, 500))
		return "", apierr
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if chatResp.Error != nil {
		return "", &apiError{statusCode: resp.StatusCode, body: chatResp.Error.Message}
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response from model")
	}

	u := c.usage[task]
	u.calls.Add(1)
	u.prompt.Add(int64(chatResp.Usage.PromptTokens))
	u.completion.Add(int64(chatResp.Usage.CompletionTokens))
	metrics.RecordLLMTokens(string(task), chatResp.Usage.PromptTokens, chatResp.Usage.CompletionTokens)

	c.logger.Debug("chat completion done",
		"task", task,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", chatResp.Usage.PromptTokens,
		"completion_tokens", chatResp.Usage.CompletionTokens)

	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

// ChatJSON runs a JSON-mode completion and unmarshals the object into
// target. Markdown fences are stripped; non-object returns are rejected.
func (c *Client) ChatJSON(ctx context.Context, task Task, system, user string, opts ChatOptions, target any) error {
	opts.JSONMode = true
	text, err := c.Chat(ctx, task, system, user, opts)
	if err != nil {
		return err
	}
	cleaned := CleanJSONBlock(text)
	if !strings.HasPrefix(cleaned, "{") {
		return fmt.Errorf("model returned non-object JSON: %s", truncate(cleaned, 120))
	}
	if err := json.Unmarshal([]byte(cleaned), target); err != nil {
		return fmt.Errorf("parsing model JSON: %w", err)
	}
	return nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embed returns one vector per input text, in input order. The response
// dimension must match the dimension fixed at construction.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	bodyBytes, err := json.Marshal(embedRequest{Model: c.embedModel, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.embedTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, toAppError(&apiError{statusCode: 0, body: "request timed out"})
		}
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.usage[TaskEmbed].failures.Add(1)
		return nil, toAppError(&apiError{statusCode: resp.StatusCode, body: string(respBody)})
	}

	var er embedResponse
	if err := json.Unmarshal(respBody, &er); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if er.Error != nil {
		return nil, toAppError(&apiError{statusCode: resp.StatusCode, body: er.Error.Message})
	}
	if len(er.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(er.Data), len(texts))
	}

	out := make([][]float64, len(texts))
	for _, d := range er.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		if len(d.Embedding) != c.embedDim {
			return nil, fmt.Errorf("embedding dimension %d, want %d", len(d.Embedding), c.embedDim)
		}
		out[d.Index] = d.Embedding
	}

	u := c.usage[TaskEmbed]
	u.calls.Add(1)
	u.prompt.Add(int64(er.Usage.PromptTokens))
	metrics.RecordLLMTokens(string(TaskEmbed), er.Usage.PromptTokens, 0)
	return out, nil
}

// HealthCheck issues a minimal completion to verify connectivity.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.Chat(ctx, TaskIntent, "", "ping", ChatOptions{MaxTokens: 1})
	return err
}
