// Package metrics registers the gateway's Prometheus collectors and the gin
// middleware that feeds the request series. Other packages record through
// the helper functions so collector names stay in one place.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "searchgw_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "searchgw_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	llmTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "searchgw_llm_tokens_total",
		Help: "LLM tokens consumed by task and kind (prompt/completion).",
	}, []string{"task", "kind"})

	llmRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "searchgw_llm_requests_total",
		Help: "LLM calls by task and outcome.",
	}, []string{"task", "outcome"})

	searchStrategyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "searchgw_search_strategy_total",
		Help: "Searches resolved per relaxation strategy.",
	}, []string{"strategy"})

	cacheOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "searchgw_cache_ops_total",
		Help: "Cache operations by op (get/set) and outcome (hit/miss/ok/error).",
	}, []string{"op", "outcome"})

	intentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "searchgw_intents_total",
		Help: "Classified intents by kind.",
	}, []string{"kind"})
)

// Middleware records per-request count and duration.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// Handler serves the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordLLMTokens adds token usage for a task.
func RecordLLMTokens(task string, prompt, completion int) {
	if prompt > 0 {
		llmTokensTotal.WithLabelValues(task, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		llmTokensTotal.WithLabelValues(task, "completion").Add(float64(completion))
	}
}

// RecordLLMRequest records one LLM call outcome ("ok", "error", "degraded").
func RecordLLMRequest(task, outcome string) {
	llmRequestsTotal.WithLabelValues(task, outcome).Inc()
}

// RecordStrategy records which ladder rung served a search.
func RecordStrategy(strategy string) {
	searchStrategyTotal.WithLabelValues(strategy).Inc()
}

// RecordCacheOp records a cache get/set outcome.
func RecordCacheOp(op, outcome string) {
	cacheOpsTotal.WithLabelValues(op, outcome).Inc()
}

// RecordIntent records a classified intent kind.
func RecordIntent(kind string) {
	intentTotal.WithLabelValues(kind).Inc()
}
