// Package gateway is the HTTP surface: the /api routes, channel webhooks,
// health and metrics. It validates input, drives the pipeline and maps
// error kinds to status codes; everything behind it speaks SearchResult.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/kasioon/searchgw/pkg/searchgw/config"
	"github.com/kasioon/searchgw/pkg/searchgw/metrics"
	"github.com/kasioon/searchgw/pkg/searchgw/orchestrator"
	"github.com/kasioon/searchgw/pkg/searchgw/search"
)

const serviceName = "kasioon-searchgw"

// maxBodyBytes caps JSON bodies; voice uploads get their own ceiling with
// headroom for the multipart framing around a 25 MB file.
const (
	maxBodyBytes      = 1 << 20
	maxVoiceBodyBytes = 26 << 20
)

// Pipeline is the slice of the orchestrator the gateway drives.
type Pipeline interface {
	Handle(ctx context.Context, req orchestrator.Request) (orchestrator.Response, error)
	Analyze(ctx context.Context, req orchestrator.Request) (orchestrator.Analysis, error)
	Browse(ctx context.Context, categoryID int64, f search.BrowseFilters, page, limit int) (orchestrator.Response, error)
}

// TelegramWebhook ingests Bot API updates pushed to the webhook route.
type TelegramWebhook interface {
	ProcessWebhook(body []byte) error
}

// WhatsAppWebhook ingests Cloud API deliveries and answers Meta's
// subscription handshake.
type WhatsAppWebhook interface {
	VerifyWebhook(mode, token, challenge string) (string, error)
	ProcessWebhook(body []byte) error
}

// SpeechValidator rejects bad uploads before they are buffered.
type SpeechValidator interface {
	Validate(filename string, size int64) error
}

// HealthFunc reports per-component states for the health endpoint.
type HealthFunc func(ctx context.Context) map[string]any

// Hooks are the optional integrations the gateway exposes routes for. Nil
// fields disable the matching route behavior.
type Hooks struct {
	Telegram TelegramWebhook
	WhatsApp WhatsAppWebhook
	Speech   SpeechValidator
	Health   HealthFunc
}

// Server is the HTTP gateway.
type Server struct {
	cfg      config.Config
	pipeline Pipeline
	hooks    Hooks
	logger   *slog.Logger

	engine  *gin.Engine
	srv     *http.Server
	started time.Time
}

// New builds the router with the full middleware chain and route table.
func New(cfg config.Config, pipeline Pipeline, hooks Hooks, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		pipeline: pipeline,
		hooks:    hooks,
		logger:   logger.With("component", "gateway"),
		started:  time.Now(),
	}
	s.engine = s.buildEngine()
	return s
}

func (s *Server) buildEngine() *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(s.cfg.Server.CORSOrigins)))
	r.Use(securityHeaders())
	r.Use(metrics.Middleware())
	r.Use(requestLogger(s.logger))

	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api")
	if s.cfg.RateLimit.Max > 0 {
		api.Use(newRateLimiter(s.cfg.RateLimit.Window, s.cfg.RateLimit.Max).middleware())
	}

	text := api.Group("")
	text.Use(maxBody(maxBodyBytes))
	text.POST("/search", s.handleSearch)
	text.POST("/analyze", s.handleAnalyze)
	text.GET("/search/category/:categoryId", s.handleCategory)
	text.POST("/webhooks/telegram", s.handleTelegramWebhook)
	text.GET("/webhooks/whatsapp", s.handleWhatsAppVerify)
	text.POST("/webhooks/whatsapp", s.handleWhatsAppWebhook)

	voice := api.Group("/search/voice")
	voice.Use(maxBody(maxVoiceBodyBytes))
	if s.cfg.RateLimit.StrictMax > 0 {
		voice.Use(newRateLimiter(s.cfg.RateLimit.Window, s.cfg.RateLimit.StrictMax).middleware())
	}
	voice.POST("", s.handleVoice)

	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is canceled, then drains in-flight requests. TLS is
// used when both cert and key paths are configured.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	tls := s.cfg.Server.TLSCert != "" && s.cfg.Server.TLSKey != ""
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls {
			s.logger.Info("https listening", "addr", addr)
			err = s.srv.ListenAndServeTLS(s.cfg.Server.TLSCert, s.cfg.Server.TLSKey)
		} else {
			s.logger.Info("http listening", "addr", addr)
			err = s.srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders: []string{"Content-Length", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
