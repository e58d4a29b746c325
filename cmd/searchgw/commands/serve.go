package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kasioon/searchgw/pkg/searchgw/cache"
	"github.com/kasioon/searchgw/pkg/searchgw/catalog"
	"github.com/kasioon/searchgw/pkg/searchgw/channels/telegram"
	"github.com/kasioon/searchgw/pkg/searchgw/channels/whatsapp"
	"github.com/kasioon/searchgw/pkg/searchgw/gateway"
	"github.com/kasioon/searchgw/pkg/searchgw/intent"
	"github.com/kasioon/searchgw/pkg/searchgw/llm"
	"github.com/kasioon/searchgw/pkg/searchgw/orchestrator"
	"github.com/kasioon/searchgw/pkg/searchgw/planner"
	"github.com/kasioon/searchgw/pkg/searchgw/scheduler"
	"github.com/kasioon/searchgw/pkg/searchgw/search"
	"github.com/kasioon/searchgw/pkg/searchgw/speech"
	"github.com/kasioon/searchgw/pkg/searchgw/stats"
	"github.com/kasioon/searchgw/pkg/searchgw/store"
)

// newServeCmd creates the `searchgw serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway with channels and the HTTP API",
		Long: `Start the search gateway as a daemon: HTTP API, enabled chat
channels (Telegram, WhatsApp) and the maintenance scheduler.

Examples:
  searchgw serve
  searchgw serve --config ./searchgw.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := buildLogger(cmd, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	// Boot order: database, catalog, cache, LLM, speech, pipeline,
	// channels, scheduler, HTTP.
	st, err := store.New(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer st.Close()

	cat, err := catalog.New(ctx, st, cfg.Catalog.KeywordsPath, logger)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	c, err := cache.New(cfg.Cache, logger)
	if err != nil {
		logger.Warn("cache config unusable, running without cache", "error", err)
		c = cache.NewDisabled(logger)
	}
	if c.Enabled() {
		if err := c.Ping(ctx); err != nil {
			logger.Warn("cache unreachable, requests run uncached until it returns", "error", err)
		}
	} else {
		logger.Warn("cache disabled, every request hits the providers")
	}
	defer c.Close()

	llmClient, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	speechCfg := cfg.Speech
	speechCfg.BaseURL = cfg.SpeechBaseURL()
	speechCfg.APIKey = cfg.SpeechAPIKey()
	transcriber := speech.New(speechCfg, logger)

	classifier := intent.New(llmClient, c, logger)
	plnr := planner.New(llmClient, c, cat, logger)
	executor := search.New(st, cat, c, cfg.Search, logger)
	statsSvc := stats.New(st, c, logger)
	orch := orchestrator.New(classifier, plnr, executor, statsSvc, transcriber, cfg.Server, logger)

	hooks := gateway.Hooks{Speech: transcriber}

	var tg *telegram.Bot
	if cfg.Channels.Telegram.Enabled {
		tg = telegram.New(cfg.Channels.Telegram, orch, logger)
		if err := tg.Start(ctx); err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		defer tg.Stop()
		hooks.Telegram = tg
	}

	var wa *whatsapp.Bot
	if cfg.Channels.WhatsApp.Enabled {
		wa = whatsapp.New(cfg.Channels.WhatsApp, orch, logger)
		if err := wa.Start(ctx); err != nil {
			return fmt.Errorf("whatsapp: %w", err)
		}
		defer wa.Stop()
		hooks.WhatsApp = wa
	}

	sched := scheduler.New(logger)
	if err := scheduler.Register(sched, cat, c, statsSvc, cfg.Catalog.RefreshInterval); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	sched.Start(ctx)
	defer sched.Stop()

	hooks.Health = func(ctx context.Context) map[string]any {
		components := map[string]any{
			"database": pingStatus(st.Ping(ctx)),
			"cache":    cacheStatus(ctx, c),
			"catalog": map[string]any{
				"lastRefresh": cat.LastRefresh().UTC().Format(time.RFC3339),
			},
			"jobs": sched.Jobs(),
		}
		if tg != nil {
			components["telegram"] = map[string]any{"connected": tg.IsConnected()}
		}
		if wa != nil {
			components["whatsapp"] = map[string]any{
				"connected": wa.IsConnected(),
				"needsQr":   wa.NeedsQR(),
			}
		}
		return components
	}

	gw := gateway.New(*cfg, orch, hooks, logger)

	logger.Info("searchgw running",
		"port", cfg.Server.Port,
		"telegram", cfg.Channels.Telegram.Enabled,
		"whatsapp", cfg.Channels.WhatsApp.Enabled,
		"cache", c.Enabled(),
	)
	if err := gw.Run(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func pingStatus(err error) string {
	if err != nil {
		return "down"
	}
	return "ok"
}

func cacheStatus(ctx context.Context, c *cache.Cache) string {
	if !c.Enabled() {
		return "disabled"
	}
	return pingStatus(c.Ping(ctx))
}
