// Package config defines all configuration for the search gateway. Values
// come from a YAML file with environment overrides applied on top, so a bare
// container with nothing but env vars and an LLM key still boots.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the full gateway configuration.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server"`

	// Database configures the marketplace Postgres connection.
	Database DatabaseConfig `yaml:"database"`

	// Cache configures the Redis read-through cache.
	Cache CacheConfig `yaml:"cache"`

	// LLM configures the chat/embedding provider.
	LLM LLMConfig `yaml:"llm"`

	// Speech configures the transcription provider.
	Speech SpeechConfig `yaml:"speech"`

	// Catalog configures snapshot loading and refresh.
	Catalog CatalogConfig `yaml:"catalog"`

	// Search tunes the executor.
	Search SearchConfig `yaml:"search"`

	// RateLimit configures the inbound per-IP limiter.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Channels configures the chat transports.
	Channels ChannelsConfig `yaml:"channels"`

	// Website is the public site base URL used by renderers for
	// "view more" links.
	Website string `yaml:"website"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Port is the listen port (default: 3010).
	Port int `yaml:"port"`

	// TLSCert/TLSKey enable HTTPS when both are set.
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`

	// RequestTimeout bounds a whole request (default: 45s).
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Debug includes error details and stacks in responses.
	Debug bool `yaml:"debug"`

	// CORSOrigins lists allowed origins (empty = allow all).
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatabaseConfig configures the Postgres pool.
type DatabaseConfig struct {
	// URL is the connection string (postgres://...).
	URL string `yaml:"url"`

	// PoolSize is the max open connections (default: 25).
	PoolSize int `yaml:"pool_size"`

	// QueryTimeout bounds a single query (default: 5s).
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// Retries is the connect retry budget before a request fails (default: 2).
	Retries int `yaml:"retries"`
}

// CacheConfig configures the Redis cache and its TTL classes.
type CacheConfig struct {
	// URL is the Redis connection string (redis://...). Empty disables
	// the cache with a boot warning.
	URL string `yaml:"url"`

	// Disabled turns the cache off regardless of URL (DISABLE_CACHE=true).
	Disabled bool `yaml:"disabled"`

	// OpTimeout bounds one cache operation (default: 200ms).
	OpTimeout time.Duration `yaml:"op_timeout"`

	// TTLs per class, in seconds when set from env.
	SearchTTL    time.Duration `yaml:"search_ttl"`
	StructureTTL time.Duration `yaml:"structure_ttl"`
	LLMTTL       time.Duration `yaml:"llm_ttl"`
	PopularTTL   time.Duration `yaml:"popular_ttl"`
}

// LLMConfig configures the OpenAI-compatible provider.
type LLMConfig struct {
	// BaseURL is the API base URL (default: https://api.openai.com/v1).
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates chat and embedding calls. Resolved through the
	// keyring/env chain; required at boot.
	APIKey string `yaml:"api_key"`

	// Model is the default model, Fast and Powerful override per task tier.
	Model    string `yaml:"model"`
	Fast     string `yaml:"fast"`
	Powerful string `yaml:"powerful"`

	// EmbedModel and EmbedDim fix the embedding space at construction.
	EmbedModel string `yaml:"embed_model"`
	EmbedDim   int    `yaml:"embed_dim"`

	// ChatTimeout and EmbedTimeout bound single calls.
	ChatTimeout  time.Duration `yaml:"chat_timeout"`
	EmbedTimeout time.Duration `yaml:"embed_timeout"`
}

// SpeechConfig configures audio transcription.
type SpeechConfig struct {
	// BaseURL defaults to the LLM base URL.
	BaseURL string `yaml:"base_url"`

	// APIKey defaults to the LLM key.
	APIKey string `yaml:"api_key"`

	// Model is the transcription model (default: whisper-1).
	Model string `yaml:"model"`

	// Timeout bounds one transcription call (default: 60s).
	Timeout time.Duration `yaml:"timeout"`

	// MaxAudioSize is the upload cap in bytes (default: 25MB).
	MaxAudioSize int64 `yaml:"max_audio_size"`
}

// CatalogConfig configures catalog snapshot loading.
type CatalogConfig struct {
	// RefreshInterval between snapshot reloads (default: 15m).
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// KeywordsPath points at the category-keywords JSON file (optional).
	KeywordsPath string `yaml:"keywords_path"`
}

// SearchConfig tunes the executor.
type SearchConfig struct {
	// MinScore filters the ranked list (default: 30).
	MinScore int `yaml:"min_score"`

	// FetchFactor multiplies limit for re-ranking headroom (default: 3).
	FetchFactor int `yaml:"fetch_factor"`
}

// RateLimitConfig configures the inbound per-IP limiter.
type RateLimitConfig struct {
	// Window is the measurement window (default: 1m).
	Window time.Duration `yaml:"window"`

	// Max requests per window per IP (default: 60).
	Max int `yaml:"max"`

	// StrictMax applies to the voice route (default: 5).
	StrictMax int `yaml:"strict_max"`
}

// ChannelsConfig configures the chat transports.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
}

// TelegramConfig configures the Telegram bot.
type TelegramConfig struct {
	// Enabled turns the channel on.
	Enabled bool `yaml:"enabled"`

	// Token is the bot token from @BotFather.
	Token string `yaml:"token"`

	// Mode selects the transport: "webhook" or "polling".
	// Webhook requires WebhookURL; polling needs nothing public.
	Mode string `yaml:"mode"`

	// WebhookURL is the public URL Telegram should post updates to.
	WebhookURL string `yaml:"webhook_url"`
}

// WhatsAppConfig configures the WhatsApp channel.
type WhatsAppConfig struct {
	// Enabled turns the channel on.
	Enabled bool `yaml:"enabled"`

	// Transport selects "cloud" (Graph API webhook) or "web" (device link).
	Transport string `yaml:"transport"`

	// Cloud API credentials.
	Token         string `yaml:"token"`
	PhoneNumberID string `yaml:"phone_number_id"`
	VerifyToken   string `yaml:"verify_token"`

	// SessionPath stores the web-transport session database.
	SessionPath string `yaml:"session_path"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// Default returns the default gateway configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           3010,
			RequestTimeout: 45 * time.Second,
		},
		Database: DatabaseConfig{
			PoolSize:     25,
			QueryTimeout: 5 * time.Second,
			Retries:      2,
		},
		Cache: CacheConfig{
			OpTimeout:    200 * time.Millisecond,
			SearchTTL:    300 * time.Second,
			StructureTTL: 1800 * time.Second,
			LLMTTL:       3600 * time.Second,
			PopularTTL:   900 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL:      "https://api.openai.com/v1",
			Model:        "gpt-4o-mini",
			Fast:         "gpt-4o-mini",
			Powerful:     "gpt-4o",
			EmbedModel:   "text-embedding-3-small",
			EmbedDim:     1536,
			ChatTimeout:  30 * time.Second,
			EmbedTimeout: 15 * time.Second,
		},
		Speech: SpeechConfig{
			Model:        "whisper-1",
			Timeout:      60 * time.Second,
			MaxAudioSize: 25 * 1024 * 1024,
		},
		Catalog: CatalogConfig{
			RefreshInterval: 15 * time.Minute,
		},
		Search: SearchConfig{
			MinScore:    30,
			FetchFactor: 3,
		},
		RateLimit: RateLimitConfig{
			Window:    time.Minute,
			Max:       60,
			StrictMax: 5,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{Mode: "polling"},
			WhatsApp: WhatsAppConfig{Transport: "cloud", SessionPath: "./data/whatsapp.db"},
		},
		Website: "https://www.kasioon.com",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file (when path is non-empty), applies environment
// overrides, and validates. A missing file at the default path is fine;
// an unreadable or malformed file is an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers recognized environment variables over the file values.
func (c *Config) applyEnv() {
	setStr(&c.LLM.BaseURL, "LLM_BASE_URL")
	setStr(&c.LLM.APIKey, "LLM_API_KEY", "OPENAI_API_KEY")
	setStr(&c.LLM.Model, "LLM_MODEL_DEFAULT")
	setStr(&c.LLM.Fast, "LLM_MODEL_FAST")
	setStr(&c.LLM.Powerful, "LLM_MODEL_POWERFUL")
	setStr(&c.LLM.EmbedModel, "LLM_EMBED_MODEL")
	setInt(&c.LLM.EmbedDim, "LLM_EMBED_DIM")

	setStr(&c.Speech.APIKey, "SPEECH_API_KEY")

	setStr(&c.Cache.URL, "CACHE_URL", "REDIS_URL")
	setBool(&c.Cache.Disabled, "DISABLE_CACHE")
	setSeconds(&c.Cache.SearchTTL, "SEARCH_CACHE_TTL")
	setSeconds(&c.Cache.StructureTTL, "STRUCTURE_CACHE_TTL")
	setSeconds(&c.Cache.LLMTTL, "AI_RESPONSE_CACHE_TTL")
	setSeconds(&c.Cache.PopularTTL, "POPULAR_SEARCH_CACHE_TTL")

	setStr(&c.Database.URL, "DATABASE_URL")
	setInt(&c.Database.PoolSize, "DATABASE_POOL_SIZE")

	setStr(&c.Channels.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	setStr(&c.Channels.Telegram.WebhookURL, "TELEGRAM_WEBHOOK_URL")
	setStr(&c.Channels.WhatsApp.Token, "WHATSAPP_TOKEN")
	setStr(&c.Channels.WhatsApp.PhoneNumberID, "WHATSAPP_PHONE_NUMBER_ID")
	setStr(&c.Channels.WhatsApp.VerifyToken, "WHATSAPP_VERIFY_TOKEN")

	setMillis(&c.RateLimit.Window, "RATE_LIMIT_WINDOW_MS")
	setInt(&c.RateLimit.Max, "RATE_LIMIT_MAX")
	setInt(&c.RateLimit.StrictMax, "RATE_LIMIT_STRICT_MAX")

	setInt(&c.Server.Port, "PORT")
	setStr(&c.Server.TLSCert, "TLS_CERT_PATH")
	setStr(&c.Server.TLSKey, "TLS_KEY_PATH")

	setStr(&c.Website, "WEBSITE_BASE_URL")
	setStr(&c.Catalog.KeywordsPath, "CATEGORY_KEYWORDS_PATH")

	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.WhatsApp.Token != "" || c.Channels.WhatsApp.Transport == "web" {
		c.Channels.WhatsApp.Enabled = true
	}
}

// Validate rejects configurations the gateway cannot run with. The LLM key
// is checked later, after the secrets chain had its chance.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.LLM.EmbedDim <= 0 {
		return fmt.Errorf("invalid embedding dimension %d", c.LLM.EmbedDim)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together")
	}
	switch m := c.Channels.Telegram.Mode; m {
	case "", "webhook", "polling":
	default:
		return fmt.Errorf("unknown telegram mode %q", m)
	}
	switch tr := c.Channels.WhatsApp.Transport; tr {
	case "", "cloud", "web":
	default:
		return fmt.Errorf("unknown whatsapp transport %q", tr)
	}
	return nil
}

// SpeechBaseURL returns the speech endpoint, defaulting to the LLM endpoint.
func (c *Config) SpeechBaseURL() string {
	if c.Speech.BaseURL != "" {
		return c.Speech.BaseURL
	}
	return c.LLM.BaseURL
}

// SpeechAPIKey returns the speech key, defaulting to the LLM key.
func (c *Config) SpeechAPIKey() string {
	if c.Speech.APIKey != "" {
		return c.Speech.APIKey
	}
	return c.LLM.APIKey
}

func setStr(dst *string, names ...string) {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			*dst = v
			return
		}
	}
}

func setInt(dst *int, name string) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, name string) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setSeconds(dst *time.Duration, name string) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Second
		}
	}
}

func setMillis(dst *time.Duration, name string) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}
