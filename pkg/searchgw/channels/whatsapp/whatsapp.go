// Package whatsapp is the WhatsApp delivery channel. It speaks either the
// Meta Cloud API (webhook in, Graph API out) or WhatsApp Web through a
// whatsmeow linked-device session, selected by configuration. Both
// transports feed the same handler, which runs the pipeline and replies
// with the asterisk-bold plain-text rendering.
package whatsapp

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/kasioon/searchgw/pkg/searchgw/apperr"
	"github.com/kasioon/searchgw/pkg/searchgw/config"
	"github.com/kasioon/searchgw/pkg/searchgw/model"
	"github.com/kasioon/searchgw/pkg/searchgw/orchestrator"
	"github.com/kasioon/searchgw/pkg/searchgw/render"
)

// TransportCloud and TransportWeb are the supported transports.
const (
	TransportCloud = "cloud"
	TransportWeb   = "web"
)

// Pipeline is the slice of the orchestrator the channel drives.
type Pipeline interface {
	Handle(ctx context.Context, req orchestrator.Request) (orchestrator.Response, error)
}

// Bot is the WhatsApp channel instance. Exactly one of the two transports
// is live after Start.
type Bot struct {
	cfg      config.WhatsAppConfig
	pipeline Pipeline
	logger   *slog.Logger

	cloud *cloudTransport
	web   *webTransport

	started    atomic.Bool
	errorCount atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds the channel. Transport selection and validation happen in
// Start so a misconfigured channel fails at boot, not at first message.
func New(cfg config.WhatsAppConfig, pipeline Pipeline, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		cfg:      cfg,
		pipeline: pipeline,
		logger:   logger.With("component", "whatsapp"),
	}
}

// Start brings the configured transport up. The cloud transport is
// webhook-driven and only needs credentials; the web transport dials
// WhatsApp and keeps the session alive.
func (b *Bot) Start(ctx context.Context) error {
	if b.started.Load() {
		return apperr.New(apperr.Internal, "whatsapp channel already started")
	}
	b.ctx, b.cancel = context.WithCancel(ctx)

	transport := b.cfg.Transport
	if transport == "" {
		transport = TransportCloud
	}

	switch transport {
	case TransportCloud:
		if b.cfg.Token == "" || b.cfg.PhoneNumberID == "" || b.cfg.VerifyToken == "" {
			b.cancel()
			return apperr.New(apperr.Validation, "whatsapp cloud transport needs token, phone_number_id and verify_token")
		}
		b.cloud = newCloudTransport(b.cfg, b.logger)
		b.started.Store(true)
		b.logger.Info("whatsapp channel connected",
			"transport", TransportCloud,
			"phone_number_id", b.cfg.PhoneNumberID)

	case TransportWeb:
		if b.cfg.SessionPath == "" {
			b.cancel()
			return apperr.New(apperr.Validation, "whatsapp web transport needs session_path")
		}
		web := newWebTransport(b.cfg, b.logger)
		web.onText = b.handleText
		web.onVoice = b.handleVoiceNote
		if err := web.connect(b.ctx); err != nil {
			b.cancel()
			return err
		}
		b.web = web
		b.started.Store(true)
		b.logger.Info("whatsapp channel connected",
			"transport", TransportWeb,
			"session_path", b.cfg.SessionPath)

	default:
		b.cancel()
		return apperr.Newf(apperr.Validation, "unknown whatsapp transport %q", b.cfg.Transport)
	}
	return nil
}

// Stop shuts the channel down. A linked web session stays on disk, so the
// next Start reconnects without a new QR scan.
func (b *Bot) Stop() {
	if !b.started.Load() {
		return
	}
	if b.cancel != nil {
		b.cancel()
	}
	if b.web != nil {
		b.web.disconnect()
	}
	b.started.Store(false)
	b.logger.Info("whatsapp channel stopped")
}

// IsConnected reports whether the channel can deliver messages right now.
func (b *Bot) IsConnected() bool {
	if b.web != nil {
		return b.web.connected.Load()
	}
	return b.started.Load()
}

// NeedsQR reports whether the web transport is still waiting for a device
// link.
func (b *Bot) NeedsQR() bool {
	return b.web != nil && b.web.needsQR()
}

// VerifyWebhook answers Meta's subscription handshake. It returns the
// challenge string to echo back, or an error when the request does not
// carry the configured verify token.
func (b *Bot) VerifyWebhook(mode, token, challenge string) (string, error) {
	if b.cloud == nil {
		return "", apperr.New(apperr.Validation, "whatsapp webhook verification needs the cloud transport")
	}
	if mode != "subscribe" || token != b.cfg.VerifyToken {
		return "", apperr.New(apperr.Validation, "webhook verification rejected")
	}
	return challenge, nil
}

// ProcessWebhook ingests one Cloud API delivery. Parsing happens here so
// malformed payloads surface as 400s; handling runs in the background so
// Meta gets its acknowledgement without waiting on the pipeline.
func (b *Bot) ProcessWebhook(body []byte) error {
	if b.cloud == nil {
		return apperr.New(apperr.Validation, "whatsapp webhook needs the cloud transport")
	}
	msgs, err := parseCloudWebhook(body)
	if err != nil {
		return err
	}
	ctx := b.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, m := range msgs {
		msg := m
		go b.processCloudMessage(ctx, msg)
	}
	return nil
}

func (b *Bot) processCloudMessage(ctx context.Context, m cloudMessage) {
	switch {
	case m.Type == "text" && m.Text != nil:
		b.handleText(ctx, m.From, m.Text.Body)
	case m.Type == "audio" || m.Type == "voice":
		b.handleVoiceNote(ctx, m.From)
	default:
		b.logger.Debug("ignoring whatsapp message", "type", m.Type, "from", m.From)
	}
}

// handleText runs one utterance through the pipeline and replies with the
// rendered result.
func (b *Bot) handleText(ctx context.Context, from, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	lang := model.DetectLanguage(text)

	resp, err := b.pipeline.Handle(ctx, orchestrator.Request{
		Query:    text,
		Language: lang,
		Source:   string(model.SourceWhatsApp),
		UserID:   from,
	})
	if err != nil {
		b.logger.Warn("whatsapp query failed", "from", from, "error", err)
		b.reply(ctx, from, errorMessage(err, lang))
		return
	}
	b.reply(ctx, from, render.WhatsApp(resp.Result))
}

// handleVoiceNote answers a voice note with the text-only notice. Voice
// search runs through the HTTP API and Telegram; WhatsApp media stays
// untouched.
func (b *Bot) handleVoiceNote(ctx context.Context, from string) {
	b.reply(ctx, from, voiceUnsupported(model.LangArabic))
}

func (b *Bot) reply(ctx context.Context, to, text string) {
	var err error
	switch {
	case b.cloud != nil:
		err = b.cloud.sendText(ctx, to, text)
	case b.web != nil:
		err = b.web.sendText(ctx, to, text)
	default:
		return
	}
	if err != nil {
		b.errorCount.Add(1)
		b.logger.Error("whatsapp send failed", "to", to, "error", err)
	}
}

// errorMessage maps a pipeline failure to a reply the user can act on.
// NotFound and Validation carry user-facing text already.
func errorMessage(err error, lang model.Language) string {
	switch ae := apperr.AsError(err); ae.Kind {
	case apperr.NotFound, apperr.Validation:
		return ae.Message
	case apperr.RateLimited:
		if lang == model.LangEnglish {
			return "Too many requests. Please wait a moment and try again."
		}
		return "طلبات كثيرة. انتظر قليلاً ثم حاول مرة أخرى."
	default:
		if lang == model.LangEnglish {
			return "Sorry, something went wrong. Please try again."
		}
		return "عذراً، حدث خطأ. حاول مرة أخرى."
	}
}

// voiceUnsupported is the reply for voice notes on this channel.
func voiceUnsupported(lang model.Language) string {
	if lang == model.LangEnglish {
		return "Voice search is not available on WhatsApp yet. Please type your request."
	}
	return "البحث الصوتي غير متاح على واتساب حالياً. اكتب طلبك نصاً من فضلك."
}
