// Package telegram is the Telegram delivery channel, talking to the Bot
// API directly over HTTP. Updates arrive either through long polling or
// through the gateway's webhook route; both paths feed the same handler,
// which runs the pipeline and replies with the rendered HTML message.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kasioon/searchgw/pkg/searchgw/apperr"
	"github.com/kasioon/searchgw/pkg/searchgw/config"
	"github.com/kasioon/searchgw/pkg/searchgw/model"
	"github.com/kasioon/searchgw/pkg/searchgw/orchestrator"
	"github.com/kasioon/searchgw/pkg/searchgw/render"
)

// ModePolling and ModeWebhook are the transport modes.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// maxVoiceBytes bounds voice-note downloads; larger notes get a refusal
// instead of a transfer.
const maxVoiceBytes = 25 << 20

// maxConcurrentUpdates bounds in-flight update handlers; the poll loop
// blocks when the budget is spent.
const maxConcurrentUpdates = 16

// Pipeline is the slice of the orchestrator the channel drives.
type Pipeline interface {
	Handle(ctx context.Context, req orchestrator.Request) (orchestrator.Response, error)
}

// Bot is the Telegram channel instance.
type Bot struct {
	cfg      config.TelegramConfig
	pipeline Pipeline
	logger   *slog.Logger
	client   *http.Client

	// baseURL is https://api.telegram.org/bot<token>; fileBaseURL is the
	// matching file-download root.
	baseURL     string
	fileBaseURL string

	connected  atomic.Bool
	errorCount atomic.Int64

	// offset is the last processed update ID + 1 (polling mode only).
	offset int64

	// sem bounds concurrent update handlers.
	sem chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the Telegram channel. It does not talk to the network until
// Start.
func New(cfg config.TelegramConfig, pipeline Pipeline, logger *slog.Logger) *Bot {
	return &Bot{
		cfg:         cfg,
		pipeline:    pipeline,
		logger:      logger.With("component", "telegram"),
		client:      &http.Client{Timeout: 60 * time.Second},
		baseURL:     "https://api.telegram.org/bot" + cfg.Token,
		fileBaseURL: "https://api.telegram.org/file/bot" + cfg.Token,
		sem:         make(chan struct{}, maxConcurrentUpdates),
	}
}

// Start verifies the token and brings up the configured transport:
// long polling, or webhook registration with updates delivered through
// ProcessWebhook.
func (b *Bot) Start(ctx context.Context) error {
	if b.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token is required")
	}
	if b.connected.Load() {
		return nil
	}

	b.ctx, b.cancel = context.WithCancel(ctx)

	me, err := b.getMe(b.ctx)
	if err != nil {
		return fmt.Errorf("telegram: verifying token: %w", err)
	}

	switch b.cfg.Mode {
	case ModeWebhook:
		if b.cfg.WebhookURL == "" {
			return fmt.Errorf("telegram: webhook mode requires webhook_url")
		}
		if err := b.setWebhook(b.ctx, b.cfg.WebhookURL); err != nil {
			return fmt.Errorf("telegram: registering webhook: %w", err)
		}
	case ModePolling, "":
		// A leftover webhook blocks getUpdates.
		if err := b.deleteWebhook(b.ctx); err != nil {
			b.logger.Warn("clearing webhook failed", "error", err)
		}
		go b.pollLoop()
	default:
		return fmt.Errorf("telegram: unknown mode %q", b.cfg.Mode)
	}

	b.connected.Store(true)
	b.logger.Info("telegram connected", "bot", me.Username, "mode", b.mode())
	return nil
}

// Stop ends polling and marks the channel disconnected. A registered
// webhook stays registered so a restart picks it back up.
func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.connected.Store(false)
	b.logger.Info("telegram disconnected")
}

// IsConnected reports transport state for the health endpoint.
func (b *Bot) IsConnected() bool { return b.connected.Load() }

func (b *Bot) mode() string {
	if b.cfg.Mode == ModeWebhook {
		return ModeWebhook
	}
	return ModePolling
}

// ProcessWebhook handles one webhook delivery. The update is dispatched
// asynchronously so Telegram gets its 200 without waiting on the pipeline.
func (b *Bot) ProcessWebhook(body []byte) error {
	var u tgUpdate
	if err := json.Unmarshal(body, &u); err != nil {
		return apperr.Wrap(apperr.Validation, "malformed telegram update", err)
	}
	ctx := b.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	go b.processUpdate(ctx, u)
	return nil
}

// ---------- Polling ----------

func (b *Bot) pollLoop() {
	b.logger.Info("polling started")
	backoff := time.Second

	for {
		select {
		case <-b.ctx.Done():
			b.logger.Info("polling stopped")
			return
		default:
		}

		updates, err := b.getUpdates(b.offset, 100, 30)
		if err != nil {
			b.errorCount.Add(1)
			b.logger.Warn("getUpdates failed", "error", err, "backoff", backoff)
			select {
			case <-b.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		backoff = time.Second
		b.errorCount.Store(0)

		for _, u := range updates {
			if u.UpdateID >= b.offset {
				b.offset = u.UpdateID + 1
			}
			select {
			case b.sem <- struct{}{}:
			case <-b.ctx.Done():
				return
			}
			go func(u tgUpdate) {
				defer func() { <-b.sem }()
				b.processUpdate(b.ctx, u)
			}(u)
		}
	}
}

// ---------- Update handling ----------

func (b *Bot) processUpdate(ctx context.Context, u tgUpdate) {
	if u.CallbackQuery != nil {
		b.processCallback(ctx, u.CallbackQuery)
		return
	}

	msg := u.Message
	if msg == nil {
		msg = u.EditedMessage
	}
	if msg == nil {
		return
	}

	if msg.Voice != nil {
		b.processVoice(ctx, msg)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	if text == "" {
		return
	}
	if text == "/start" || text == "/help" {
		lang := model.LangArabic
		if msg.From != nil && msg.From.LanguageCode == "en" {
			lang = model.LangEnglish
		}
		b.reply(ctx, msg.Chat.ID, render.TelegramMessage{Text: render.Help(lang), ParseMode: "HTML"})
		return
	}

	b.handleQuery(ctx, msg.Chat.ID, orchestrator.Request{
		Query:    text,
		Language: model.DetectLanguage(text),
		Source:   string(model.SourceTelegram),
	})
}

func (b *Bot) processCallback(ctx context.Context, cb *tgCallbackQuery) {
	// Ack first so the client stops its spinner.
	if err := b.answerCallbackQuery(ctx, cb.ID); err != nil {
		b.logger.Warn("answerCallbackQuery failed", "error", err)
	}
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	switch {
	case strings.HasPrefix(cb.Data, "search:"):
		text := strings.TrimSpace(strings.TrimPrefix(cb.Data, "search:"))
		if text == "" {
			return
		}
		b.handleQuery(ctx, chatID, orchestrator.Request{
			Query:    text,
			Language: model.DetectLanguage(text),
			Source:   string(model.SourceTelegram),
		})
	case cb.Data == "new_search":
		lang := model.LangArabic
		if cb.From != nil && cb.From.LanguageCode == "en" {
			lang = model.LangEnglish
		}
		b.reply(ctx, chatID, render.TelegramMessage{Text: render.Greeting(lang), ParseMode: "HTML"})
	}
}

func (b *Bot) processVoice(ctx context.Context, msg *tgMessage) {
	lang := model.LangArabic
	if msg.From != nil && msg.From.LanguageCode == "en" {
		lang = model.LangEnglish
	}
	if msg.Voice.FileSize > maxVoiceBytes {
		b.reply(ctx, msg.Chat.ID, render.TelegramMessage{Text: voiceTooLarge(lang), ParseMode: "HTML"})
		return
	}

	audio, filename, err := b.downloadVoice(ctx, msg.Voice.FileID)
	if err != nil {
		b.logger.Warn("voice download failed", "error", err)
		b.reply(ctx, msg.Chat.ID, render.TelegramMessage{Text: errorMessage(lang, err), ParseMode: "HTML"})
		return
	}

	b.handleQuery(ctx, msg.Chat.ID, orchestrator.Request{
		Audio:         audio,
		AudioFilename: filename,
		Language:      lang,
		Source:        string(model.SourceTelegram),
	})
}

// handleQuery runs the pipeline and replies with the rendered result.
func (b *Bot) handleQuery(ctx context.Context, chatID int64, req orchestrator.Request) {
	req.UserID = strconv.FormatInt(chatID, 10)
	if err := b.sendChatAction(ctx, chatID, "typing"); err != nil {
		b.logger.Debug("sendChatAction failed", "error", err)
	}

	resp, err := b.pipeline.Handle(ctx, req)
	if err != nil {
		b.logger.Warn("pipeline failed", "error", err, "chat", chatID)
		b.reply(ctx, chatID, render.TelegramMessage{Text: errorMessage(req.Language, err), ParseMode: "HTML"})
		return
	}
	b.reply(ctx, chatID, render.Telegram(resp.Result))
}

func (b *Bot) reply(ctx context.Context, chatID int64, msg render.TelegramMessage) {
	if err := b.sendMessage(ctx, chatID, msg); err != nil {
		b.errorCount.Add(1)
		b.logger.Error("sendMessage failed", "error", err, "chat", chatID)
	}
}

// errorMessage maps a pipeline error to the short localized reply chat
// users see. NotFound and Validation carry their own user-safe message.
func errorMessage(lang model.Language, err error) string {
	switch ae := apperr.AsError(err); ae.Kind {
	case apperr.NotFound, apperr.Validation:
		return ae.Message
	case apperr.RateLimited:
		if lang == model.LangEnglish {
			return "Too many requests. Please wait a moment and try again."
		}
		return "طلبات كثيرة. انتظر قليلاً ثم حاول مرة أخرى."
	}
	if lang == model.LangEnglish {
		return "Sorry, something went wrong. Please try again."
	}
	return "عذراً، حدث خطأ. حاول مرة أخرى."
}

func voiceTooLarge(lang model.Language) string {
	if lang == model.LangEnglish {
		return "That voice note is too large. Please keep it under 25 MB."
	}
	return "الرسالة الصوتية كبيرة جداً. الحد الأقصى 25 ميغابايت."
}

// ---------- Bot API calls ----------

// sendMessage posts an HTML message with the inline keyboard attached.
func (b *Bot) sendMessage(ctx context.Context, chatID int64, msg render.TelegramMessage) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    msg.Text,
	}
	if msg.ParseMode != "" {
		payload["parse_mode"] = msg.ParseMode
	}
	if msg.DisableWebPagePreview {
		payload["disable_web_page_preview"] = true
	}
	if markup := buildReplyMarkup(msg.Buttons); markup != nil {
		payload["reply_markup"] = markup
	}
	_, err := b.apiCall(ctx, "sendMessage", payload)
	return err
}

// buildReplyMarkup lays the buttons out one per row. callback_data is
// capped at the Bot API's 64 bytes.
func buildReplyMarkup(buttons []render.InlineButton) map[string]any {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]map[string]any, 0, len(buttons))
	for _, btn := range buttons {
		if btn.Text == "" {
			continue
		}
		cell := map[string]any{"text": btn.Text}
		switch {
		case btn.URL != "":
			cell["url"] = btn.URL
		case btn.CallbackData != "":
			data := btn.CallbackData
			if len(data) > 64 {
				data = data[:64]
			}
			cell["callback_data"] = data
		default:
			continue
		}
		rows = append(rows, []map[string]any{cell})
	}
	if len(rows) == 0 {
		return nil
	}
	return map[string]any{"inline_keyboard": rows}
}

func (b *Bot) answerCallbackQuery(ctx context.Context, id string) error {
	_, err := b.apiCall(ctx, "answerCallbackQuery", map[string]any{"callback_query_id": id})
	return err
}

func (b *Bot) sendChatAction(ctx context.Context, chatID int64, action string) error {
	_, err := b.apiCall(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  action,
	})
	return err
}

func (b *Bot) setWebhook(ctx context.Context, url string) error {
	_, err := b.apiCall(ctx, "setWebhook", map[string]any{
		"url":             url,
		"allowed_updates": []string{"message", "edited_message", "callback_query"},
	})
	return err
}

func (b *Bot) deleteWebhook(ctx context.Context) error {
	_, err := b.apiCall(ctx, "deleteWebhook", nil)
	return err
}

func (b *Bot) getMe(ctx context.Context) (*tgBotUser, error) {
	data, err := b.apiCall(ctx, "getMe", nil)
	if err != nil {
		return nil, err
	}
	var user tgBotUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("telegram: parsing getMe: %w", err)
	}
	return &user, nil
}

func (b *Bot) getUpdates(offset int64, limit, timeoutSecs int) ([]tgUpdate, error) {
	data, err := b.apiCall(b.ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"limit":           limit,
		"timeout":         timeoutSecs,
		"allowed_updates": []string{"message", "edited_message", "callback_query"},
	})
	if err != nil {
		return nil, err
	}
	var updates []tgUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("telegram: parsing updates: %w", err)
	}
	return updates, nil
}

// downloadVoice resolves the file path via getFile and fetches the bytes.
// The returned filename keeps the real extension so format validation sees
// it.
func (b *Bot) downloadVoice(ctx context.Context, fileID string) ([]byte, string, error) {
	data, err := b.apiCall(ctx, "getFile", map[string]any{"file_id": fileID})
	if err != nil {
		return nil, "", err
	}
	var file tgFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, "", fmt.Errorf("telegram: parsing getFile: %w", err)
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("telegram: getFile returned no path")
	}

	downloadURL := b.fileBaseURL + "/" + file.FilePath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: creating download request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("telegram: download status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxVoiceBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("telegram: reading voice note: %w", err)
	}
	if len(audio) > maxVoiceBytes {
		return nil, "", fmt.Errorf("telegram: voice note exceeds %d bytes", maxVoiceBytes)
	}

	filename := path.Base(file.FilePath)
	if filename == "." || filename == "/" {
		filename = "voice.oga"
	}
	return audio, filename, nil
}

// apiCall posts one Bot API method and unwraps the standard response
// envelope.
func (b *Bot) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	url := b.baseURL + "/" + method
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram: decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram: %s: %s", method, result.Description)
	}
	return result.Result, nil
}

// ---------- Bot API types ----------

type tgUpdate struct {
	UpdateID      int64            `json:"update_id"`
	Message       *tgMessage       `json:"message"`
	EditedMessage *tgMessage       `json:"edited_message"`
	CallbackQuery *tgCallbackQuery `json:"callback_query"`
}

type tgMessage struct {
	MessageID int      `json:"message_id"`
	From      *tgUser  `json:"from"`
	Chat      tgChat   `json:"chat"`
	Date      int      `json:"date"`
	Text      string   `json:"text"`
	Caption   string   `json:"caption"`
	Voice     *tgVoice `json:"voice"`
}

type tgCallbackQuery struct {
	ID      string     `json:"id"`
	From    *tgUser    `json:"from"`
	Message *tgMessage `json:"message"`
	Data    string     `json:"data"`
}

type tgUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	Username     string `json:"username"`
	LanguageCode string `json:"language_code"`
}

type tgChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type tgVoice struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

type tgFile struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
	FileSize int64  `json:"file_size"`
}

type tgBotUser struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot"`
	Username string `json:"username"`
}
