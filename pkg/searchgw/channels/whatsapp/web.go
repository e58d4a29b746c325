package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3" // session store driver

	"github.com/kasioon/searchgw/pkg/searchgw/apperr"
	"github.com/kasioon/searchgw/pkg/searchgw/config"
)

// reconnectBackoff is the base delay between reconnect attempts; the wait
// grows linearly with the attempt count and caps at five minutes.
const reconnectBackoff = 5 * time.Second

// webTransport drives a linked WhatsApp Web device through whatsmeow. The
// session container is a local SQLite file, so one QR scan survives
// restarts.
type webTransport struct {
	sessionPath string
	logger      *slog.Logger

	client            *whatsmeow.Client
	connected         atomic.Bool
	reconnectGuard    atomic.Bool
	reconnectAttempts atomic.Int64

	// Set by the owning Bot before connect.
	onText  func(ctx context.Context, from, text string)
	onVoice func(ctx context.Context, from string)

	ctx context.Context
}

func newWebTransport(cfg config.WhatsAppConfig, logger *slog.Logger) *webTransport {
	return &webTransport{
		sessionPath: cfg.SessionPath,
		logger:      logger,
	}
}

// connect opens the session store, restores the device and dials WhatsApp.
// A fresh session starts the QR login in the background so boot does not
// block on a scan.
func (t *webTransport) connect(ctx context.Context) error {
	t.ctx = ctx

	dsn := fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", t.sessionPath)
	container, err := sqlstore.New(ctx, "sqlite3", dsn, waLog.Noop)
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, "opening whatsapp session store", err)
	}

	device, err := t.getDevice(ctx, container)
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, "loading whatsapp device", err)
	}

	store.SetOSInfo("Kasioon Search", [3]uint32{1, 0, 0})

	t.client = whatsmeow.NewClient(device, waLog.Noop)
	t.client.AddEventHandler(t.handleEvent)
	t.client.EnableAutoReconnect = true
	t.client.InitialAutoReconnect = true

	if t.client.Store.ID == nil {
		go func() {
			if err := t.loginWithQR(ctx); err != nil {
				t.logger.Error("whatsapp qr login failed", "error", err)
			}
		}()
		return nil
	}

	if err := t.client.Connect(); err != nil {
		return apperr.Wrap(apperr.Unavailable, "connecting to whatsapp", err)
	}
	return nil
}

func (t *webTransport) disconnect() {
	if t.client != nil {
		t.client.Disconnect()
	}
	t.connected.Store(false)
}

func (t *webTransport) needsQR() bool {
	return t.client != nil && t.client.Store.ID == nil && !t.connected.Load()
}

// getDevice restores the first stored device or creates a fresh one.
func (t *webTransport) getDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// loginWithQR drives the pairing flow. Codes land in the log; the gateway
// runs headless, so the operator copies the code into a QR generator or
// pairs from a terminal that renders it.
func (t *webTransport) loginWithQR(ctx context.Context) error {
	qrChan, err := t.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting qr channel: %w", err)
	}
	if err := t.client.Connect(); err != nil {
		return fmt.Errorf("connecting for qr: %w", err)
	}

	t.logger.Info("whatsapp waiting for qr scan")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("qr channel closed")
			}
			switch evt.Event {
			case "code":
				t.logger.Info("whatsapp qr code ready", "code", evt.Code)
			case "success":
				t.connected.Store(true)
				t.reconnectAttempts.Store(0)
				t.logger.Info("whatsapp device linked")
				return nil
			case "timeout":
				t.logger.Warn("whatsapp qr code expired")
				return fmt.Errorf("qr code timeout")
			default:
				if evt.Error != nil {
					return fmt.Errorf("qr login: %w", evt.Error)
				}
			}
		}
	}
}

// handleEvent is the whatsmeow event dispatcher.
func (t *webTransport) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		t.handleMessage(evt)

	case *events.Connected:
		t.connected.Store(true)
		t.reconnectAttempts.Store(0)
		t.logger.Info("whatsapp connected", "jid", t.clientJID())

	case *events.Disconnected:
		wasConnected := t.connected.Swap(false)
		t.logger.Warn("whatsapp disconnected")
		if wasConnected && t.ctx != nil && t.ctx.Err() == nil {
			go t.attemptReconnect()
		}

	case *events.StreamReplaced:
		t.connected.Store(false)
		t.logger.Error("whatsapp stream replaced, another device took over")

	case *events.LoggedOut:
		t.connected.Store(false)
		t.logger.Error("whatsapp session logged out, new qr scan required")

	case *events.KeepAliveTimeout:
		t.logger.Warn("whatsapp keep-alive timeout", "error_count", evt.ErrorCount)
	}
}

// handleMessage feeds an incoming direct message to the handler. Group
// chats, own echoes and status broadcasts are skipped.
func (t *webTransport) handleMessage(evt *events.Message) {
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	if evt.Info.Chat.Server == "broadcast" {
		return
	}

	ctx := t.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	from := evt.Info.Sender.ToNonAD().String()

	if audio := evt.Message.GetAudioMessage(); audio != nil && audio.GetPTT() {
		if t.onVoice != nil {
			t.onVoice(ctx, from)
		}
		return
	}

	text := extractText(evt.Message)
	if text == "" || t.onText == nil {
		return
	}
	t.onText(ctx, from, text)
}

// extractText pulls the body out of the two plain-text message shapes.
func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if msg.Conversation != nil {
		return msg.GetConversation()
	}
	if ext := msg.ExtendedTextMessage; ext != nil {
		return ext.GetText()
	}
	return ""
}

// attemptReconnect redials until the Connected event lands or the channel
// shuts down. The guard keeps concurrent disconnect events from stacking
// reconnect loops.
func (t *webTransport) attemptReconnect() {
	if !t.reconnectGuard.CompareAndSwap(false, true) {
		return
	}
	defer t.reconnectGuard.Store(false)

	var attempts int64
	for t.ctx.Err() == nil && !t.connected.Load() {
		attempts++
		t.reconnectAttempts.Store(attempts)

		wait := time.Duration(attempts) * reconnectBackoff
		if wait > 5*time.Minute {
			wait = 5 * time.Minute
		}
		t.logger.Info("whatsapp reconnecting", "attempt", attempts, "wait", wait)

		select {
		case <-t.ctx.Done():
			return
		case <-time.After(wait):
		}

		// Drop any stale socket before dialing again.
		t.client.Disconnect()
		if err := t.client.Connect(); err != nil {
			t.logger.Warn("whatsapp reconnect failed", "attempt", attempts, "error", err)
			continue
		}
		// Connect succeeded; the Connected event flips the flag.
		return
	}
}

// sendText delivers one plain-text message to the recipient JID.
func (t *webTransport) sendText(ctx context.Context, to, text string) error {
	if t.client == nil || !t.connected.Load() {
		return apperr.New(apperr.Unavailable, "whatsapp web session not connected")
	}
	jid, err := parseJID(to)
	if err != nil {
		return apperr.Wrap(apperr.Validation, "invalid whatsapp recipient", err)
	}
	msg := &waE2E.Message{Conversation: proto.String(text)}
	if _, err := t.client.SendMessage(ctx, jid, msg); err != nil {
		return apperr.Wrap(apperr.Unavailable, "sending whatsapp message", err)
	}
	return nil
}

func (t *webTransport) clientJID() string {
	if t.client != nil && t.client.Store.ID != nil {
		return t.client.Store.ID.String()
	}
	return ""
}

// parseJID accepts a bare phone number or a full JID string.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty jid")
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %q", s)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
