package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kasioon/searchgw/pkg/searchgw/apperr"
	"github.com/kasioon/searchgw/pkg/searchgw/config"
)

// graphBaseURL is the Meta Graph API root the cloud transport posts to.
const graphBaseURL = "https://graph.facebook.com/v19.0"

// cloudTransport sends through the Cloud API. Incoming traffic is
// webhook-only and handled by parseCloudWebhook, so there is nothing to
// poll or keep alive here.
type cloudTransport struct {
	token         string
	phoneNumberID string
	baseURL       string
	client        *http.Client
	logger        *slog.Logger
}

func newCloudTransport(cfg config.WhatsAppConfig, logger *slog.Logger) *cloudTransport {
	return &cloudTransport{
		token:         cfg.Token,
		phoneNumberID: cfg.PhoneNumberID,
		baseURL:       graphBaseURL,
		client:        &http.Client{Timeout: 30 * time.Second},
		logger:        logger,
	}
}

// sendText posts one text message to the messages endpoint. Link previews
// are disabled so listing URLs stay compact.
func (t *cloudTransport) sendText(ctx context.Context, to, text string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text": map[string]any{
			"preview_url": false,
			"body":        text,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "encoding cloud api message", err)
	}

	url := fmt.Sprintf("%s/%s/messages", t.baseURL, t.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(apperr.Internal, "building cloud api request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.token)

	resp, err := t.client.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, "cloud api unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return apperr.Newf(apperr.Unavailable, "cloud api status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}

// Webhook payload shapes, trimmed to the fields the gateway reads. Status
// deliveries arrive under the same "messages" field and are skipped.
type cloudPayload struct {
	Object string       `json:"object"`
	Entry  []cloudEntry `json:"entry"`
}

type cloudEntry struct {
	ID      string        `json:"id"`
	Changes []cloudChange `json:"changes"`
}

type cloudChange struct {
	Field string     `json:"field"`
	Value cloudValue `json:"value"`
}

type cloudValue struct {
	Messages []cloudMessage    `json:"messages"`
	Statuses []json.RawMessage `json:"statuses"`
}

type cloudMessage struct {
	From      string      `json:"from"`
	ID        string      `json:"id"`
	Timestamp string      `json:"timestamp"`
	Type      string      `json:"type"`
	Text      *cloudText  `json:"text"`
	Audio     *cloudAudio `json:"audio"`
}

type cloudText struct {
	Body string `json:"body"`
}

type cloudAudio struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Voice    bool   `json:"voice"`
}

// parseCloudWebhook flattens one webhook delivery into its messages. A
// delivery that carries only statuses yields an empty slice, not an error.
func parseCloudWebhook(body []byte) ([]cloudMessage, error) {
	var payload cloudPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperr.Wrap(apperr.Validation, "malformed whatsapp webhook", err)
	}
	var msgs []cloudMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			msgs = append(msgs, change.Value.Messages...)
		}
	}
	return msgs, nil
}
