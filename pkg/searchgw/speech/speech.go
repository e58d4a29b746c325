// Package speech transcribes voice queries through a Whisper-compatible
// API. Validation happens before any bytes leave the process: unsupported
// container formats and oversized payloads are rejected locally.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/kasioon/searchgw/pkg/searchgw/apperr"
	"github.com/kasioon/searchgw/pkg/searchgw/config"
)

// supportedExtensions are the audio containers the transcription API accepts.
var supportedExtensions = map[string]bool{
	".mp3":  true,
	".mp4":  true,
	".m4a":  true,
	".wav":  true,
	".webm": true,
	".ogg":  true,
	".oga":  true,
}

// Transcriber converts uploaded audio into text.
type Transcriber struct {
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	maxSize    int64
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds a Transcriber from resolved config. The speech endpoint and
// key fall back to the LLM provider's when not set separately.
func New(cfg config.SpeechConfig, logger *slog.Logger) *Transcriber {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "whisper-1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxSize := cfg.MaxAudioSize
	if maxSize <= 0 {
		maxSize = 25 << 20
	}
	return &Transcriber{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   model,
		timeout: timeout,
		maxSize: maxSize,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     120 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		logger: logger.With("component", "speech"),
	}
}

// MaxAudioSize returns the upload ceiling in bytes.
func (t *Transcriber) MaxAudioSize() int64 { return t.maxSize }

// Validate checks filename extension and payload size without contacting
// the provider.
func (t *Transcriber) Validate(filename string, size int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !supportedExtensions[ext] {
		return apperr.Newf(apperr.Validation, "unsupported audio format %q", ext).
			WithDetails(map[string]any{"supported": supportedList()})
	}
	if size <= 0 {
		return apperr.New(apperr.Validation, "audio file is empty")
	}
	if size > t.maxSize {
		return apperr.Newf(apperr.Validation, "audio file exceeds %d MB limit", t.maxSize>>20)
	}
	return nil
}

func supportedList() []string {
	out := make([]string, 0, len(supportedExtensions))
	for ext := range supportedExtensions {
		out = append(out, strings.TrimPrefix(ext, "."))
	}
	return out
}

// Transcribe sends the audio to the provider and returns the transcript.
// language is an ISO hint ("ar", "en") passed through when non-empty.
func (t *Transcriber) Transcribe(ctx context.Context, filename string, audio []byte, language string) (string, error) {
	if err := t.Validate(filename, int64(len(audio))); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("writing audio data: %w", err)
	}
	if err := w.WriteField("model", t.model); err != nil {
		return "", fmt.Errorf("writing model field: %w", err)
	}
	if language != "" {
		_ = w.WriteField("language", language)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing multipart writer: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	t.logger.Debug("sending audio transcription request",
		"filename", filename,
		"size_bytes", len(audio),
		"language", language)

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", apperr.Wrap(apperr.Timeout, "transcription timed out", err)
		}
		return "", apperr.Wrap(apperr.Unavailable, "transcription request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	bodyStr := string(respBody)

	if resp.StatusCode != http.StatusOK {
		t.logger.Error("transcription API error",
			"status", resp.StatusCode,
			"body", truncate(bodyStr, 500))
		return "", apperr.Newf(apperr.Unavailable, "transcription API returned %d", resp.StatusCode)
	}

	// Response is either plain text (transcript) or JSON with "text" field.
	text := bodyStr
	if strings.HasPrefix(strings.TrimSpace(bodyStr), "{") {
		var j struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(respBody, &j); err == nil && j.Text != "" {
			text = j.Text
		}
	}

	t.logger.Info("audio transcription done",
		"duration_ms", time.Since(start).Milliseconds(),
		"transcript_len", len(text))

	return strings.TrimSpace(text), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
