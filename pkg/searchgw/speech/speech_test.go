package speech

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kasioon/searchgw/pkg/searchgw/apperr"
	"github.com/kasioon/searchgw/pkg/searchgw/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(new(strings.Builder), &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTranscriber(t *testing.T, url string) *Transcriber {
	t.Helper()
	return New(config.SpeechConfig{
		BaseURL:      url,
		APIKey:       "test-key",
		Model:        "whisper-1",
		Timeout:      5 * time.Second,
		MaxAudioSize: 1 << 20,
	}, testLogger())
}

func TestValidate(t *testing.T) {
	tr := newTranscriber(t, "http://unused.invalid")

	tests := []struct {
		name     string
		filename string
		size     int64
		wantErr  bool
	}{
		{"ogg ok", "voice.ogg", 1024, false},
		{"oga ok", "voice.oga", 1024, false},
		{"mp3 uppercase ok", "CLIP.MP3", 1024, false},
		{"m4a ok", "memo.m4a", 1024, false},
		{"webm ok", "note.webm", 1024, false},
		{"exe rejected", "malware.exe", 1024, true},
		{"no extension", "audio", 1024, true},
		{"empty payload", "voice.ogg", 0, true},
		{"over limit", "voice.ogg", 2 << 20, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tr.Validate(tt.filename, tt.size)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q, %d) err = %v, wantErr %v", tt.filename, tt.size, err, tt.wantErr)
			}
			if err != nil && !apperr.Is(err, apperr.Validation) {
				t.Errorf("kind = %v, want Validation", apperr.KindOf(err))
			}
		})
	}
}

func TestTranscribeJSONResponse(t *testing.T) {
	var gotModel, gotLanguage, gotFilename string
	var gotAudio []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parsing multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer f.Close()
		gotFilename = hdr.Filename
		gotAudio, _ = io.ReadAll(f)
		fmt.Fprint(w, `{"text": " شقة للايجار في دمشق "}`)
	}))
	defer srv.Close()

	tr := newTranscriber(t, srv.URL)
	text, err := tr.Transcribe(context.Background(), "voice.ogg", []byte("fake-ogg-bytes"), "ar")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "شقة للايجار في دمشق" {
		t.Errorf("transcript = %q", text)
	}
	if gotModel != "whisper-1" {
		t.Errorf("model field = %q", gotModel)
	}
	if gotLanguage != "ar" {
		t.Errorf("language field = %q", gotLanguage)
	}
	if gotFilename != "voice.ogg" {
		t.Errorf("filename = %q", gotFilename)
	}
	if string(gotAudio) != "fake-ogg-bytes" {
		t.Errorf("audio bytes = %q", gotAudio)
	}
}

func TestTranscribePlainTextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "apartment for rent in Damascus\n")
	}))
	defer srv.Close()

	tr := newTranscriber(t, srv.URL)
	text, err := tr.Transcribe(context.Background(), "voice.mp3", []byte("x"), "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "apartment for rent in Damascus" {
		t.Errorf("transcript = %q", text)
	}
}

func TestTranscribeProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream broken")
	}))
	defer srv.Close()

	tr := newTranscriber(t, srv.URL)
	_, err := tr.Transcribe(context.Background(), "voice.wav", []byte("x"), "")
	if err == nil {
		t.Fatal("expected provider error")
	}
	if !apperr.Is(err, apperr.Unavailable) {
		t.Errorf("kind = %v, want Unavailable", apperr.KindOf(err))
	}
}

func TestTranscribeSkipsUploadOnBadInput(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	tr := newTranscriber(t, srv.URL)
	if _, err := tr.Transcribe(context.Background(), "notes.txt", []byte("x"), ""); err == nil {
		t.Fatal("expected validation error")
	}
	if calls != 0 {
		t.Errorf("provider contacted %d times for invalid input", calls)
	}
}
