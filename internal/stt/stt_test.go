package stt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lexiqai/voice-scribe/internal/gemini"
	"github.com/lexiqai/voice-scribe/internal/resilience"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

type fakeTranscriber struct {
	calls int
	text  string
	err   error
}

func (f *fakeTranscriber) Name() string { return "fake" }

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f.calls++
	return f.text, f.err
}

func TestWithStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		want     resilience.FailureClass
	}{
		{"unauthorized", errors.New("Deepgram API error: 401 INVALID_AUTH"), 401, resilience.Terminal},
		{"bad request", errors.New("status 400: Bad Request"), 400, resilience.Terminal},
		{"rate limited", errors.New("429 Too Many Requests"), 429, resilience.Transient},
		{"server", errors.New("upstream returned HTTP 503"), 503, resilience.Transient},
		{"gemini", errors.New("Error 500, Message: internal, Status: INTERNAL"), 500, resilience.Transient},
		{"no status", errors.New("connection reset by peer"), 0, resilience.Transient},
		{"port in address", errors.New("Post \"https://api.deepgram.com/v1/listen\": read tcp 10.0.0.2:51234->35.1.2.3:443: read: connection reset by peer"), 0, resilience.Transient},
		{"unknown code", errors.New("status 499: client closed"), 0, resilience.Transient},
		{"byte count", errors.New("short write: wrote 404 of 4096 bytes"), 0, resilience.Transient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := withStatus("deepgram", tt.err)

			var se *StatusError
			if tt.wantCode == 0 {
				if errors.As(err, &se) {
					t.Errorf("Expected no StatusError, got %v", se)
				}
			} else if !errors.As(err, &se) || se.Code != tt.wantCode {
				t.Errorf("Expected code %d, got %v", tt.wantCode, err)
			}
			if got := resilience.Classify(err); got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDeepgramClient_Transcribe(t *testing.T) {
	d := &DeepgramClient{fromFile: func(ctx context.Context, path string) (string, error) {
		return "  hello world \n", nil
	}}

	got, err := d.Transcribe(context.Background(), "a.mp3")
	if err != nil || got != "hello world" {
		t.Errorf("Transcribe = %q, %v", got, err)
	}

	d.fromFile = func(ctx context.Context, path string) (string, error) {
		return "", errors.New("401 Unauthorized")
	}
	_, err = d.Transcribe(context.Background(), "a.mp3")
	if resilience.Classify(err) != resilience.Terminal {
		t.Errorf("Expected auth failure to be terminal, got %v", err)
	}
}

func TestGeminiClient_Transcribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part_000.mp3")
	if err := os.WriteFile(path, []byte("ID3-audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	var gotMIME string
	gc := gemini.NewWithGenerateFunc([]string{"k"}, "m", func(ctx context.Context, key, model string, contents []*genai.Content) (string, error) {
		gotMIME = contents[0].Parts[1].InlineData.MIMEType
		return "spoken words\n", nil
	}, zerolog.Nop())

	got, err := NewGeminiClient(gc).Transcribe(context.Background(), path)
	if err != nil || got != "spoken words" {
		t.Errorf("Transcribe = %q, %v", got, err)
	}
	if gotMIME != "audio/mpeg" {
		t.Errorf("Expected audio/mpeg, got %q", gotMIME)
	}
}

func TestGeminiClient_UnsupportedFormat(t *testing.T) {
	gc := gemini.NewWithGenerateFunc([]string{"k"}, "m", nil, zerolog.Nop())

	_, err := NewGeminiClient(gc).Transcribe(context.Background(), "notes.txt")
	if resilience.Classify(err) != resilience.Terminal {
		t.Errorf("Expected terminal error, got %v", err)
	}
}

func TestGeminiClient_NoSpeech(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	os.WriteFile(path, []byte("RIFF"), 0o644)

	gc := gemini.NewWithGenerateFunc([]string{"k"}, "m", func(ctx context.Context, key, model string, contents []*genai.Content) (string, error) {
		return "", nil
	}, zerolog.Nop())

	got, err := NewGeminiClient(gc).Transcribe(context.Background(), path)
	if err != nil || got != "" {
		t.Errorf("Expected empty transcript without error, got %q, %v", got, err)
	}
}

func TestGuarded_OpenCircuitStillCallsProvider(t *testing.T) {
	inner := &fakeTranscriber{err: errors.New("connection reset")}
	g := NewGuarded(inner, 2, time.Minute)

	for i := 0; i < 2; i++ {
		g.Transcribe(context.Background(), "a.mp3")
	}
	if g.Breaker().GetState() != resilience.StateOpen {
		t.Fatalf("Expected open breaker, got %s", g.Breaker().GetState())
	}

	inner.err = nil
	inner.text = "hello"
	got, err := g.Transcribe(context.Background(), "a.mp3")
	if err != nil || got != "hello" {
		t.Errorf("Expected provider result while open, got %q, %v", got, err)
	}
	if inner.calls != 3 {
		t.Errorf("Expected every call to reach the provider, got %d calls", inner.calls)
	}
}

func TestGuarded_TerminalFailuresDoNotOpen(t *testing.T) {
	inner := &fakeTranscriber{err: &StatusError{Provider: "fake", Code: 400, Err: errors.New("bad audio")}}
	g := NewGuarded(inner, 2, time.Minute)

	for i := 0; i < 5; i++ {
		g.Transcribe(context.Background(), "a.mp3")
	}
	if inner.calls != 5 {
		t.Errorf("Expected every call to reach the provider, got %d", inner.calls)
	}
	if g.Breaker().GetState() != resilience.StateClosed {
		t.Errorf("Expected closed breaker, got %s", g.Breaker().GetState())
	}
}
