package summarize

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lexiqai/voice-scribe/internal/gemini"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

type fakeSummarizer struct {
	calls int
	text  string
	err   error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	f.calls++
	return f.text, f.err
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		name       string
		summarizer *fakeSummarizer
		transcript string
		want       Status
		wantCalls  int
	}{
		{"done", &fakeSummarizer{text: " summary "}, "**Alice**\nhello", StatusDone, 1},
		{"empty transcript skipped", &fakeSummarizer{text: "x"}, "  \n ", StatusSkipped, 0},
		{"call failure not retried", &fakeSummarizer{err: errors.New("503")}, "hello", StatusFailed, 1},
		{"blank summary is a failure", &fakeSummarizer{text: "\n"}, "hello", StatusFailed, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Dispatch(context.Background(), tt.summarizer, tt.transcript, zerolog.Nop())
			if res.Status != tt.want {
				t.Errorf("Status = %s, want %s", res.Status, tt.want)
			}
			if tt.summarizer.calls != tt.wantCalls {
				t.Errorf("Expected %d calls, got %d", tt.wantCalls, tt.summarizer.calls)
			}
			if res.Status == StatusDone && res.Text != "summary" {
				t.Errorf("Expected trimmed summary, got %q", res.Text)
			}
			if res.Status == StatusFailed && res.Err == nil {
				t.Error("Expected error on failure")
			}
		})
	}
}

func TestDispatch_Disabled(t *testing.T) {
	if res := Dispatch(context.Background(), nil, "hello", zerolog.Nop()); res.Status != StatusDisabled {
		t.Errorf("Expected disabled, got %s", res.Status)
	}
}

func TestGeminiSummarizer_Prompt(t *testing.T) {
	var sent string
	gc := gemini.NewWithGenerateFunc([]string{"k"}, "m", func(ctx context.Context, key, model string, contents []*genai.Content) (string, error) {
		sent = contents[0].Parts[0].Text
		return "## Overview", nil
	}, zerolog.Nop())

	s := NewGeminiSummarizer(gc, "")
	got, err := s.Summarize(context.Background(), "**Alice**\nship it")
	if err != nil || got != "## Overview" {
		t.Fatalf("Summarize = %q, %v", got, err)
	}
	if !strings.HasPrefix(sent, DefaultPrompt) || !strings.Contains(sent, "ship it") {
		t.Errorf("unexpected prompt %q", sent)
	}
}
