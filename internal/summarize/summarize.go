package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lexiqai/voice-scribe/internal/gemini"
	"github.com/lexiqai/voice-scribe/internal/observability"
	"github.com/rs/zerolog"
)

// Status is the outcome of summarization dispatch
type Status int

const (
	StatusDone     Status = iota
	StatusSkipped         // No transcript text to summarize
	StatusFailed          // The summarizer call failed
	StatusDisabled        // Summarization is turned off
)

func (s Status) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Result is the summary text or the reason there is none
type Result struct {
	Text   string
	Status Status
	Err    error
}

// Summarizer turns a labeled transcript into a summary
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Dispatch makes a single summarizer call. There is no retry; failures surface as StatusFailed.
// A nil summarizer yields StatusDisabled and an empty transcript yields StatusSkipped.
func Dispatch(ctx context.Context, s Summarizer, transcript string, logger zerolog.Logger) Result {
	res := dispatch(ctx, s, transcript)
	observability.RecordSummary(res.Status.String())

	switch res.Status {
	case StatusFailed:
		logger.Error().Err(res.Err).Msg("summarization failed")
	case StatusSkipped:
		logger.Info().Msg("no transcript text, summarization skipped")
	case StatusDone:
		logger.Info().Int("chars", len(res.Text)).Msg("summary generated")
	}
	return res
}

func dispatch(ctx context.Context, s Summarizer, transcript string) Result {
	if s == nil {
		return Result{Status: StatusDisabled}
	}
	if strings.TrimSpace(transcript) == "" {
		return Result{Status: StatusSkipped}
	}

	text, err := s.Summarize(ctx, transcript)
	if err != nil {
		return Result{Status: StatusFailed, Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Status: StatusFailed, Err: gemini.ErrEmptyResponse}
	}
	return Result{Text: text, Status: StatusDone}
}

// DefaultPrompt asks for a meeting-style summary in markdown
const DefaultPrompt = `You are summarizing a recorded voice conversation between several participants.
The transcript below is grouped by speaker; each section starts with the speaker's label.

Write a concise summary in markdown:
- Start with a one-sentence overview of the conversation
- List the main topics in the order they came up, with the key points under each
- List any decisions made and action items, naming the responsible speaker when stated
- Do not invent content that is not in the transcript`

// GeminiSummarizer implements Summarizer with a key-rotating Gemini client
type GeminiSummarizer struct {
	client *gemini.Client
	prompt string
}

// NewGeminiSummarizer creates a summarizer; an empty prompt uses DefaultPrompt
func NewGeminiSummarizer(client *gemini.Client, prompt string) *GeminiSummarizer {
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}
	return &GeminiSummarizer{client: client, prompt: prompt}
}

// Summarize sends the transcript to Gemini and returns the summary text
func (g *GeminiSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	text, err := g.client.Generate(ctx, gemini.Text(g.buildPrompt(transcript)))
	if err != nil {
		if errors.Is(err, gemini.ErrEmptyResponse) {
			return "", err
		}
		return "", fmt.Errorf("summarize: %w", err)
	}
	return text, nil
}

func (g *GeminiSummarizer) buildPrompt(transcript string) string {
	return g.prompt + "\n\nTranscript:\n---\n" + transcript + "\n---"
}
