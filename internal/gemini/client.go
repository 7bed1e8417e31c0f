package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lexiqai/voice-scribe/internal/resilience"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// ErrEmptyResponse is returned when Gemini answers without any text
var ErrEmptyResponse = errors.New("empty response from Gemini")

// ErrNoKeys is returned when the client has no API keys configured
var ErrNoKeys = errors.New("no Gemini API keys configured")

// GenerateFunc performs one GenerateContent call with a single API key
type GenerateFunc func(ctx context.Context, apiKey, model string, contents []*genai.Content) (string, error)

// Client rotates through a pool of API keys, moving to the next key on quota errors
type Client struct {
	mu       sync.Mutex
	keys     []string
	current  int
	model    string
	generate GenerateFunc
	logger   zerolog.Logger
}

// New creates a Client backed by the Gemini API
func New(keys []string, model string, logger zerolog.Logger) *Client {
	return NewWithGenerateFunc(keys, model, callGemini, logger)
}

// NewWithGenerateFunc creates a Client that uses fn for each call
func NewWithGenerateFunc(keys []string, model string, fn GenerateFunc, logger zerolog.Logger) *Client {
	return &Client{
		keys:     keys,
		model:    model,
		generate: fn,
		logger:   logger.With().Str("component", "gemini").Logger(),
	}
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.model
}

// Generate sends contents and returns the concatenated text of the first candidate.
// Each key is tried at most once per call. Quota exhaustion on every key is transient;
// auth and malformed-request failures are terminal.
func (c *Client) Generate(ctx context.Context, contents []*genai.Content) (string, error) {
	if len(c.keys) == 0 {
		return "", resilience.NewTerminalError(ErrNoKeys)
	}

	var lastErr error
	for range len(c.keys) {
		key, idx := c.key()

		text, err := c.generate(ctx, key, c.model, contents)
		if err == nil {
			if strings.TrimSpace(text) == "" {
				return "", ErrEmptyResponse
			}
			return text, nil
		}

		if IsRateLimited(err) {
			c.logger.Warn().Int("key", idx+1).Msg("key rate limited, rotating")
			c.rotate(idx)
			lastErr = err
			continue
		}
		if isTerminal(err) {
			return "", resilience.NewTerminalError(err)
		}
		return "", err
	}

	return "", resilience.NewRetryableError(fmt.Errorf("all API keys exhausted: %w", lastErr))
}

func (c *Client) key() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys[c.current], c.current
}

// rotate advances past idx unless a concurrent caller already did
func (c *Client) rotate(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == idx {
		c.current = (c.current + 1) % len(c.keys)
	}
}

// IsRateLimited reports whether err is a 429 / quota failure
func IsRateLimited(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}

func isTerminal(err error) bool {
	msg := err.Error()
	for _, marker := range []string{"UNAUTHENTICATED", "PERMISSION_DENIED", "INVALID_ARGUMENT", "API key not valid", "Error 400", "Error 401", "Error 403"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Text builds a single-turn text prompt
func Text(prompt string) []*genai.Content {
	return genai.Text(prompt)
}

// Audio builds a single-turn prompt carrying inline audio bytes
func Audio(prompt string, data []byte, mimeType string) []*genai.Content {
	return []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: prompt},
			{InlineData: &genai.Blob{Data: data, MIMEType: mimeType}},
		},
	}}
}

func callGemini(ctx context.Context, apiKey, model string, contents []*genai.Content) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("create client: %w", err)
	}

	result, err := client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	if result != nil && len(result.Candidates) > 0 && result.Candidates[0].Content != nil {
		var text strings.Builder
		for _, part := range result.Candidates[0].Content.Parts {
			if part.Text != "" {
				text.WriteString(part.Text)
			}
		}
		return text.String(), nil
	}

	return "", ErrEmptyResponse
}
