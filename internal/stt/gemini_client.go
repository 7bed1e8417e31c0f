package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/lexiqai/voice-scribe/internal/gemini"
)

// maxInlineBytes is the Gemini limit for inline request payloads
const maxInlineBytes = 20 << 20

const transcribePrompt = `Transcribe the speech in this audio verbatim.
Return only the spoken words as plain text, one sentence per line.
Do not add speaker names, timestamps, commentary or markdown.
If there is no intelligible speech, return an empty response.`

var audioMIMETypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".webm": "audio/webm",
}

// GeminiClient implements Transcriber by sending inline audio to Gemini
type GeminiClient struct {
	client *gemini.Client
}

// NewGeminiClient creates a Gemini transcriber over a shared key-rotating client
func NewGeminiClient(client *gemini.Client) *GeminiClient {
	return &GeminiClient{client: client}
}

// Name returns the provider name
func (g *GeminiClient) Name() string {
	return "gemini"
}

// Transcribe uploads the file inline and returns the model's transcript
func (g *GeminiClient) Transcribe(ctx context.Context, audioPath string) (string, error) {
	mime, ok := audioMIMETypes[strings.ToLower(filepath.Ext(audioPath))]
	if !ok {
		return "", &StatusError{Provider: g.Name(), Code: http.StatusUnsupportedMediaType,
			Err: fmt.Errorf("unsupported audio format %q", filepath.Ext(audioPath))}
	}

	data, err := os.ReadFile(audioPath)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	if len(data) > maxInlineBytes {
		return "", &StatusError{Provider: g.Name(), Code: http.StatusRequestEntityTooLarge,
			Err: fmt.Errorf("%d bytes exceeds inline limit", len(data))}
	}

	text, err := g.client.Generate(ctx, gemini.Audio(transcribePrompt, data, mime))
	if err != nil {
		if errors.Is(err, gemini.ErrEmptyResponse) {
			return "", nil
		}
		return "", fmt.Errorf("gemini transcription failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}
