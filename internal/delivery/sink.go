package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Kind tags what a message reports
type Kind string

const (
	KindStatus     Kind = "status"
	KindTranscript Kind = "transcript"
	KindSummary    Kind = "summary"
	KindFailure    Kind = "failure"
)

// Attachment is a file delivered alongside a message
type Attachment struct {
	Name string
	Path string
}

// Message is one protocol-sized unit handed to a sink
type Message struct {
	ScopeID     string
	SessionID   string
	Kind        Kind
	Content     string
	Attachments []Attachment
}

// Sink is the presentation layer that shows progress and results
type Sink interface {
	Report(ctx context.Context, msg Message) error
	Name() string
}

// LogSink writes messages to the structured log
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink that logs every message
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "delivery").Logger()}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Report(ctx context.Context, msg Message) error {
	names := make([]string, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		names = append(names, a.Name)
	}
	s.logger.Info().
		Str("scope_id", msg.ScopeID).
		Str("session_id", msg.SessionID).
		Str("kind", string(msg.Kind)).
		Strs("attachments", names).
		Msg(msg.Content)
	return nil
}

// WebhookSink posts each message as multipart/form-data: a "content" field plus files[n] parts
type WebhookSink struct {
	url        string
	httpClient *http.Client
}

// NewWebhookSink creates a webhook sink for url
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	return &WebhookSink{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Report(ctx context.Context, msg Message) error {
	body, contentType, err := buildMultipart(msg)
	if err != nil {
		return fmt.Errorf("failed to build webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, body)
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "voice-scribe/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMultipart(msg Message) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := map[string]string{
		"content":    msg.Content,
		"kind":       string(msg.Kind),
		"scope_id":   msg.ScopeID,
		"session_id": msg.SessionID,
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	for i, a := range msg.Attachments {
		name := a.Name
		if name == "" {
			name = filepath.Base(a.Path)
		}
		fw, err := writer.CreateFormFile(fmt.Sprintf("files[%d]", i), name)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create form file: %w", err)
		}
		if err := copyFile(fw, a.Path); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open attachment: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to write attachment %s: %w", filepath.Base(path), err)
	}
	return nil
}

// MultiSink fans a message out to every sink; one sink failing does not stop the others
type MultiSink []Sink

func (m MultiSink) Name() string { return "multi" }

func (m MultiSink) Report(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range m {
		if err := s.Report(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
