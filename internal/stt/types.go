package stt

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
)

// Transcriber turns one audio file into text.
// Implementations must be safe for concurrent use; the orchestrator calls them per segment in parallel.
type Transcriber interface {
	// Transcribe returns the transcript of the file at audioPath.
	// An empty string with a nil error means the audio held no speech.
	Transcribe(ctx context.Context, audioPath string) (string, error)

	// Name identifies the provider in logs and metrics
	Name() string
}

// StatusError is a provider failure that carries an HTTP status code
type StatusError struct {
	Provider string
	Code     int
	Err      error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Code, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// StatusCode lets resilience.Classify map the failure to transient or terminal
func (e *StatusError) StatusCode() int {
	return e.Code
}

// statusPattern matches a 4xx/5xx code at the start of the message or right
// after a status, HTTP, error or code token. Bare numbers elsewhere (ports,
// byte counts) are not statuses.
var statusPattern = regexp.MustCompile(`(?i)(?:^|\b(?:status(?:[ _]?code)?|http(?:/\d(?:\.\d)?)?|error|code)[\s:=#]*)([45]\d\d)\b`)

// withStatus wraps err in a StatusError when its message names an HTTP 4xx/5xx status.
// Provider SDKs surface the status only in their error text.
func withStatus(provider string, err error) error {
	if err == nil {
		return nil
	}
	m := statusPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return err
	}
	code, _ := strconv.Atoi(m[1])
	if http.StatusText(code) == "" {
		return err
	}
	return &StatusError{Provider: provider, Code: code, Err: err}
}
