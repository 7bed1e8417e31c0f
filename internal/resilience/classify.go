package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
)

// FailureClass separates errors worth retrying from errors that will not change on retry
type FailureClass int

const (
	Transient FailureClass = iota
	Terminal
)

func (c FailureClass) String() string {
	if c == Terminal {
		return "terminal"
	}
	return "transient"
}

// TerminalError marks an error as not retryable
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string {
	return e.Err.Error()
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// NewTerminalError creates a new terminal error
func NewTerminalError(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// StatusCoder is implemented by provider errors that carry an HTTP status
type StatusCoder interface {
	StatusCode() int
}

// Classify decides whether err is transient or terminal.
// Errors nothing recognizes are treated as transient connection-layer failures.
func Classify(err error) FailureClass {
	if err == nil {
		return Transient
	}

	var terminal *TerminalError
	if errors.As(err, &terminal) {
		return Terminal
	}
	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return Transient
	}

	if errors.Is(err, context.Canceled) {
		return Terminal
	}

	// Connection-layer failures win over any status code found in the message.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return Transient
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	if IsRetryableNetworkError(err) {
		return Transient
	}

	var coded StatusCoder
	if errors.As(err, &coded) {
		return ClassifyStatus(coded.StatusCode())
	}

	return Transient
}

// ClassifyStatus maps an HTTP status code to a failure class.
// Auth and malformed-input statuses are terminal; throttling and server errors are transient.
func ClassifyStatus(code int) FailureClass {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return Transient
	case code >= 500:
		return Transient
	case code >= 400:
		return Terminal
	default:
		return Transient
	}
}
