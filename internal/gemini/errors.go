package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind buckets the model API's failure modes into the categories the
// dashboard shows users. Classification is presentation-only; refund
// decisions do not depend on it.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindRateLimited
	KindOverloaded
	KindInvalidInput
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindOverloaded:
		return "overloaded"
	case KindInvalidInput:
		return "invalid_input"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// APIError is returned for every failed model call.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gemini: %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gemini: %s: %s", e.Kind, e.Message)
}

// UserMessage is the plain-language text surfaced in error banners.
func (e *APIError) UserMessage() string {
	switch e.Kind {
	case KindRateLimited:
		return "You're generating too fast. Please wait a moment and try again."
	case KindOverloaded:
		return "The AI service is overloaded right now. Please try again shortly."
	case KindInvalidInput:
		return "The AI service rejected this request. Adjust your input and try again."
	case KindTimeout:
		return "The generation timed out. Your credits for this attempt were refunded."
	default:
		return "Generation failed unexpectedly. Your credits for this attempt were refunded."
	}
}

// classifyStatus maps an HTTP response to an APIError.
func classifyStatus(status int, body string) *APIError {
	kind := KindUnknown
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusServiceUnavailable:
		kind = KindOverloaded
	case status == http.StatusBadRequest:
		kind = KindInvalidInput
	case status == http.StatusGatewayTimeout:
		kind = KindTimeout
	}
	// Safety blocks come back 200-with-error or 400 depending on model.
	if strings.Contains(body, "SAFETY") || strings.Contains(body, "PROHIBITED_CONTENT") {
		kind = KindInvalidInput
	}
	return &APIError{Kind: kind, StatusCode: status, Message: truncate(body)}
}

// classifyTransport maps request/transport errors to an APIError.
func classifyTransport(err error) *APIError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &APIError{Kind: KindTimeout, Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return &APIError{Kind: KindTimeout, Message: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &APIError{Kind: KindTimeout, Message: err.Error()}
	}
	return &APIError{Kind: KindUnknown, Message: err.Error()}
}

func truncate(s string) string {
	const limit = 512
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
