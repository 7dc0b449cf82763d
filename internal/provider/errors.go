package provider

import (
	"fmt"
	"net/http"
)

// ErrorKind classifies a provider failure. Retryability is fixed at
// classification time and never reconsidered downstream.
type ErrorKind string

const (
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindAPIError            ErrorKind = "api_error"
	KindTimeout             ErrorKind = "timeout"
	KindParseError          ErrorKind = "parse_error"
	KindRateLimited         ErrorKind = "rate_limited"
	KindInvalidConfig       ErrorKind = "invalid_config"
	KindNetworkError        ErrorKind = "network_error"
	KindAuthentication      ErrorKind = "authentication_error"
)

type Error struct {
	Kind      ErrorKind
	Retryable bool
	Provider  string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewError(kind ErrorKind, retryable bool, providerName, message string) *Error {
	return &Error{Kind: kind, Retryable: retryable, Provider: providerName, Message: message}
}

func WrapError(kind ErrorKind, retryable bool, providerName string, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Retryable: retryable, Provider: providerName, Message: msg, Cause: cause}
}

// ClassifyStatus maps a non-2xx HTTP status to the error taxonomy:
// 401/403 authentication (terminal), 429 rate-limited (retryable),
// 5xx api-error (retryable), anything else api-error (terminal).
func ClassifyStatus(providerName string, status int, body string) *Error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewError(KindAuthentication, false, providerName, fmt.Sprintf("authentication failed: %d", status))
	case status == http.StatusTooManyRequests:
		return NewError(KindRateLimited, true, providerName, "rate limit exceeded")
	case status >= http.StatusInternalServerError:
		return NewError(KindAPIError, true, providerName, fmt.Sprintf("server error: %d", status))
	default:
		return NewError(KindAPIError, false, providerName, fmt.Sprintf("api error: %d - %s", status, body))
	}
}
