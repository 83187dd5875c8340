package llm

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ErrorKind classifies completion API failures. Callers match on kind with
// errors.As instead of comparing error strings.
type ErrorKind string

// error kinds of the completion API taxonomy
const (
	KindAuth                ErrorKind = "auth"                 // 401/403, never retried
	KindInsufficientBalance ErrorKind = "insufficient_balance" // 402, never retried
	KindRateLimit           ErrorKind = "rate_limit"           // 429, retried honoring Retry-After
	KindServer              ErrorKind = "server"               // 5xx, retried
	KindNetwork             ErrorKind = "network"              // transport failure, retried
	KindProtocol            ErrorKind = "protocol"             // unexpected shape, never retried
)

// Error is a classified completion API failure. It keeps enough structure
// (kind plus optional numeric fields) for callers to render an actionable
// message instead of a stack trace.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string

	// token figures parsed from insufficient-balance messages, zero when
	// the provider message didn't carry them
	RequestedTokens int
	AvailableTokens int

	// server-provided wait hint, takes precedence over computed backoff
	RetryAfter time.Duration

	cause error
}

// Error returns the error message
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("completion api %s error (status %d): %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("completion api %s error: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause, if any
func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the failure is transient
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimit || e.Kind == KindServer || e.Kind == KindNetwork
}

// KindOf extracts the error kind, empty for non-client errors
func KindOf(err error) ErrorKind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// balanceRe matches provider messages like
// "requested up to 16000 tokens, but can only afford 500"
var balanceRe = regexp.MustCompile(`(?i)requested up to (\d+) tokens.*?afford (\d+)`)

// parseBalance extracts token figures from an insufficient-balance message
func parseBalance(msg string) (requested, available int) {
	m := balanceRe.FindStringSubmatch(msg)
	if m == nil {
		return 0, 0
	}
	requested, _ = strconv.Atoi(m[1])
	available, _ = strconv.Atoi(m[2])
	return requested, available
}
