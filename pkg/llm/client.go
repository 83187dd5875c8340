package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/sashabaranov/go-openai"

	"github.com/replyscope/replyscope/pkg/config"
	"github.com/replyscope/replyscope/pkg/domain"
)

// Client wraps an OpenAI-compatible completion API with rate-limit
// awareness, exponential backoff and structured error classification. All
// outbound completion and model-catalog calls go through it, sharing a single
// limiter state, so requests must be issued sequentially per batch.
//
// The transport is bespoke rather than the stock openai client because
// classification needs raw status codes, Retry-After headers and error
// bodies embedded in 200 responses; the openai wire types are reused as-is.
type Client struct {
	cfg        config.LLMConfig
	httpClient *http.Client

	mu                sync.Mutex
	lastRequestTime   time.Time
	consecutiveErrors int
	retryAfterUntil   time.Time

	modelsMu        sync.Mutex
	cachedModels    []domain.ModelDescriptor
	modelsFetchedAt time.Time

	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

// NewClient creates a completion API client
func NewClient(cfg config.LLMConfig) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		nowFn:      time.Now,
		sleepFn:    sleepCtx,
	}
}

// CreateChatCompletion issues a chat completion request with retries
func (c *Client) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var resp openai.ChatCompletionResponse
	if err := c.do(ctx, http.MethodPost, "/chat/completions", req, &resp); err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionResponse{}, &Error{Kind: KindProtocol, Message: "no choices in response"}
	}
	return resp, nil
}

// do runs one API call with the retry policy: up to MaxRetries retries after
// the first attempt, delay min(base×2^attempt, max) unless the server
// supplied an explicit wait hint, which takes precedence. Terminal kinds
// (auth, insufficient balance, protocol) are surfaced immediately.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.waitThrottle(ctx); err != nil {
			return err
		}

		err := c.once(ctx, method, path, body, out)
		if err == nil {
			c.mu.Lock()
			c.consecutiveErrors = 0
			c.retryAfterUntil = time.Time{}
			c.mu.Unlock()
			return nil
		}
		lastErr = err

		apiErr, retryable := classifyRetryable(err)
		if !retryable {
			return err
		}

		c.mu.Lock()
		c.consecutiveErrors++
		c.mu.Unlock()

		if attempt == c.cfg.MaxRetries {
			break
		}

		delay := c.backoffDelay(attempt)
		if apiErr != nil && apiErr.RetryAfter > 0 {
			delay = apiErr.RetryAfter
		}
		c.mu.Lock()
		c.retryAfterUntil = c.nowFn().Add(delay)
		c.mu.Unlock()

		lgr.Printf("[DEBUG] completion api attempt %d failed (%v), retrying in %s", attempt+1, KindOf(err), delay)
		if err := c.sleepFn(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("completion api gave up after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

// once performs a single HTTP round trip and classifies the outcome
func (c *Client) once(ctx context.Context, method, path string, body []byte, out any) error {
	url := strings.TrimSuffix(c.cfg.Endpoint, "/") + path
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	c.mu.Lock()
	c.lastRequestTime = c.nowFn()
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Message: "request failed", cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return &Error{Kind: KindNetwork, StatusCode: resp.StatusCode, Message: "read response body", cause: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// some providers embed errors in 200-shaped bodies
		if apiErr := embeddedError(data); apiErr != nil {
			return apiErr
		}
		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return &Error{Kind: KindProtocol, StatusCode: resp.StatusCode, Message: "malformed response body", cause: err}
			}
		}
		return nil
	}

	return classifyStatus(resp.StatusCode, data, resp.Header.Get("Retry-After"), c.nowFn())
}

// waitThrottle honors a pending server wait hint before issuing a request
func (c *Client) waitThrottle(ctx context.Context) error {
	c.mu.Lock()
	wait := c.retryAfterUntil.Sub(c.nowFn())
	c.mu.Unlock()
	if wait <= 0 {
		return nil
	}
	return c.sleepFn(ctx, wait)
}

// backoffDelay computes the exponential retry delay capped at MaxDelay
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.cfg.BaseDelay << uint(attempt) //nolint:gosec // attempt is bounded by MaxRetries
	if delay > c.cfg.MaxDelay {
		delay = c.cfg.MaxDelay
	}
	return delay
}

// ConsecutiveErrors returns the current consecutive-failure count
func (c *Client) ConsecutiveErrors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveErrors
}

// wireError is the provider error envelope, also seen embedded in 200 bodies
type wireError struct {
	Error *struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

// embeddedError detects a provider error envelope inside a 2xx body and
// classifies it by its embedded code
func embeddedError(data []byte) *Error {
	var we wireError
	if err := json.Unmarshal(data, &we); err != nil || we.Error == nil {
		return nil
	}

	code := 0
	if len(we.Error.Code) > 0 {
		if err := json.Unmarshal(we.Error.Code, &code); err != nil {
			var s string
			if json.Unmarshal(we.Error.Code, &s) == nil {
				code, _ = strconv.Atoi(s)
			}
		}
	}

	apiErr := classifyStatus(code, data, "", time.Now())
	apiErr.Message = we.Error.Message
	if apiErr.Kind == KindInsufficientBalance {
		apiErr.RequestedTokens, apiErr.AvailableTokens = parseBalance(we.Error.Message)
	}
	return apiErr
}

// classifyStatus maps an HTTP status (or embedded code) to the error taxonomy
func classifyStatus(status int, body []byte, retryAfter string, now time.Time) *Error {
	msg := errorMessage(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Kind: KindAuth, StatusCode: status, Message: msg}
	case status == http.StatusPaymentRequired:
		requested, available := parseBalance(msg)
		return &Error{Kind: KindInsufficientBalance, StatusCode: status, Message: msg,
			RequestedTokens: requested, AvailableTokens: available}
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimit, StatusCode: status, Message: msg,
			RetryAfter: parseRetryAfter(retryAfter, now)}
	case status >= 500:
		return &Error{Kind: KindServer, StatusCode: status, Message: msg}
	default:
		return &Error{Kind: KindProtocol, StatusCode: status, Message: msg}
	}
}

// errorMessage pulls the provider message out of an error body, falling back
// to the raw body
func errorMessage(body []byte) string {
	var we wireError
	if err := json.Unmarshal(body, &we); err == nil && we.Error != nil && we.Error.Message != "" {
		return we.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if ts, err := http.ParseTime(v); err == nil {
		if d := ts.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// classifyRetryable extracts the classified error and its retryability;
// unclassified errors (marshal, context) are terminal
func classifyRetryable(err error) (apiErr *Error, retryable bool) {
	var e *Error
	if !errors.As(err, &e) {
		return nil, false
	}
	return e, e.Retryable()
}

// sleepCtx waits for the duration or until the context is canceled
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
