// Package api implements the network capability of the sync engine: a
// typed client for the Trendy REST API with authentication, correlation
// IDs, and an error taxonomy the engine can dispatch on.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/erauner12/trendy-sync/internal/auth"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// idempotencyKeyHeader carries the client-generated deduplication
	// key; the server replays the stored response on retry.
	idempotencyKeyHeader = "Idempotency-Key"

	defaultTimeout = 30 * time.Second
)

// Client is an authenticated HTTP client for the Trendy API.
// Every request carries a correlation ID; a 401 invalidates the cached
// token and retries once with a fresh one. Rate limits (429) are NOT
// retried here - they surface as RateLimitError so the engine's
// circuit breaker can do its bookkeeping.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     auth.TokenSource // nil for unauthenticated endpoints/tests
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client (tests, custom
// transports).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the API at baseURL. tokens may be nil,
// in which case no Authorization header is sent.
func NewClient(baseURL string, tokens auth.TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// request describes one API call for the do helper.
type request struct {
	method         string
	path           string
	query          url.Values
	body           any    // marshaled to JSON when non-nil
	idempotencyKey string // Idempotency-Key header when non-empty
	out            any    // decoded from the response body when non-nil
	kind, entityID string // for NotFoundError context
}

// do executes a request, mapping the response to the client's error
// taxonomy. It retries exactly once on 401 after invalidating the
// cached token.
func (c *Client) do(ctx context.Context, req request) error {
	correlationID := uuid.New().String()

	logger := log.Ctx(ctx).With().
		Str("method", req.method).
		Str("path", req.path).
		Str("correlationId", correlationID).
		Logger()

	var bodyBytes []byte
	if req.body != nil {
		var err error
		bodyBytes, err = json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	return c.attempt(ctx, req, bodyBytes, &logger, correlationID, false)
}

func (c *Client) attempt(ctx context.Context, req request, bodyBytes []byte, logger *zerolog.Logger, correlationID string, retried bool) error {
	reqURL := c.baseURL + req.path
	if len(req.query) > 0 {
		reqURL += "?" + req.query.Encode()
	}

	var bodyReader io.Reader
	if bodyBytes != nil {
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, reqURL, bodyReader)
	if err != nil {
		return err
	}

	httpReq.Header.Set("X-Correlation-ID", correlationID)
	if bodyBytes != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.idempotencyKey != "" {
		httpReq.Header.Set(idempotencyKeyHeader, req.idempotencyKey)
	}

	// Inject a fresh token per attempt.
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get auth token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	duration := time.Since(start)

	if err != nil {
		logger.Warn().Err(err).Dur("duration", duration).Msg("HTTP request failed")
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return TransientError{Err: err}
	}
	defer resp.Body.Close()

	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Msg("HTTP request completed")

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if req.out != nil {
			if err := json.NewDecoder(resp.Body).Decode(req.out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
		}
		return nil

	case resp.StatusCode == http.StatusUnauthorized:
		if retried || c.tokens == nil {
			return ValidationError{StatusCode: resp.StatusCode, Message: "authentication failed"}
		}
		logger.Warn().Msg("401 Unauthorized - invalidating token and retrying")
		c.tokens.Invalidate()
		return c.attempt(ctx, req, bodyBytes, logger, correlationID, true)

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		logger.Warn().
			Dur("retryAfter", retryAfter).
			Str("rateLimitRemaining", resp.Header.Get("X-RateLimit-Remaining")).
			Msg("rate limited")
		return RateLimitError{RetryAfter: retryAfter}

	case resp.StatusCode == http.StatusNotFound:
		return NotFoundError{Kind: req.kind, ID: req.entityID}

	case resp.StatusCode >= 500:
		return TransientError{Err: fmt.Errorf("server error: status %d", resp.StatusCode)}

	default:
		return ValidationError{
			StatusCode: resp.StatusCode,
			Message:    readErrorMessage(resp.Body),
		}
	}
}

// readErrorMessage extracts the server's {"error": "..."} body, falling
// back to the raw text.
func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return "no error detail"
	}
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return string(raw)
}

// parseRetryAfter parses the Retry-After header, supporting both
// integer seconds and HTTP-date format.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
