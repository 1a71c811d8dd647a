// Package api provides the client for the remote usage API and the local
// credential store lookup.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Custom errors for usage API failures.
var (
	ErrUnauthorized    = errors.New("usage: unauthorized - invalid or expired token")
	ErrServerError     = errors.New("usage: server error")
	ErrNetworkError    = errors.New("usage: network error")
	ErrInvalidResponse = errors.New("usage: invalid response")
)

// StatusError carries a non-200, non-401 HTTP status with the response body
// so callers can surface {error, details} payloads.
type StatusError struct {
	Status  int
	Details string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("usage: API returned status %d", e.Status)
}

// Client is an HTTP client for the usage API. Safe for concurrent use:
// the token is rotated at runtime while requests are in flight.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	logger     *slog.Logger

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithTimeout sets a custom timeout (for testing).
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithLimiter sets a custom outbound rate limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// NewClient creates a new usage API client. The default limiter allows one
// request per second with a small burst; the remote API is rate limited and
// the 401-retry path can issue two calls back to back.
func NewClient(token string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	client := &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				ResponseHeaderTimeout: 10 * time.Second,
				IdleConnTimeout:       30 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ForceAttemptHTTP2:     true,
			},
		},
		token:   token,
		baseURL: "https://api.anthropic.com/api/oauth/usage",
		limiter: rate.NewLimiter(rate.Every(time.Second), 2),
		logger:  logger,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// SetToken updates the token used for API requests (for token refresh).
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the token currently used for API requests.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// FetchUsage retrieves the current usage windows from the remote API.
func (c *Client) FetchUsage(ctx context.Context) (*UsageResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkError, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("usage: creating request: %w", err)
	}

	token := c.Token()
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-beta", "oauth-2025-04-20")
	req.Header.Set("User-Agent", "logwatch/1.0")

	c.logger.Debug("fetching usage",
		"url", c.baseURL,
		"token", redactToken(token),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("usage response received", "status", resp.StatusCode)

	body, readErr := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		// Continue to parse response
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrServerError, resp.StatusCode)
	default:
		return nil, &StatusError{Status: resp.StatusCode, Details: string(body)}
	}

	if readErr != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrInvalidResponse, readErr)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty response body", ErrInvalidResponse)
	}

	usage, err := ParseUsageResponse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	return usage, nil
}

// redactToken masks the token for logging.
func redactToken(key string) string {
	if key == "" {
		return "(empty)"
	}

	if len(key) < 8 {
		return "***...***"
	}

	// Show first 4 chars and last 3 chars
	return key[:4] + "***...***" + key[len(key)-3:]
}
