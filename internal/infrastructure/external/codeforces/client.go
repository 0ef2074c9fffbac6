package codeforces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cf-progress-hub/cf-progress-hub/internal/domain/shared"
	"github.com/cf-progress-hub/cf-progress-hub/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the Codeforces API client.
type ClientConfig struct {
	// BaseURL is the Codeforces API base URL
	BaseURL string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// RateLimiterConfig for API rate limiting
	RateLimiterConfig RateLimiterConfig

	// CircuitBreakerConfig for fault tolerance
	CircuitBreakerConfig CircuitBreakerConfig

	// RetryConfig for retry behavior
	RetryConfig RetryConfig

	// Logger for structured logging
	Logger *slog.Logger

	// Debug enables debug logging
	Debug bool
}

// DefaultBaseURL is the public Codeforces API endpoint.
const DefaultBaseURL = "https://codeforces.com/api"

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return ClientConfig{
		BaseURL:              baseURL,
		Timeout:              30 * time.Second,
		RateLimiterConfig:    DefaultRateLimiterConfig(),
		CircuitBreakerConfig: DefaultCircuitBreakerConfig(),
		RetryConfig:          DefaultRetryConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the Codeforces API client.
type Client struct {
	config         ClientConfig
	httpClient     *http.Client
	logger         *slog.Logger
	rateLimiter    *RateLimiter
	circuitBreaker *CircuitBreaker
	mapper         *Mapper
}

// NewClient creates a new Codeforces API client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:         config.Logger,
		rateLimiter:    NewRateLimiter(config.RateLimiterConfig),
		circuitBreaker: NewCircuitBreaker(config.CircuitBreakerConfig),
		mapper:         NewMapper(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// USER OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// FetchProfiles fetches user profiles for the given handles in one call.
// The user.info method accepts a semicolon-separated handle list and returns
// results in the same order.
func (c *Client) FetchProfiles(ctx context.Context, handles []string) ([]*student.ProfileSnapshot, error) {
	if len(handles) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("handles", strings.Join(handles, ";"))
	path := "/user.info?" + params.Encode()

	var response APIResponse[[]UserDTO]
	if err := c.doRequest(ctx, path, &response); err != nil {
		return nil, shared.WrapError("codeforces", "FetchProfiles", shared.ErrLookup, "fetch user info", err)
	}

	if response.Status != StatusOK {
		return nil, shared.WrapError("codeforces", "FetchProfiles", shared.ErrExternalStatus,
			"api returned "+response.Status, errors.New(response.Comment))
	}

	profiles := make([]*student.ProfileSnapshot, 0, len(response.Result))
	for i := range response.Result {
		profile, err := c.mapper.ProfileFromDTO(&response.Result[i])
		if err != nil {
			return nil, fmt.Errorf("map profile: %w", err)
		}
		profiles = append(profiles, profile)
	}

	return profiles, nil
}

// FetchProfile fetches a single user profile by handle.
func (c *Client) FetchProfile(ctx context.Context, handle string) (*student.ProfileSnapshot, error) {
	profiles, err := c.FetchProfiles(ctx, []string{handle})
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, shared.NewDomainError("codeforces", "FetchProfile", shared.ErrLookup,
			"no profile returned for handle "+handle)
	}
	return profiles[0], nil
}

// FetchSubmissions fetches recent submissions for a handle, newest first.
// A count of 0 requests the full submission history.
func (c *Client) FetchSubmissions(ctx context.Context, handle string, count int) ([]student.Submission, error) {
	params := url.Values{}
	params.Set("handle", handle)
	if count > 0 {
		params.Set("from", "1")
		params.Set("count", strconv.Itoa(count))
	}
	path := "/user.status?" + params.Encode()

	var response APIResponse[[]SubmissionDTO]
	if err := c.doRequest(ctx, path, &response); err != nil {
		return nil, shared.WrapError("codeforces", "FetchSubmissions", shared.ErrLookup, "fetch user status", err)
	}

	if response.Status != StatusOK {
		return nil, shared.WrapError("codeforces", "FetchSubmissions", shared.ErrExternalStatus,
			"api returned "+response.Status, errors.New(response.Comment))
	}

	return c.mapper.SubmissionsFromDTO(response.Result), nil
}

// FetchContestHistory fetches the rated contest history for a handle.
// An unrated user comes back as OK with an empty result, which maps to a
// non-nil empty history. A FAILED envelope is an error like every other
// endpoint, so callers never confuse it with "no contests yet".
func (c *Client) FetchContestHistory(ctx context.Context, handle string) ([]student.ContestResult, error) {
	params := url.Values{}
	params.Set("handle", handle)
	path := "/user.rating?" + params.Encode()

	var response APIResponse[[]RatingChangeDTO]
	if err := c.doRequest(ctx, path, &response); err != nil {
		return nil, shared.WrapError("codeforces", "FetchContestHistory", shared.ErrLookup, "fetch user rating", err)
	}

	if response.Status != StatusOK {
		return nil, shared.WrapError("codeforces", "FetchContestHistory", shared.ErrExternalStatus,
			"api returned "+response.Status, errors.New(response.Comment))
	}

	return c.mapper.ContestHistoryFromDTO(response.Result), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doRequest performs a GET request with rate limiting, circuit breaking, and retries.
func (c *Client) doRequest(ctx context.Context, path string, result interface{}) error {
	// Check circuit breaker
	if err := c.circuitBreaker.Allow(); err != nil {
		return fmt.Errorf("circuit breaker: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.RetryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.config.RetryConfig.CalculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		// Wait for rate limiter
		if err := c.rateLimiter.Allow(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		err := c.doSingleRequest(ctx, path, result)
		if err == nil {
			c.circuitBreaker.RecordSuccess()
			return nil
		}

		lastErr = err

		if !c.isRetryable(err) {
			c.circuitBreaker.RecordFailure()
			return err
		}

		var rateLimitErr *RateLimitError
		if errors.As(err, &rateLimitErr) {
			c.rateLimiter.RecordRateLimitHit(rateLimitErr.RetryAfter)
		}
	}

	c.circuitBreaker.RecordFailure()
	return fmt.Errorf("request failed after %d retries: %w", c.config.RetryConfig.MaxRetries, lastErr)
}

// doSingleRequest performs a single HTTP GET against the API.
// A FAILED status envelope is returned to the caller inside result; only
// transport and protocol failures come back as errors.
func (c *Client) doSingleRequest(ctx context.Context, path string, result interface{}) error {
	fullURL := c.config.BaseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if c.config.Debug {
		c.logger.Debug("codeforces api request", "path", path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// Handle rate limiting
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		retryAfter := 60 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &RateLimitError{
			RetryAfter: retryAfter,
			Message:    "rate limit exceeded",
		}
	}

	// The API reports request-level failures with a 400 and a comment field.
	if resp.StatusCode >= 400 {
		var envelope struct {
			Status  string `json:"status"`
			Comment string `json:"comment"`
		}
		if err := json.Unmarshal(respBody, &envelope); err == nil && envelope.Comment != "" {
			return &APIError{HTTPStatus: resp.StatusCode, Comment: envelope.Comment}
		}
		return &APIError{
			HTTPStatus: resp.StatusCode,
			Comment:    "status " + strconv.Itoa(resp.StatusCode),
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// isRetryable checks if an error is retryable.
func (c *Client) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Rate limit errors are retryable
	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	// Server-side failures are retryable, client mistakes are not
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus >= 500
	}

	// Network errors are generally retryable
	errStr := err.Error()
	for _, sub := range []string{"timeout", "connection refused", "temporary", "reset", "EOF"} {
		if strings.Contains(errStr, sub) {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// IsHealthy checks if the Codeforces API is reachable.
func (c *Client) IsHealthy(ctx context.Context) bool {
	var response APIResponse[[]UserDTO]
	err := c.doSingleRequest(ctx, "/user.info?handles=tourist", &response)
	return err == nil && response.Status == StatusOK
}

// ClientStatus contains the current status of the client.
type ClientStatus struct {
	RateLimiter    RateLimiterStatus
	CircuitBreaker CircuitBreakerStatus
}

// Status returns the current status of the client.
func (c *Client) Status() ClientStatus {
	return ClientStatus{
		RateLimiter:    c.rateLimiter.Status(),
		CircuitBreaker: c.circuitBreaker.Status(),
	}
}

// Reset resets the rate limiter and circuit breaker.
func (c *Client) Reset() {
	c.rateLimiter.Reset()
	c.circuitBreaker.Reset()
}
