// Package repository fetches raw prompt files from tenant-owned GitHub
// repositories with timeouts, retries and rate-limit awareness.
package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/promptsync/internal/logging"
	"github.com/promptsync/internal/metrics"
	"github.com/promptsync/internal/retry"
	"github.com/promptsync/internal/schema"
)

const (
	DefaultRawBaseURL      = "https://raw.githubusercontent.com"
	DefaultTimeout         = 10 * time.Second
	DefaultMaxResponseSize = 100 * 1024
	DefaultRateLimitBuffer = 100
)

// RateLimitStatus is the last rate-limit headroom reported by the platform.
type RateLimitStatus struct {
	Known     bool      `json:"known"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Client fetches raw files. It is safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	timeout     time.Duration
	maxSize     int64
	buffer      int
	retryConfig retry.RetryConfig
	limiter     *rate.Limiter
	metrics     *metrics.Recorder
	now         func() time.Time
	logger      zerolog.Logger

	mu        sync.Mutex
	rateLimit RateLimitStatus
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBaseURL points the client at a different raw-content host.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTimeout sets the per-attempt request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithMaxResponseSize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithRateLimitBuffer sets how many requests are held in reserve.
func WithRateLimitBuffer(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.buffer = n
		}
	}
}

func WithRetryConfig(cfg retry.RetryConfig) Option {
	return func(c *Client) { c.retryConfig = cfg }
}

// WithLimiter replaces the client-side request throttle; nil disables it.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(c *Client) { c.metrics = r }
}

// NewClient creates a client with the package defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{},
		baseURL:     DefaultRawBaseURL,
		timeout:     DefaultTimeout,
		maxSize:     DefaultMaxResponseSize,
		buffer:      DefaultRateLimitBuffer,
		retryConfig: retry.RepositoryRetryConfig(),
		limiter:     rate.NewLimiter(rate.Limit(10), 20), // 10 requests per second
		now:         time.Now,
		logger:      logging.Component("repository_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RateLimitStatus returns the last observed rate-limit headroom.
func (c *Client) RateLimitStatus() RateLimitStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateLimit
}

// FetchFile returns the content of filePath on branch. A missing file, an
// unparseable repository reference and an oversized file all yield
// ErrNotFound. Rate limiting yields *RateLimitError, a timeout on the final
// attempt *TimeoutError.
func (c *Client) FetchFile(ctx context.Context, repoRef, filePath, branch, token string) (string, error) {
	owner, repo, ok := ParseRepositoryRef(repoRef)
	if !ok {
		c.logger.Debug().Str("repo", repoRef).Msg("unparseable repository reference")
		return "", ErrNotFound
	}
	if branch == "" {
		branch = "main"
	}
	rawURL := c.fileURL(owner, repo, branch, filePath)

	if err := c.exhausted(); err != nil {
		c.metrics.Fetch(KindRateLimit.String(), 0)
		return "", err
	}

	start := c.now()
	var (
		content     string
		lastTimeout bool
	)
	result := retry.RetryWithBackoffAndReason(ctx, c.retryConfig, func() (error, string) {
		body, timedOut, err := c.attempt(ctx, rawURL, token)
		lastTimeout = timedOut
		if err != nil {
			return err, Classify(err).String()
		}
		content = body
		return nil, "success"
	}, &c.logger)

	elapsed := c.now().Sub(start)
	if result.Success {
		c.metrics.Fetch("ok", elapsed)
		return content, nil
	}

	err := result.LastError
	logger := c.logger.With().Str("repo", owner+"/"+repo).Str("branch", branch).Str("path", filePath).Int("attempts", result.Attempts).Logger()

	switch {
	case errors.Is(err, errTooLarge):
		c.metrics.Fetch("too_large", elapsed)
		logger.Warn().Int64("max_bytes", c.maxSize).Msg("repository file exceeds size limit, ignoring")
		return "", ErrNotFound
	case errors.Is(err, ErrNotFound):
		c.metrics.Fetch(KindNotFound.String(), elapsed)
		return "", ErrNotFound
	case Classify(err) == KindRateLimit:
		c.metrics.Fetch(KindRateLimit.String(), elapsed)
		logger.Warn().Err(err).Msg("repository rate limit reached")
		return "", err
	case lastTimeout:
		c.metrics.Fetch(KindTimeout.String(), elapsed)
		logger.Warn().Err(err).Msg("repository fetch timed out")
		return "", &TimeoutError{Path: filePath, Attempts: result.Attempts, Err: err}
	case ctx.Err() != nil:
		c.metrics.Fetch(KindTimeout.String(), elapsed)
		return "", fmt.Errorf("repository: fetch %s: %w", filePath, ctx.Err())
	default:
		c.metrics.Fetch(KindTransport.String(), elapsed)
		logger.Warn().Err(err).Msg("repository fetch failed")
		var tr *TransportError
		if errors.As(err, &tr) {
			return "", tr
		}
		return "", &TransportError{Err: err}
	}
}

// attempt performs one request. timedOut reports whether it failed because
// the per-attempt deadline passed.
func (c *Client) attempt(ctx context.Context, rawURL, token string) (body string, timedOut bool, err error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", false, retry.Permanent(err)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", false, retry.Permanent(&TransportError{Err: err})
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("User-Agent", "promptsync")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, retry.Permanent(ctx.Err())
		}
		if isTimeout(attemptCtx, err) {
			return "", true, err
		}
		return "", false, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	status := c.recordRateLimit(resp.Header)

	switch {
	case resp.StatusCode == http.StatusOK:
		if resp.ContentLength > c.maxSize {
			return "", false, retry.Permanent(errTooLarge)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
		if err != nil {
			if isTimeout(attemptCtx, err) {
				return "", true, err
			}
			return "", false, &TransportError{Err: err}
		}
		if int64(len(data)) > c.maxSize {
			return "", false, retry.Permanent(errTooLarge)
		}
		return string(data), false, nil
	case resp.StatusCode == http.StatusNotFound:
		return "", false, retry.Permanent(ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && status.Known && status.Remaining < c.buffer:
		return "", false, retry.Permanent(&RateLimitError{Remaining: status.Remaining, ResetAt: c.resetAt(resp.Header, status)})
	case resp.StatusCode >= 500:
		return "", false, &TransportError{StatusCode: resp.StatusCode}
	default:
		return "", false, retry.Permanent(&TransportError{StatusCode: resp.StatusCode})
	}
}

// exhausted short-circuits while a previously reported reset is pending
// and no requests remain.
func (c *Client) exhausted() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rl := c.rateLimit
	if rl.Known && rl.Remaining <= 0 && c.now().Before(rl.ResetAt) {
		return &RateLimitError{Remaining: rl.Remaining, ResetAt: rl.ResetAt}
	}
	return nil
}

// recordRateLimit reads the rate-limit headers. Missing or malformed
// headers mean the budget is unknown and treated as unlimited.
func (c *Client) recordRateLimit(h http.Header) RateLimitStatus {
	status := RateLimitStatus{}
	remaining, errRemaining := strconv.Atoi(strings.TrimSpace(h.Get("X-RateLimit-Remaining")))
	if errRemaining == nil {
		status.Known = true
		status.Remaining = remaining
		if limit, err := strconv.Atoi(strings.TrimSpace(h.Get("X-RateLimit-Limit"))); err == nil {
			status.Limit = limit
		}
		if reset, err := strconv.ParseInt(strings.TrimSpace(h.Get("X-RateLimit-Reset")), 10, 64); err == nil {
			status.ResetAt = time.Unix(reset, 0)
		}
	}

	c.mu.Lock()
	c.rateLimit = status
	c.mu.Unlock()
	return status
}

func (c *Client) resetAt(h http.Header, status RateLimitStatus) time.Time {
	if !status.ResetAt.IsZero() {
		return status.ResetAt
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After"))); err == nil {
		return c.now().Add(time.Duration(secs) * time.Second)
	}
	return time.Time{}
}

// fileURL escapes each path segment. Branch names may contain slashes
// (release/v2), which stay path separators.
func (c *Client) fileURL(owner, repo, branch, filePath string) string {
	segments := []string{c.baseURL, url.PathEscape(owner), url.PathEscape(repo)}
	segments = appendEscaped(segments, branch)
	segments = appendEscaped(segments, filePath)
	return strings.Join(segments, "/")
}

func appendEscaped(segments []string, p string) []string {
	for _, s := range strings.Split(strings.Trim(p, "/"), "/") {
		if s != "" {
			segments = append(segments, url.PathEscape(s))
		}
	}
	return segments
}

func isTimeout(attemptCtx context.Context, err error) bool {
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// CheckRepository fetches and validates the routing manifest. Problems with
// the repository content are reported in the result; the error is set only
// when the platform could not be asked (rate limit, timeout, transport).
func (c *Client) CheckRepository(ctx context.Context, repoRef, branch, token string) (schema.ValidationResult, error) {
	if _, _, ok := ParseRepositoryRef(repoRef); !ok {
		return schema.Invalid(fmt.Sprintf("invalid repository reference %q (expected owner/repo or a GitHub URL)", repoRef)), nil
	}

	content, err := c.FetchFile(ctx, repoRef, schema.ManifestPath, branch, token)
	if errors.Is(err, ErrNotFound) {
		return schema.Invalid(fmt.Sprintf("required file %s not found at the repository root", schema.ManifestPath)), nil
	}
	if err != nil {
		return schema.ValidationResult{}, err
	}
	return schema.ValidatePath(content), nil
}

// ValidateRepositoryStructure is CheckRepository with fetch failures folded
// into the result.
func (c *Client) ValidateRepositoryStructure(ctx context.Context, repoRef, branch, token string) schema.ValidationResult {
	res, err := c.CheckRepository(ctx, repoRef, branch, token)
	if err != nil {
		return schema.Invalid(fmt.Sprintf("could not fetch %s: %v", schema.ManifestPath, err))
	}
	return res
}
