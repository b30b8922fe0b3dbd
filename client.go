package splists

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/yasutakesougo/audit-management-system-mvp-sub007/internal/singleflight"
)

const (
	defaultAccept      = "application/json;odata=nometadata"
	defaultContentType = "application/json;odata=nometadata"
)

// Client talks to a list service rooted at a base URL. Every call runs through
// the retry engine; list reads drain pagination, batches travel as one
// multipart request. It is safe for concurrent use.
type Client struct {
	doer    Doer
	baseURL *url.URL
	token   TokenFunc
	// refreshes coalesces forced token refreshes from concurrent 401s.
	refreshes *singleflight.Group[string]

	maxAttempts       int
	baseDelay         time.Duration
	maxDelay          time.Duration
	backoffMultiplier float64
	jitter            float64
	backoffStrategy   BackoffStrategy
	retryPolicy       RetryPolicy
	observer          RetryObserver
	limiter           *rate.Limiter

	metrics *MetricsCollector
	debug   *DebugConfig
	logger  Logger
	missing MissingFieldCache

	accept    string
	userAgent string
	sleep     func(context.Context, time.Duration) error
}

// New constructs a Client for baseURL (for example
// https://contoso.sharepoint.com/sites/records) using token to authorize
// requests. Configuration problems are reported as a Validation ClientError.
func New(baseURL string, token TokenFunc, options ...Option) (*Client, error) {
	client := &Client{
		doer:              &http.Client{Timeout: 60 * time.Second},
		token:             token,
		refreshes:         singleflight.New[string](),
		maxAttempts:       4,
		baseDelay:         500 * time.Millisecond,
		maxDelay:          30 * time.Second,
		backoffMultiplier: 2.0,
		jitter:            0.2,
		backoffStrategy:   ExponentialJitter,
		debug:             DefaultDebugConfig(),
		logger:            NewSlogLogger(nil),
		missing:           NewInMemoryMissingFields(),
		accept:            defaultAccept,
		userAgent:         UserAgent(),
		sleep:             sleepContext,
	}

	for _, option := range options {
		option(client)
	}

	parsed, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	client.baseURL = parsed

	if err := client.ValidateConfiguration(); err != nil {
		return nil, err
	}

	if client.retryPolicy == nil {
		client.retryPolicy = NewDefaultRetryPolicyWithStrategy(
			client.maxAttempts, client.baseDelay, client.maxDelay,
			client.backoffMultiplier, client.jitter, client.backoffStrategy,
		)
	}

	return client, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, newError(ErrorTypeValidation, "base URL is required", nil)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, newError(ErrorTypeValidation, "base URL is invalid", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, newError(ErrorTypeValidation, fmt.Sprintf("base URL %q must be absolute http(s)", raw), nil)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// request is a replayable description of one logical HTTP call. path is
// relative to the base URL and may carry a query string.
type request struct {
	method string
	path   string
	header http.Header
	body   []byte
}

// response is a fully read terminal response.
type response struct {
	status int
	header http.Header
	body   []byte
}

func (r *response) json() []byte {
	return coerce(r.status, r.header, r.body)
}

func (c *Client) absoluteURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL.String() + path
}

func endpointOf(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		return path[:i]
	}
	return path
}

var itemIDPattern = regexp.MustCompile(`\(\d+\)`)

// metricsEndpoint is endpointOf with item ids collapsed, so label values stay
// bounded by the number of lists.
func metricsEndpoint(path string) string {
	return itemIDPattern.ReplaceAllString(endpointOf(path), "(*)")
}

// acquireToken asks the token callback for a bearer token. An empty token is
// an AuthRequired error. Concurrent forced refreshes share one callback run.
func (c *Client) acquireToken(ctx context.Context, forceRefresh bool) (string, error) {
	if c.token == nil {
		return "", newError(ErrorTypeAuthRequired, "no token source configured", nil)
	}

	var token string
	var err error
	if forceRefresh {
		shared := context.WithoutCancel(ctx)
		token, err, _ = c.refreshes.Do(ctx, "refresh", func() (string, error) {
			return c.token(shared, true)
		})
	} else {
		token, err = c.token(ctx, false)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", newError(ErrorTypeAuthRequired, "token acquisition failed", err)
	}
	if strings.TrimSpace(token) == "" {
		return "", newError(ErrorTypeAuthRequired, "token source returned an empty token", nil)
	}
	return token, nil
}

// execute runs one logical request through the retry engine and returns the
// first response with a status below 400.
func (c *Client) execute(ctx context.Context, req *request) (*response, error) {
	token, err := c.acquireToken(ctx, false)
	if err != nil {
		return nil, err
	}
	return c.executeWithToken(ctx, req, token)
}

func (c *Client) executeWithToken(ctx context.Context, req *request, token string) (*response, error) {
	start := time.Now()
	endpoint := metricsEndpoint(req.path)
	requestID := c.newRequestID()

	c.metrics.RecordRequestStart(req.method, endpoint)
	defer c.metrics.RecordRequestEnd(req.method, endpoint)

	if c.logRequests() {
		c.logger.Debug("Starting request", "requestID", requestID, "method", req.method, "path", req.path)
	}

	resp, err := c.retryLoop(ctx, req, token, requestID, start)

	statusCode := 0
	if resp != nil {
		statusCode = resp.status
	} else {
		statusCode = StatusCode(err)
	}
	c.metrics.RecordRequest(req.method, endpoint, statusCode, time.Since(start))

	if err != nil {
		var clientErr *ClientError
		if errors.As(err, &clientErr) {
			c.metrics.RecordError(clientErr.Type, req.method, endpoint)
		}
		if c.logRequests() {
			c.logger.Debug("Request failed", "requestID", requestID, "method", req.method, "path", req.path, "error", err.Error())
		}
	}
	return resp, err
}

func (c *Client) retryLoop(ctx context.Context, req *request, token, requestID string, start time.Time) (*response, error) {
	endpoint := metricsEndpoint(req.path)
	// retries counts the attempt budget; observed numbers RetryMeta and also
	// counts the auth retry.
	retries, observed := 0, 0
	authRetried := false

	for {
		if err := c.waitForRate(ctx); err != nil {
			return nil, err
		}

		resp, err := c.roundTrip(ctx, req, token, requestID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			delay, ok := c.retryPolicy.ShouldRetry(0, nil, err, retries)
			if !ok {
				return nil, c.attemptError(ErrorTypeNetwork, "network request failed", err, req, requestID, retries+1, 0, start)
			}
			observed++
			if err := c.backoff(ctx, req, requestID, RetryMeta{Attempt: observed, Status: 0, Delay: delay, Reason: ReasonNetwork}); err != nil {
				return nil, err
			}
			retries++
			continue
		}

		switch {
		case resp.status < http.StatusBadRequest:
			return resp, nil

		case resp.status == http.StatusUnauthorized:
			if authRetried {
				return nil, c.attemptError(ErrorTypeAuthExpired, messageOr(resp.body, "access token rejected after refresh"), nil, req, requestID, retries+1, resp.status, start)
			}
			authRetried = true
			refreshed, err := c.acquireToken(ctx, true)
			if err != nil {
				return nil, err
			}
			token = refreshed
			observed++
			if err := c.backoff(ctx, req, requestID, RetryMeta{Attempt: observed, Status: resp.status, Delay: 0, Reason: ReasonAuth}); err != nil {
				return nil, err
			}
			continue

		case IsRetryableStatus(resp.status):
			delay, ok := c.retryPolicy.ShouldRetry(resp.status, resp.header, nil, retries)
			if !ok {
				return nil, c.attemptError(ErrorTypeTransientHTTP, messageOr(resp.body, http.StatusText(resp.status)), nil, req, requestID, retries+1, resp.status, start)
			}
			observed++
			if err := c.backoff(ctx, req, requestID, RetryMeta{Attempt: observed, Status: resp.status, Delay: delay, Reason: reasonFor(resp.status)}); err != nil {
				return nil, err
			}
			retries++

		default:
			if c.logRequests() {
				c.logger.Debug("Non-retryable status", "requestID", requestID, "endpoint", endpoint, "status", resp.status)
			}
			return nil, c.attemptError(ErrorTypeNonRetryableHTTP, messageOr(resp.body, http.StatusText(resp.status)), nil, req, requestID, retries+1, resp.status, start)
		}
	}
}

// backoff reports the retry to the observer, metrics and log, then sleeps.
func (c *Client) backoff(ctx context.Context, req *request, requestID string, meta RetryMeta) error {
	endpoint := metricsEndpoint(req.path)
	c.metrics.RecordRetry(req.method, endpoint, meta.Reason)
	if c.logRetries() {
		c.logger.Info("Scheduling retry", "requestID", requestID, "attempt", meta.Attempt, "status", meta.Status, "reason", string(meta.Reason), "backoff", meta.Delay, "endpoint", endpoint)
	}
	c.notify(meta)
	return c.sleep(ctx, meta.Delay)
}

// notify calls the retry observer, recovering from any panic it raises.
func (c *Client) notify(meta RetryMeta) {
	if c.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil && c.logger != nil {
			c.logger.Warn("Retry observer panicked", "panic", fmt.Sprint(r))
		}
	}()
	c.observer(meta)
}

func (c *Client) waitForRate(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return newError(ErrorTypeValidation, "rate limiter rejected the request", err)
	}
	return nil
}

// roundTrip performs a single attempt and reads the whole body.
func (c *Client) roundTrip(ctx context.Context, req *request, token, requestID string) (*response, error) {
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.absoluteURL(req.path), body)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Accept", c.accept)
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Authorization", "Bearer "+token)
	if req.body != nil {
		httpReq.Header.Set("Content-Type", defaultContentType)
	}
	if requestID != "" {
		httpReq.Header.Set("X-Request-ID", requestID)
	}
	for k, vs := range req.header {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpResp, err := c.doer.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &response{status: httpResp.StatusCode, header: httpResp.Header, body: data}, nil
}

func (c *Client) attemptError(errorType, message string, cause error, req *request, requestID string, attempt, status int, start time.Time) *ClientError {
	return &ClientError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		RequestID:   requestID,
		Method:      req.method,
		URL:         c.absoluteURL(req.path),
		StatusCode:  status,
		Attempt:     attempt,
		MaxAttempts: c.maxAttempts,
		Timestamp:   time.Now(),
		Duration:    time.Since(start),
	}
}

func messageOr(body []byte, fallback string) string {
	if msg := errorMessage(body); msg != "" {
		return msg
	}
	return fallback
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
