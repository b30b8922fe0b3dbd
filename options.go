package splists

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// WithHTTPClient sets the *http.Client used to issue requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.doer = client
	}
}

// WithDoer sets an arbitrary transport primitive.
func WithDoer(doer Doer) Option {
	return func(c *Client) {
		c.doer = doer
	}
}

// WithMaxAttempts sets the total attempt budget N of one logical call,
// including the first try.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		c.maxAttempts = n
	}
}

// WithBaseDelay sets the base backoff delay B
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = d
	}
}

// WithMaxDelay sets the backoff cap C
func WithMaxDelay(d time.Duration) Option {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithBackoffMultiplier sets the backoff multiplier
func WithBackoffMultiplier(f float64) Option {
	return func(c *Client) {
		c.backoffMultiplier = f
	}
}

// WithJitter sets the jitter factor for backoff (0.0 to 1.0)
func WithJitter(f float64) Option {
	return func(c *Client) {
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		c.jitter = f
	}
}

// WithBackoffStrategy selects the delay algorithm.
func WithBackoffStrategy(strategy BackoffStrategy) Option {
	return func(c *Client) {
		c.backoffStrategy = strategy
	}
}

// WithRetryPolicy replaces the default retry policy. The attempt budget and
// backoff options are ignored when a custom policy is set.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retryPolicy = policy
	}
}

// WithRetryObserver registers a callback invoked before every retry.
func WithRetryObserver(observer RetryObserver) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// WithRateLimit paces attempts to rps requests per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMetrics enables Prometheus metrics collection
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithDebug enables debug logging with default configuration
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithLogger sets the logger used for warnings and debug output
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables debug logging with a simple console logger
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithRequestIDGenerator sets a custom function for generating request IDs
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// WithMissingFieldCache shares knowledge of absent optional fields, for
// example across processes via rediscache.
func WithMissingFieldCache(cache MissingFieldCache) Option {
	return func(c *Client) {
		c.missing = cache
	}
}

// WithAccept overrides the Accept header, e.g. "application/json;odata=verbose".
func WithAccept(accept string) Option {
	return func(c *Client) {
		c.accept = accept
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// ValidateConfiguration validates the client configuration and returns an error if invalid
func (c *Client) ValidateConfiguration() error {
	var errors []string

	errors = append(errors, c.validateRetryConfig()...)
	errors = append(errors, c.validateRateLimitConfig()...)
	errors = append(errors, c.validateDebugConfig()...)
	errors = append(errors, c.validateTransportConfig()...)
	errors = append(errors, c.validateExtremeValues()...)

	if len(errors) > 0 {
		return &ClientError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", errors),
		}
	}

	return nil
}

func (c *Client) validateRetryConfig() []string {
	var errors []string

	if c.retryPolicy != nil {
		return errors
	}

	if c.maxAttempts < 1 {
		errors = append(errors, "maxAttempts must be at least 1")
	}

	if c.baseDelay <= 0 {
		errors = append(errors, "baseDelay must be positive")
	}

	if c.maxDelay < c.baseDelay {
		errors = append(errors, "maxDelay must be greater than or equal to baseDelay")
	}

	if c.backoffMultiplier <= 0 {
		errors = append(errors, "backoffMultiplier must be positive")
	}

	if c.jitter < 0 || c.jitter > 1 {
		errors = append(errors, "jitter must be between 0 and 1")
	}

	return errors
}

func (c *Client) validateRateLimitConfig() []string {
	var errors []string

	if c.limiter != nil {
		if c.limiter.Limit() <= 0 {
			errors = append(errors, "rate limit must be positive")
		}
		if c.limiter.Burst() <= 0 {
			errors = append(errors, "rate limit burst must be positive")
		}
	}

	return errors
}

func (c *Client) validateDebugConfig() []string {
	var errors []string

	if c.debug != nil && c.debug.Enabled {
		if c.debug.RequestIDGen == nil {
			errors = append(errors, "debug RequestIDGen must be set when debug is enabled")
		}
	}

	if c.logger == nil {
		errors = append(errors, "logger cannot be nil")
	}

	return errors
}

func (c *Client) validateTransportConfig() []string {
	var errors []string

	if c.doer == nil {
		errors = append(errors, "HTTP client cannot be nil")
	}

	if c.missing == nil {
		errors = append(errors, "missing field cache cannot be nil")
	}

	if c.accept == "" {
		errors = append(errors, "accept header cannot be empty")
	}

	return errors
}

// validateExtremeValues rejects values that would stall callers for hours.
func (c *Client) validateExtremeValues() []string {
	var errors []string

	if c.maxAttempts > 100 {
		errors = append(errors, "maxAttempts > 100 may cause excessive resource usage")
	}

	if c.baseDelay > 10*time.Minute {
		errors = append(errors, "baseDelay > 10m may cause very long delays")
	}
	if c.maxDelay > 1*time.Hour {
		errors = append(errors, "maxDelay > 1h may cause extremely long delays")
	}

	return errors
}
