// Package client provides the core CRM REST client with rate limiting,
// retries, and error classification.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/b24tools/b24extract/pkg/cache"
	"github.com/b24tools/b24extract/pkg/logging"
	"github.com/b24tools/b24extract/pkg/ratelimit"
	"github.com/b24tools/b24extract/pkg/stats"
)

// Prometheus metrics for CRM client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "b24_requests_total",
		Help: "Total CRM requests by method and status",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "b24_request_duration_seconds",
		Help:    "CRM request duration in seconds by method",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "b24_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "b24_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "b24_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// maxErrorSample bounds the raw body sample kept on malformed responses.
const maxErrorSample = 200

// Config holds the client configuration.
type Config struct {
	// WebhookURL is the CRM REST entry point, including the auth token
	// (e.g. "https://example.bitrix24.ru/rest/1/token"). REQUIRED.
	WebhookURL string

	// UserAgent header sent with every request.
	UserAgent string

	// RateLimitDelay is the minimum interval between physical requests.
	RateLimitDelay time.Duration

	// RequestTimeout bounds one physical HTTP attempt.
	RequestTimeout time.Duration

	// MaxRetries is the number of retries after the first attempt;
	// total physical attempts per logical call <= MaxRetries+1.
	MaxRetries int

	// VerifyTLS controls remote certificate verification.
	VerifyTLS bool

	// DisableSystemProxy bypasses proxies from the environment.
	DisableSystemProxy bool

	// Cache is an optional response cache for read-only methods.
	Cache *cache.Manager

	// CacheTTL is how long cached payloads stay fresh.
	CacheTTL time.Duration

	// Stats receives counters for every request. A fresh tracker is
	// created when nil.
	Stats *stats.Tracker
}

// DefaultConfig returns a safe default configuration for the given webhook.
func DefaultConfig(webhookURL string) Config {
	return Config{
		WebhookURL:         webhookURL,
		UserAgent:          "b24extract/2.0",
		RateLimitDelay:     500 * time.Millisecond,
		RequestTimeout:     30 * time.Second,
		MaxRetries:         5,
		VerifyTLS:          true,
		DisableSystemProxy: true,
		CacheTTL:           60 * time.Second,
	}
}

// Client executes logical CRM REST calls with pacing and retries.
type Client struct {
	httpClient *http.Client
	config     Config
	pacer      *ratelimit.Pacer
	stats      *stats.Tracker
	logger     zerolog.Logger
}

// New creates a new CRM client.
func New(cfg Config) (*Client, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if _, err := url.Parse(cfg.WebhookURL); err != nil {
		return nil, fmt.Errorf("invalid webhook url: %w", err)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.MaxRetries)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Cache != nil && cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 60 * time.Second
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewTracker()
	}

	logger := logging.NewLogger("crm-client")

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
	}
	if cfg.DisableSystemProxy {
		transport.Proxy = nil
	}
	if !cfg.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		config: cfg,
		pacer:  ratelimit.NewPacer(cfg.RateLimitDelay, logger),
		stats:  cfg.Stats,
		logger: logger,
	}, nil
}

// Call executes one logical CRM call and returns the unwrapped "result"
// payload. Failures come back as typed errors: *APIError, *HTTPError,
// *TransportError, *MalformedResponseError, or ErrRetriesExhausted
// wrapping the last attempt's error.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	if method == "" {
		return nil, fmt.Errorf("method name is required")
	}

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(method).Observe(time.Since(startTime).Seconds())
	}()

	if payload, ok := c.cacheLookup(ctx, method, params); ok {
		return payload, nil
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt == 0 {
			if err := c.pacer.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
			}
		} else {
			c.stats.Retry()
			class := classify(lastErr)
			delay := backoff(attempt)

			retriesTotal.WithLabelValues(string(class)).Inc()
			retryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())

			c.logger.Warn().
				Str("method", method).
				Int("attempt", attempt).
				Str("error_class", string(class)).
				Dur("backoff", delay).
				Msg("Retrying request after backoff")

			select {
			case <-ctx.Done():
				c.stats.Failure()
				return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
			case <-time.After(delay):
			}
		}

		c.stats.Attempt()
		payload, err := c.doAttempt(ctx, method, params)
		if err == nil {
			c.stats.Success()
			if attempt > 0 {
				c.logger.Info().
					Str("method", method).
					Int("retries", attempt).
					Msg("Request succeeded after retry")
			}
			c.cacheStore(ctx, method, params, payload)
			return payload, nil
		}

		lastErr = err
		if !shouldRetry(err) {
			c.stats.Failure()
			c.logger.Error().
				Err(err).
				Str("method", method).
				Str("error_class", string(classify(err))).
				Msg("Request failed")
			return nil, err
		}
	}

	// All attempts consumed.
	c.stats.Failure()
	class := classify(lastErr)
	retryExhaustedTotal.WithLabelValues(string(class)).Inc()
	c.logger.Error().
		Err(lastErr).
		Str("method", method).
		Int("attempts", c.config.MaxRetries+1).
		Msg("Retry attempts exhausted")

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, c.config.MaxRetries+1, lastErr)
}

// CallSoft projects any failure to a nil payload, matching legacy callers
// that treat errors as "no data this round".
func (c *Client) CallSoft(ctx context.Context, method string, params map[string]any) json.RawMessage {
	payload, err := c.Call(ctx, method, params)
	if err != nil {
		return nil
	}
	return payload
}

// doAttempt performs one physical HTTP attempt and classifies the result.
func (c *Client) doAttempt(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	endpoint := strings.TrimRight(c.config.WebhookURL, "/") + "/" + method

	var req *http.Request
	var err error
	if len(params) == 0 {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	} else {
		var body []byte
		body, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(method, "network_error").Inc()
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		requestsTotal.WithLabelValues(method, "network_error").Inc()
		return nil, &TransportError{Err: err}
	}

	requestsTotal.WithLabelValues(method, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	return unwrapEnvelope(resp.StatusCode, body)
}

// unwrapEnvelope interprets a 2xx response body: "error" means the API
// rejected the request, "result" carries the payload, and a JSON object
// with neither is passed through whole (legacy behavior).
func unwrapEnvelope(statusCode int, body []byte) (json.RawMessage, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		if json.Valid(body) {
			// Valid JSON but not an object (e.g. a bare array).
			return json.RawMessage(body), nil
		}
		return nil, &MalformedResponseError{
			StatusCode: statusCode,
			Sample:     truncate(string(body), maxErrorSample),
		}
	}

	if rawErr, ok := envelope["error"]; ok {
		apiErr := &APIError{}
		if err := json.Unmarshal(rawErr, &apiErr.Code); err != nil {
			apiErr.Code = truncate(string(rawErr), maxErrorSample)
		}
		if rawDesc, ok := envelope["error_description"]; ok {
			_ = json.Unmarshal(rawDesc, &apiErr.Description)
		}
		return nil, apiErr
	}

	if result, ok := envelope["result"]; ok {
		return result, nil
	}

	return json.RawMessage(body), nil
}

// cacheLookup returns a cached payload for read-only methods, if any.
func (c *Client) cacheLookup(ctx context.Context, method string, params map[string]any) (json.RawMessage, bool) {
	if c.config.Cache == nil || !cacheable(method) {
		return nil, false
	}

	key := cache.NewKey(method, params)
	entry, err := c.config.Cache.Get(ctx, key)
	if err != nil {
		if err != cache.ErrCacheMiss {
			c.logger.Warn().Err(err).Str("method", method).Msg("Cache get error")
		}
		return nil, false
	}

	c.logger.Debug().Str("method", method).Msg("Cache hit")
	return entry.Payload, true
}

// cacheStore saves a successful payload for read-only methods.
func (c *Client) cacheStore(ctx context.Context, method string, params map[string]any, payload json.RawMessage) {
	if c.config.Cache == nil || !cacheable(method) {
		return
	}

	key := cache.NewKey(method, params)
	if err := c.config.Cache.Set(ctx, key, cache.NewEntry(payload, c.config.CacheTTL)); err != nil {
		c.logger.Warn().Err(err).Str("method", method).Msg("Failed to cache response")
	}
}

// cacheable reports whether a method is a read and safe to cache.
func cacheable(method string) bool {
	return strings.HasSuffix(method, ".list") || strings.HasSuffix(method, ".get")
}

// Stats returns a snapshot of the request counters.
func (c *Client) Stats() stats.Snapshot {
	return c.stats.Snapshot()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
