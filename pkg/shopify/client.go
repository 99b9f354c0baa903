package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
	"github.com/adk-sentryskin/shopify-sync/prometheus"
)

// Credentials address one tenant's shop with its plaintext access token.
type Credentials struct {
	ShopDomain  string
	AccessToken string
}

// Options tune the Admin API client
type Options struct {
	APIKey     string
	APISecret  string
	APIVersion string
	Scopes     string
	Timeout    time.Duration
	PageSize   int
	PageDelay  time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Client talks to the Shopify Admin REST API on behalf of any tenant
type Client struct {
	opts       Options
	httpClient *http.Client
	baseURL    func(shop string) string
	logger     *zap.Logger
	metrics    *prometheus.Metrics
}

// Option customizes a Client
type Option func(*Client)

// WithBaseURL routes every shop to the same origin (test servers, proxies).
func WithBaseURL(origin string) Option {
	origin = strings.TrimRight(origin, "/")
	return func(c *Client) {
		c.baseURL = func(string) string { return origin }
	}
}

// NewClient creates a client. Zero options fall back to the platform defaults.
func NewClient(opts Options, logger *zap.Logger, metrics *prometheus.Metrics, extra ...Option) *Client {
	if opts.APIVersion == "" {
		opts.APIVersion = "2024-01"
	}
	if opts.PageSize <= 0 || opts.PageSize > 250 {
		opts.PageSize = 250
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 10 * time.Second
	}

	c := &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		baseURL:    func(shop string) string { return "https://" + shop },
		logger:     logger,
		metrics:    metrics,
	}
	for _, o := range extra {
		o(c)
	}
	return c
}

func (c *Client) adminURL(shop, path string) string {
	return c.baseURL(shop) + "/admin/api/" + c.opts.APIVersion + path
}

// doJSON performs an authenticated Admin API call, retrying 429 and 5xx.
func (c *Client) doJSON(ctx context.Context, operation, method, url, token string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", operation, err)
		}
	}

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return fmt.Errorf("%s: build request: %w", operation, err)
		}
		req.Header.Set("X-Shopify-Access-Token", token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-ID", uuid.New().String())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.metrics.ObserveRemote(operation, "error", start)
			if ctx.Err() == nil && attempt < c.opts.MaxRetries {
				c.logger.Warn("Remote request failed, retrying",
					zap.String("operation", operation),
					zap.Int("attempt", attempt+1),
					zap.Error(err))
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("%s: %w: %w", operation, apperr.ErrRemoteUnavailable, err)
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		c.metrics.ObserveRemote(operation, strconv.Itoa(resp.StatusCode), start)
		if readErr != nil {
			return fmt.Errorf("%s: read body: %w: %w", operation, apperr.ErrRemoteUnavailable, readErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			if err := json.Unmarshal(payload, out); err != nil {
				return fmt.Errorf("%s: decode response: %w: %w", operation, apperr.ErrRemoteUnavailable, err)
			}
			return nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.opts.MaxRetries {
			c.logger.Warn("Remote request throttled or failed, retrying",
				zap.String("operation", operation),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1))
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		return &HTTPError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(payload),
		}
	}
}

// errorMessage extracts the "errors" member the Admin API uses for failures.
func errorMessage(payload []byte) string {
	var body struct {
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && len(body.Errors) > 0 {
		var s string
		if json.Unmarshal(body.Errors, &s) == nil {
			return s
		}
		return string(body.Errors)
	}
	msg := strings.TrimSpace(string(payload))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.opts.MaxDelay
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.opts.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

// parseRetryAfter reads the header as seconds, fractional seconds included
// (the Admin API sends "2.0").
func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.ParseFloat(header, 64); err == nil && seconds >= 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
