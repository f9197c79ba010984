// Package httpclient provides an HTTP client with bounded retries for
// upstream APIs that rate-limit or fail transiently.
package httpclient

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"
)

// RetryClass describes how a response status should be retried.
type RetryClass int

const (
	// NoRetry returns the response immediately.
	NoRetry RetryClass = iota
	// BackoffRetry retries with exponential backoff and jitter.
	BackoffRetry
	// HeaderRetry honors the server's Retry-After header, falling back
	// to exponential backoff when absent.
	HeaderRetry
)

// ClassifyFunc maps a status code to a retry class.
type ClassifyFunc func(statusCode int) RetryClass

// DefaultClassify retries rate limits and transient server errors only.
func DefaultClassify(statusCode int) RetryClass {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return HeaderRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return BackoffRetry
	default:
		return NoRetry
	}
}

type Client struct {
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	classify   ClassifyFunc
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

func WithMaxRetries(max int) Option {
	return func(c *Client) { c.maxRetries = max }
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) { c.baseDelay = delay }
}

func WithClassifier(fn ClassifyFunc) Option {
	return func(c *Client) { c.classify = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(opts ...Option) *Client {
	c := &Client{
		client:     &http.Client{Timeout: 60 * time.Second},
		maxRetries: 3,
		baseDelay:  time.Second,
		classify:   DefaultClassify,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes the request, retrying per the classifier. The request body
// must be replayable (GetBody set) for retries to work; http.NewRequest
// sets it for the common body types.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	var lastStatus int

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("recreating request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err != nil {
			// Transport errors are not retried here; the request context
			// owns timeouts and cancellation.
			return nil, err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		class := c.classify(resp.StatusCode)
		if class == NoRetry {
			return resp, nil
		}
		if attempt == c.maxRetries {
			resp.Body.Close()
			return nil, &RetryExhaustedError{
				StatusCode: resp.StatusCode,
				Attempts:   attempt + 1,
			}
		}

		delay := c.delayFor(class, attempt, resp.Header)
		lastStatus = resp.StatusCode
		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		resp.Body.Close()

		c.logger.Warn("retrying upstream request",
			"status", lastStatus,
			"attempt", attempt+1,
			"max_attempts", c.maxRetries+1,
			"delay", delay)

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(delay):
		}
	}

	return nil, &RetryExhaustedError{
		StatusCode: lastStatus,
		Attempts:   c.maxRetries + 1,
		Err:        lastErr,
	}
}

func (c *Client) delayFor(class RetryClass, attempt int, headers http.Header) time.Duration {
	if class == HeaderRetry {
		if after := parseRetryAfter(headers); after > 0 {
			return after
		}
	}
	exponential := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
	jitter := time.Duration(float64(exponential) * 0.1)
	return exponential + jitter
}

// parseRetryAfter reads the Retry-After header as delay-seconds.
// HTTP-date values are ignored; backoff covers that case.
func parseRetryAfter(headers http.Header) time.Duration {
	v := headers.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
