// Package httpclient provides the HTTP fetcher used to talk to PostHog and Bitbucket.
//
// Transport failures are retried exactly once. Responses with non-2xx status
// codes are handed back untouched; deciding what a status means is left to
// the caller.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/tag-sync/internal/versions"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 30 * time.Second

	// DefaultRetryDelay is the pause between the first attempt and the retry
	DefaultRetryDelay = 500 * time.Millisecond

	// MaxAttempts is the total number of attempts made for one request
	MaxAttempts = 2

	// MaxResponseSize is the maximum allowed response size (100MB)
	MaxResponseSize = 100 * 1024 * 1024

	maxErrorBodyLength = 512
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client

// Client is an interface for HTTP operations
type Client interface {
	// Do performs the request and returns the fully read response.
	// An empty method means GET.
	Do(ctx context.Context, method, url string, opts RequestOptions) (*Response, error)
}

// Option configures a DefaultClient
type Option func(*DefaultClient)

// WithRetryDelay sets the delay before the retry attempt
func WithRetryDelay(delay time.Duration) Option {
	return func(c *DefaultClient) {
		c.retryDelay = delay
	}
}

// WithHTTPClient replaces the underlying *http.Client
func WithHTTPClient(client *http.Client) Option {
	return func(c *DefaultClient) {
		c.client = client
	}
}

// DefaultClient is the default HTTP client implementation
type DefaultClient struct {
	client     *http.Client
	retryDelay time.Duration
	userAgent  string
}

// NewDefaultClient creates a new default HTTP client with the specified timeout
// If timeout is 0, uses DefaultTimeout
func NewDefaultClient(timeout time.Duration, opts ...Option) *DefaultClient {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	c := &DefaultClient{
		client: &http.Client{
			Timeout: timeout,
		},
		retryDelay: DefaultRetryDelay,
		userAgent:  "tag-sync/" + versions.GetVersionInfo().Version,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do performs an HTTP request, retrying once on transport failure
func (c *DefaultClient) Do(ctx context.Context, method, url string, opts RequestOptions) (*Response, error) {
	if method == "" {
		method = http.MethodGet
	}

	attempt := 0
	operation := func() (*Response, error) {
		attempt++
		resp, err := c.doOnce(ctx, method, url, opts)
		if err != nil {
			var buildErr *requestBuildError
			if errors.As(err, &buildErr) {
				return nil, backoff.Permanent(err)
			}
			if attempt < MaxAttempts {
				slog.Debug("Request failed, retrying",
					"method", method,
					"url", url,
					"error", err)
			}
			return nil, err
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.retryDelay)),
		backoff.WithMaxTries(MaxAttempts),
	)
	if err != nil {
		return nil, &RequestFailedError{Method: method, URL: url, Cause: err}
	}
	return resp, nil
}

type requestBuildError struct {
	err error
}

func (e *requestBuildError) Error() string {
	return fmt.Sprintf("failed to create request: %v", e.err)
}

func (e *requestBuildError) Unwrap() error {
	return e.err
}

func (c *DefaultClient) doOnce(ctx context.Context, method, url string, opts RequestOptions) (*Response, error) {
	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &requestBuildError{err: err}
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	for name, values := range opts.Headers {
		req.Header.Del(name)
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Use LimitReader to prevent reading more than MaxResponseSize
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize+1)
	data, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > MaxResponseSize {
		return nil, backoff.Permanent(fmt.Errorf("response size exceeds maximum allowed size of %d bytes",
			MaxResponseSize))
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       data,
	}, nil
}
