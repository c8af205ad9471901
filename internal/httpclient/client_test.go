package httpclient_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/tag-sync/internal/httpclient"
)

// newTestServer creates a new test server with keep-alives disabled.
// This prevents flaky tests when running in parallel, as closing a server
// with keep-alives enabled can affect other tests sharing the HTTP transport.
func newTestServer(handler http.Handler) *httptest.Server {
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	return server
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// flakyTransport fails the first failures calls with a transport error and
// answers 200 afterwards.
func flakyTransport(failures int32, calls *atomic.Int32) http.RoundTripper {
	return roundTripFunc(func(r *http.Request) (*http.Response, error) {
		n := calls.Add(1)
		if n <= failures {
			return nil, errors.New("dial tcp: connection refused")
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Status:     "200 OK",
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader(`{"ok":true}`)),
			Request:    r,
		}, nil
	})
}

func TestNewDefaultClient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		timeout time.Duration
	}{
		{name: "create client with custom timeout", timeout: 5 * time.Second},
		{name: "create client with zero timeout uses default", timeout: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := httpclient.NewDefaultClient(tt.timeout)
			require.NotNil(t, client, "client should not be nil")
		})
	}
}

func TestDefaultClient_Do_Success(t *testing.T) {
	t.Parallel()

	var receivedUserAgent, receivedAccept, receivedAuth, receivedMethod string
	var receivedBody []byte

	mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedUserAgent = r.Header.Get("User-Agent")
		receivedAccept = r.Header.Get("Accept")
		receivedAuth = r.Header.Get("Authorization")
		receivedMethod = r.Method
		receivedBody, _ = io.ReadAll(r.Body)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 1}`))
	}))
	defer mockServer.Close()

	client := httpclient.NewDefaultClient(5 * time.Second)
	resp, err := client.Do(context.Background(), http.MethodPost, mockServer.URL, httpclient.RequestOptions{
		Headers: http.Header{"Authorization": []string{"Bearer key"}},
		Body:    []byte(`{"content":"v1"}`),
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []byte(`{"id": 1}`), resp.Body)
	assert.Equal(t, http.MethodPost, receivedMethod)
	assert.Equal(t, "Bearer key", receivedAuth)
	assert.Equal(t, `{"content":"v1"}`, string(receivedBody))
	assert.True(t, strings.HasPrefix(receivedUserAgent, "tag-sync/"), "User-Agent header should be set correctly")
	assert.Equal(t, "application/json", receivedAccept, "Accept header should be set correctly")
}

func TestDefaultClient_Do_DefaultsToGet(t *testing.T) {
	t.Parallel()

	var method string
	mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer mockServer.Close()

	_, err := httpclient.NewDefaultClient(0).Do(context.Background(), "", mockServer.URL, httpclient.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, method)
}

func TestDefaultClient_Do_StatusCodesAreNotErrors(t *testing.T) {
	t.Parallel()

	statuses := []int{
		http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusNotFound,
		http.StatusInternalServerError,
		http.StatusServiceUnavailable,
	}

	for _, status := range statuses {
		t.Run(http.StatusText(status), func(t *testing.T) {
			t.Parallel()

			var hits atomic.Int32
			mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				w.WriteHeader(status)
			}))
			defer mockServer.Close()

			client := httpclient.NewDefaultClient(5*time.Second, httpclient.WithRetryDelay(0))
			resp, err := client.Do(context.Background(), http.MethodGet, mockServer.URL, httpclient.RequestOptions{})

			require.NoError(t, err)
			assert.Equal(t, status, resp.StatusCode)
			assert.Equal(t, int32(1), hits.Load(), "non-2xx responses must not be retried")
		})
	}
}

func TestDefaultClient_Do_Retry(t *testing.T) {
	t.Parallel()

	t.Run("transport failure then success returns the response", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		client := httpclient.NewDefaultClient(time.Second,
			httpclient.WithRetryDelay(0),
			httpclient.WithHTTPClient(&http.Client{Transport: flakyTransport(1, &calls)}),
		)

		resp, err := client.Do(context.Background(), http.MethodGet, "http://posthog.invalid/api/user", httpclient.RequestOptions{})

		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("two transport failures return RequestFailedError", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		client := httpclient.NewDefaultClient(time.Second,
			httpclient.WithRetryDelay(0),
			httpclient.WithHTTPClient(&http.Client{Transport: flakyTransport(5, &calls)}),
		)

		_, err := client.Do(context.Background(), http.MethodPost, "http://posthog.invalid/api/annotation/", httpclient.RequestOptions{})

		require.Error(t, err)
		var reqErr *httpclient.RequestFailedError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, http.MethodPost, reqErr.Method)
		assert.Equal(t, "http://posthog.invalid/api/annotation/", reqErr.URL)
		assert.Contains(t, err.Error(), "POST request to http://posthog.invalid/api/annotation/ failed")
		assert.Equal(t, int32(httpclient.MaxAttempts), calls.Load(), "exactly one retry")
	})

	t.Run("malformed URL is not retried", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		client := httpclient.NewDefaultClient(time.Second,
			httpclient.WithRetryDelay(0),
			httpclient.WithHTTPClient(&http.Client{Transport: flakyTransport(0, &calls)}),
		)

		_, err := client.Do(context.Background(), http.MethodGet, "://invalid-url", httpclient.RequestOptions{})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create request")
		assert.Equal(t, int32(0), calls.Load())
	})
}

func TestDefaultClient_Do_ContextCancellation(t *testing.T) {
	t.Parallel()

	mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer mockServer.Close()

	client := httpclient.NewDefaultClient(30*time.Second, httpclient.WithRetryDelay(0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := client.Do(ctx, http.MethodGet, mockServer.URL, httpclient.RequestOptions{})
	require.Error(t, err)
}
