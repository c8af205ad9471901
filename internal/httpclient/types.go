package httpclient

import (
	"fmt"
	"net/http"
)

// HTTPError represents an HTTP response that a caller rejected because of its status
type HTTPError struct {
	StatusCode int
	Message    string
	URL        string
}

// Error returns the error message
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(statusCode int, url, message string) error {
	return &HTTPError{
		StatusCode: statusCode,
		URL:        url,
		Message:    message,
	}
}

// RequestFailedError is returned when a request could not be completed at the
// transport level, after the retry has been used up.
type RequestFailedError struct {
	Method string
	URL    string
	Cause  error
}

// Error returns the error message
func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("%s request to %s failed: %v", e.Method, e.URL, e.Cause)
}

// Unwrap returns the underlying transport error
func (e *RequestFailedError) Unwrap() error {
	return e.Cause
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// IsSuccess reports whether the status code is in the 2xx range
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// AsError converts the response into an HTTPError carrying a trimmed body
func (r *Response) AsError(url string) error {
	msg := string(r.Body)
	if len(msg) > maxErrorBodyLength {
		msg = msg[:maxErrorBodyLength] + "..."
	}
	if msg == "" {
		msg = r.Status
	}
	return NewHTTPError(r.StatusCode, url, msg)
}

// RequestOptions carries the per-request headers and optional body.
type RequestOptions struct {
	Headers http.Header
	Body    []byte
}
