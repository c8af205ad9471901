// Package posthog talks to the PostHog annotations API.
package posthog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/stacklok/tag-sync/internal/httpclient"
)

const (
	// ScopeOrganization makes an annotation visible across every project of the organization
	ScopeOrganization = "organization"

	userPath       = "/api/user"
	annotationPath = "/api/annotation/"
)

// Annotation is the body sent when creating an annotation
type Annotation struct {
	Content    string `json:"content"`
	Scope      string `json:"scope"`
	DateMarker string `json:"date_marker"`
}

// Client issues the PostHog requests tag-sync needs
type Client struct {
	http    httpclient.Client
	baseURL string
	headers http.Header
}

// NewClient creates a client for the PostHog instance at baseURL.
// headers are sent with every request and must carry the Bearer token.
func NewClient(client httpclient.Client, baseURL string, headers http.Header) *Client {
	return &Client{
		http:    client,
		baseURL: baseURL,
		headers: headers.Clone(),
	}
}

// BaseURL returns the PostHog base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// UserURL returns the current-user endpoint used to check the API key
func (c *Client) UserURL() string {
	return c.baseURL + userPath
}

// AnnotationsURL returns the annotation collection endpoint
func (c *Client) AnnotationsURL() string {
	return c.baseURL + annotationPath
}

// CurrentUser fetches the user owning the API key. The response is returned
// whatever its status; a 200 means the key is valid.
func (c *Client) CurrentUser(ctx context.Context) (*httpclient.Response, error) {
	return c.http.Do(ctx, http.MethodGet, c.UserURL(), httpclient.RequestOptions{
		Headers: c.headers.Clone(),
	})
}

// ListAnnotationContents returns the content of every organization-scoped,
// non-deleted annotation, following the next cursor until it is null.
// pages is the number of pages fetched.
func (c *Client) ListAnnotationContents(ctx context.Context) (contents map[string]struct{}, pages int, err error) {
	contents = make(map[string]struct{})
	visited := make(map[string]struct{})

	next := c.AnnotationsURL() + "?scope=" + ScopeOrganization + "&deleted=false"
	for next != "" {
		if _, ok := visited[next]; ok {
			return nil, pages, fmt.Errorf("annotation pagination loops back to %s", next)
		}
		visited[next] = struct{}{}

		resp, err := c.http.Do(ctx, http.MethodGet, next, httpclient.RequestOptions{
			Headers: c.headers.Clone(),
		})
		if err != nil {
			return nil, pages, fmt.Errorf("failed to list annotations: %w", err)
		}
		if !resp.IsSuccess() {
			return nil, pages, fmt.Errorf("failed to list annotations: %w", resp.AsError(next))
		}
		if !gjson.ValidBytes(resp.Body) {
			return nil, pages, fmt.Errorf("failed to list annotations: invalid JSON from %s", next)
		}
		results := gjson.GetBytes(resp.Body, "results")
		if !results.IsArray() {
			return nil, pages, fmt.Errorf("failed to list annotations: missing results array in response from %s", next)
		}
		pages++

		for _, content := range results.Get("#.content").Array() {
			if content.Type == gjson.String {
				contents[content.String()] = struct{}{}
			}
		}

		next, err = resolveNext(next, gjson.GetBytes(resp.Body, "next"))
		if err != nil {
			return nil, pages, err
		}
	}

	return contents, pages, nil
}

// resolveNext turns the next cursor into an absolute URL, or "" when the
// cursor is null or missing.
func resolveNext(current string, cursor gjson.Result) (string, error) {
	if cursor.Type != gjson.String || cursor.String() == "" {
		return "", nil
	}

	base, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("invalid annotation page URL %s: %w", current, err)
	}
	ref, err := url.Parse(cursor.String())
	if err != nil {
		return "", fmt.Errorf("invalid next cursor %q: %w", cursor.String(), err)
	}
	return base.ResolveReference(ref).String(), nil
}

// CreateAnnotation posts an organization-scoped annotation. The response is
// returned whatever its status; PostHog answers 201 on success.
func (c *Client) CreateAnnotation(ctx context.Context, content, dateMarker string) (*httpclient.Response, error) {
	if content == "" {
		return nil, errors.New("annotation content is required")
	}

	body, err := json.Marshal(Annotation{
		Content:    content,
		Scope:      ScopeOrganization,
		DateMarker: dateMarker,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal annotation: %w", err)
	}

	headers := c.headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	headers.Set("Content-Type", "application/json")

	return c.http.Do(ctx, http.MethodPost, c.AnnotationsURL(), httpclient.RequestOptions{
		Headers: headers,
		Body:    body,
	})
}
