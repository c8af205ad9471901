// Package bitbucket reads repository metadata and tags from the Bitbucket Cloud 2.0 API.
package bitbucket

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/stacklok/tag-sync/internal/httpclient"
)

const tagsPath = "/refs/tags"

// Tag is a repository tag. Date is the raw timestamp string Bitbucket returns.
type Tag struct {
	Name string
	Date string
}

// Client issues the Bitbucket requests tag-sync needs for one repository
type Client struct {
	http    httpclient.Client
	repoURL string
	headers http.Header
}

// NewClient creates a client for the repository whose API base is repoURL,
// e.g. https://api.bitbucket.org/2.0/repositories/{workspace}/{repo}.
// headers may be empty for public repositories.
func NewClient(client httpclient.Client, repoURL string, headers http.Header) *Client {
	return &Client{
		http:    client,
		repoURL: repoURL,
		headers: headers.Clone(),
	}
}

// RepositoryURL returns the repository API base URL
func (c *Client) RepositoryURL() string {
	return c.repoURL
}

// TagsURL returns the tag listing endpoint
func (c *Client) TagsURL() string {
	return c.repoURL + tagsPath
}

// Repository fetches the repository resource. The response is returned whatever
// its status; a 200 means the workspace, repository and credentials are valid.
func (c *Client) Repository(ctx context.Context) (*httpclient.Response, error) {
	return c.http.Do(ctx, http.MethodGet, c.repoURL, httpclient.RequestOptions{
		Headers: c.headers.Clone(),
	})
}

// ListTags fetches the first page of repository tags
func (c *Client) ListTags(ctx context.Context) ([]Tag, error) {
	url := c.TagsURL()

	resp, err := c.http.Do(ctx, http.MethodGet, url, httpclient.RequestOptions{
		Headers: c.headers.Clone(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to list tags: %w", resp.AsError(url))
	}

	return ParseTags(resp.Body)
}

// ParseTags extracts tags from a refs/tags response body. The tag date is read
// from "date" and falls back to "target.date", the two shapes Bitbucket has used.
// Entries without a name are dropped.
func ParseTags(body []byte) ([]Tag, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("failed to parse tags: invalid JSON")
	}

	values := gjson.GetBytes(body, "values")
	if values.Exists() && !values.IsArray() {
		return nil, fmt.Errorf("failed to parse tags: values is not an array")
	}

	tags := make([]Tag, 0, len(values.Array()))
	values.ForEach(func(_, value gjson.Result) bool {
		name := value.Get("name").String()
		if name == "" {
			return true
		}
		tags = append(tags, Tag{Name: name, Date: tagDate(value)})
		return true
	})

	return tags, nil
}

func tagDate(value gjson.Result) string {
	if date := value.Get("date"); date.Type == gjson.String && date.String() != "" {
		return date.String()
	}
	return value.Get("target.date").String()
}
