// Package session derives the connection settings for PostHog and Bitbucket
// from configuration and verifies both before any reconciliation starts.
package session

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/stacklok/tag-sync/internal/bitbucket"
	"github.com/stacklok/tag-sync/internal/config"
	"github.com/stacklok/tag-sync/internal/httpclient"
	"github.com/stacklok/tag-sync/internal/posthog"
)

// Session is the immutable connection state shared by every pass.
// Header accessors return copies.
type Session struct {
	posthogURL       string
	posthogHeaders   http.Header
	repositoryURL    string
	bitbucketHeaders http.Header
	repository       string

	posthog   *posthog.Client
	bitbucket *bitbucket.Client
}

// New builds the session and probes both APIs. Every error is a *Error.
func New(ctx context.Context, cfg *config.Config, client httpclient.Client) (*Session, error) {
	s, err := Build(cfg, client)
	if err != nil {
		return nil, err
	}
	if err := s.Probe(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Build derives the session from cfg without making any request
func Build(cfg *config.Config, client httpclient.Client) (*Session, error) {
	hasUser := cfg.BitbucketUsername != ""
	hasToken := cfg.BitbucketToken != ""
	if hasUser != hasToken {
		return nil, newError(KindInvalidCredentials, nil,
			"bitbucketUsername and bitbucketToken must be set together")
	}

	bitbucketHeaders := http.Header{}
	if hasUser && hasToken {
		bitbucketHeaders.Set("Authorization", BasicAuth(cfg.BitbucketUsername, cfg.BitbucketToken))
	}

	posthogHeaders := http.Header{}
	posthogHeaders.Set("Authorization", "Bearer "+cfg.PostHogAPIKey)

	posthogURL := BaseURL(cfg.PostHogHost)
	repositoryURL := RepositoryURL(BaseURL(cfg.BitbucketHost), cfg.BitbucketWorkspace, cfg.RepoName)

	return &Session{
		posthogURL:       posthogURL,
		posthogHeaders:   posthogHeaders,
		repositoryURL:    repositoryURL,
		bitbucketHeaders: bitbucketHeaders,
		repository:       cfg.BitbucketWorkspace + "/" + cfg.RepoName,
		posthog:          posthog.NewClient(client, posthogURL, posthogHeaders),
		bitbucket:        bitbucket.NewClient(client, repositoryURL, bitbucketHeaders),
	}, nil
}

// Probe checks that PostHog accepts the API key and that Bitbucket returns the repository
func (s *Session) Probe(ctx context.Context) error {
	resp, err := s.posthog.CurrentUser(ctx)
	if err != nil {
		return newError(KindAPIUnreachable, err, "PostHog at %s", s.posthogURL)
	}
	if resp.StatusCode != http.StatusOK {
		return newError(KindInvalidAPIKey, resp.AsError(s.posthog.UserURL()),
			"PostHog rejected the API key")
	}
	slog.InfoContext(ctx, "PostHog API key verified", "host", s.posthogURL)

	resp, err = s.bitbucket.Repository(ctx)
	if err != nil {
		return newError(KindAPIUnreachable, err, "Bitbucket at %s", s.repositoryURL)
	}
	if resp.StatusCode != http.StatusOK {
		return newError(KindInvalidRepoConfig, resp.AsError(s.repositoryURL),
			"repository %s is not accessible", s.repository)
	}
	slog.InfoContext(ctx, "Bitbucket repository verified",
		"repository", s.repository,
		"authenticated", len(s.bitbucketHeaders) > 0)

	return nil
}

// PostHog returns the PostHog API client bound to this session
func (s *Session) PostHog() *posthog.Client {
	return s.posthog
}

// Bitbucket returns the Bitbucket API client bound to this session
func (s *Session) Bitbucket() *bitbucket.Client {
	return s.bitbucket
}

// PostHogURL returns the PostHog base URL
func (s *Session) PostHogURL() string {
	return s.posthogURL
}

// PostHogHeaders returns a copy of the PostHog auth headers
func (s *Session) PostHogHeaders() http.Header {
	return s.posthogHeaders.Clone()
}

// RepositoryURL returns the Bitbucket repository API base URL
func (s *Session) RepositoryURL() string {
	return s.repositoryURL
}

// BitbucketHeaders returns a copy of the Bitbucket auth headers, empty for public repositories
func (s *Session) BitbucketHeaders() http.Header {
	return s.bitbucketHeaders.Clone()
}

// Repository returns the "workspace/repo" identifier
func (s *Session) Repository() string {
	return s.repository
}

// NormalizeHost strips a single trailing slash
func NormalizeHost(host string) string {
	return strings.TrimSuffix(host, "/")
}

// BaseURL normalizes host and prefixes https:// unless it already names a scheme
func BaseURL(host string) string {
	host = NormalizeHost(host)
	if strings.Contains(host, "http") {
		return host
	}
	return "https://" + host
}

// RepositoryURL composes the Bitbucket 2.0 repository endpoint under base
func RepositoryURL(base, workspace, repo string) string {
	return base + "/api/2.0/repositories/" + url.PathEscape(workspace) + "/" + url.PathEscape(repo)
}

// BasicAuth returns the Authorization value for username and token
func BasicAuth(username, token string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+token))
}
