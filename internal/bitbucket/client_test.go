package bitbucket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/tag-sync/internal/httpclient"
)

const repoPath = "/api/2.0/repositories/acme/web"

func TestParseTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		expected []Tag
		wantErr  bool
	}{
		{
			name: "direct date field",
			body: `{"values":[{"name":"v1.0","date":"2023-01-01T00:00:00+00:00"}]}`,
			expected: []Tag{
				{Name: "v1.0", Date: "2023-01-01T00:00:00+00:00"},
			},
		},
		{
			name: "nested target date",
			body: `{"values":[{"name":"v1.1","target":{"hash":"abc","date":"2023-02-01T10:00:00+00:00"}}]}`,
			expected: []Tag{
				{Name: "v1.1", Date: "2023-02-01T10:00:00+00:00"},
			},
		},
		{
			name: "both shapes in one page",
			body: `{"values":[
				{"name":"v1.0","date":"2023-01-01"},
				{"name":"v1.1","date":null,"target":{"date":"2023-02-01"}},
				{"name":"v1.2","date":"2023-03-01","target":{"date":"2000-01-01"}}
			]}`,
			expected: []Tag{
				{Name: "v1.0", Date: "2023-01-01"},
				{Name: "v1.1", Date: "2023-02-01"},
				{Name: "v1.2", Date: "2023-03-01"},
			},
		},
		{
			name: "missing date",
			body: `{"values":[{"name":"v0.1"}]}`,
			expected: []Tag{
				{Name: "v0.1", Date: ""},
			},
		},
		{
			name: "nameless entries are dropped",
			body: `{"values":[{"date":"2023-01-01"},{"name":"v1"}]}`,
			expected: []Tag{
				{Name: "v1"},
			},
		},
		{
			name:     "empty page",
			body:     `{"values":[],"pagelen":10}`,
			expected: []Tag{},
		},
		{
			name:     "no values key",
			body:     `{}`,
			expected: []Tag{},
		},
		{
			name:    "invalid JSON",
			body:    `{"values":[`,
			wantErr: true,
		},
		{
			name:    "values not an array",
			body:    `{"values":{"name":"v1"}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tags, err := ParseTags([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, tags)
		})
	}
}

func TestClient_ListTags(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, repoPath+tagsPath, r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "bot", user)
		assert.Equal(t, "app-password", pass)
		_, _ = w.Write([]byte(`{"values":[{"name":"v1.0","target":{"date":"2023-01-01"}}]}`))
	}))
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("bot", "app-password")
	headers := http.Header{"Authorization": req.Header.Values("Authorization")}

	client := NewClient(httpclient.NewDefaultClient(0), server.URL+repoPath, headers)
	tags, err := client.ListTags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Tag{{Name: "v1.0", Date: "2023-01-01"}}, tags)
}

func TestClient_ListTags_UnexpectedStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"type":"error","error":{"message":"Repository not found"}}`))
	}))
	defer server.Close()

	client := NewClient(httpclient.NewDefaultClient(0), server.URL+repoPath, nil)
	_, err := client.ListTags(context.Background())
	require.Error(t, err)

	var httpErr *httpclient.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Contains(t, httpErr.Message, "Repository not found")
}

func TestClient_Repository(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, repoPath, r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"), "public repositories send no credentials")
		_, _ = w.Write([]byte(`{"full_name":"acme/web"}`))
	}))
	defer server.Close()

	client := NewClient(httpclient.NewDefaultClient(0), server.URL+repoPath, http.Header{})
	resp, err := client.Repository(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, server.URL+repoPath, client.RepositoryURL())
	assert.Equal(t, server.URL+repoPath+"/refs/tags", client.TagsURL())
}
