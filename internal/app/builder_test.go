package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/tag-sync/internal/config"
)

func createValidTestConfig() *config.Config {
	return &config.Config{
		PostHogAPIKey:      "phx_test",
		PostHogHost:        "app.posthog.com",
		BitbucketHost:      "bitbucket.org",
		BitbucketWorkspace: "acme",
		RepoName:           "web",
	}
}

func TestBaseConfig_Defaults(t *testing.T) {
	t.Parallel()

	built, err := baseConfig(WithConfig(createValidTestConfig()))
	require.NoError(t, err)
	require.NotNil(t, built)

	assert.Empty(t, built.address, "the HTTP server is opt-in")
	assert.Equal(t, defaultRequestTimeout, built.requestTimeout)
	assert.Equal(t, defaultShutdownTimeout, built.shutdownTimeout)
}

func TestBaseConfig_RequiresConfig(t *testing.T) {
	t.Parallel()

	built, err := baseConfig()
	require.Error(t, err)
	assert.Nil(t, built)
}

func TestWithAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "port only", address: ":9090"},
		{name: "localhost", address: "localhost:8080"},
		{name: "ipv4", address: "127.0.0.1:8080"},
		{name: "empty", address: "", wantErr: true},
		{name: "missing port", address: ":", wantErr: true},
		{name: "no colon", address: "8080", wantErr: true},
		{name: "port out of range", address: ":99999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			built, err := baseConfig(WithConfig(createValidTestConfig()), WithAddress(tt.address))
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, built)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.address, built.address)
		})
	}
}

func TestWithShutdownTimeout(t *testing.T) {
	t.Parallel()

	built, err := baseConfig(WithConfig(createValidTestConfig()), WithShutdownTimeout(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, built.shutdownTimeout)

	_, err = baseConfig(WithConfig(createValidTestConfig()), WithShutdownTimeout(0))
	require.Error(t, err)
}

func TestBuildHTTPClient(t *testing.T) {
	t.Parallel()

	built, err := baseConfig(WithConfig(createValidTestConfig()))
	require.NoError(t, err)

	client, err := buildHTTPClient(built)
	require.NoError(t, err)
	assert.NotNil(t, client)
}
