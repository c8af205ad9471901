package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/tag-sync/internal/config"
	"github.com/stacklok/tag-sync/internal/status"
	"github.com/stacklok/tag-sync/internal/sync"
	syncmocks "github.com/stacklok/tag-sync/internal/sync/mocks"
	"github.com/stacklok/tag-sync/internal/telemetry"
)

const testRepository = "acme/web"

func testConfig() *config.Config {
	return &config.Config{
		BitbucketWorkspace: "acme",
		RepoName:           "web",
	}
}

func TestGetSyncInterval(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		policy   config.SyncPolicyConfig
		expected time.Duration
	}{
		{
			name:     "empty interval returns default",
			policy:   config.SyncPolicyConfig{},
			expected: time.Minute,
		},
		{
			name:     "valid interval is parsed correctly",
			policy:   config.SyncPolicyConfig{Interval: "5m"},
			expected: 5 * time.Minute,
		},
		{
			name:     "invalid interval returns default",
			policy:   config.SyncPolicyConfig{Interval: "invalid"},
			expected: time.Minute,
		},
		{
			name:     "negative interval returns default",
			policy:   config.SyncPolicyConfig{Interval: "-1m"},
			expected: time.Minute,
		},
		{
			name:     "zero interval returns default",
			policy:   config.SyncPolicyConfig{Interval: "0s"},
			expected: time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			cfg.SyncPolicy = tt.policy
			assert.Equal(t, tt.expected, getSyncInterval(cfg))
		})
	}
}

func TestCoordinator_New(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	coordinator := New(syncmocks.NewMockRunner(ctrl), testConfig())

	require.NotNil(t, coordinator)
	got := coordinator.Status()
	assert.Equal(t, testRepository, got.Repository)
	assert.Equal(t, status.SyncPhasePending, got.Phase)
}

func TestCoordinator_Stop_BeforeStart(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	coordinator := New(syncmocks.NewMockRunner(ctrl), testConfig())

	// Stop should not panic if called before Start
	assert.NoError(t, coordinator.Stop())
}

func TestCoordinator_RunOnce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		result      *sync.Result
		err         error
		wantErr     bool
		wantPhase   status.SyncPhase
		wantOutcome string
	}{
		{
			name: "completed pass",
			result: &sync.Result{
				RunID:    "run-1",
				TagCount: 4,
				Created:  []string{"v1.1.0", "v1.2.0"},
				Failed:   []string{"v1.3.0"},
			},
			wantPhase:   status.SyncPhaseComplete,
			wantOutcome: telemetry.OutcomeSuccess,
		},
		{
			name:        "skipped pass",
			result:      &sync.Result{RunID: "run-2", Skipped: true},
			wantPhase:   status.SyncPhaseSkipped,
			wantOutcome: telemetry.OutcomeSkipped,
		},
		{
			name:        "failed pass",
			result:      &sync.Result{RunID: "run-3"},
			err:         errors.New("failed to fetch tags: HTTP 404"),
			wantErr:     true,
			wantPhase:   status.SyncPhaseFailed,
			wantOutcome: telemetry.OutcomeFailed,
		},
		{
			name:        "nil result",
			wantErr:     true,
			wantPhase:   status.SyncPhaseFailed,
			wantOutcome: telemetry.OutcomeFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			runner := syncmocks.NewMockRunner(ctrl)
			runner.EXPECT().Run(gomock.Any()).Return(tt.result, tt.err)

			reader := sdkmetric.NewManualReader()
			mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
			t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
			metrics, err := telemetry.NewSyncMetrics(mp)
			require.NoError(t, err)

			coordinator := New(runner, testConfig(), WithSyncMetrics(metrics))

			_, err = coordinator.RunOnce(context.Background())
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			got := coordinator.Status()
			assert.Equal(t, tt.wantPhase, got.Phase)
			assert.NotNil(t, got.LastAttempt)
			if tt.result != nil {
				assert.Equal(t, tt.result.RunID, got.LastRunID)
			}

			outcomes := passOutcomes(t, reader)
			assert.Equal(t, map[string]uint64{tt.wantOutcome: 1}, outcomes)
		})
	}
}

func TestCoordinator_RunOnce_UpdatesCounts(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	runner := syncmocks.NewMockRunner(ctrl)
	gomock.InOrder(
		runner.EXPECT().Run(gomock.Any()).Return(nil, errors.New("boom")),
		runner.EXPECT().Run(gomock.Any()).Return(nil, errors.New("boom")),
		runner.EXPECT().Run(gomock.Any()).Return(&sync.Result{
			TagCount: 3,
			Created:  []string{"v1.0.0"},
		}, nil),
	)

	tracker := status.NewTracker(testRepository)
	coordinator := New(runner, testConfig(), WithStatusTracker(tracker))

	_, _ = coordinator.RunOnce(context.Background())
	_, _ = coordinator.RunOnce(context.Background())
	assert.Equal(t, 2, tracker.Get().AttemptCount)
	assert.False(t, tracker.Get().Healthy())

	_, err := coordinator.RunOnce(context.Background())
	require.NoError(t, err)

	got := tracker.Get()
	assert.Equal(t, 0, got.AttemptCount)
	assert.Equal(t, 3, got.TagCount)
	assert.Equal(t, 1, got.CreatedCount)
	assert.NotNil(t, got.LastSyncTime)
	assert.True(t, got.Healthy())
}

func TestCoordinator_RunOnce_RecoversPanic(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	runner := syncmocks.NewMockRunner(ctrl)
	runner.EXPECT().Run(gomock.Any()).DoAndReturn(func(context.Context) (*sync.Result, error) {
		panic("nil tag list")
	})

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := telemetry.NewSyncMetrics(mp)
	require.NoError(t, err)

	coordinator := New(runner, testConfig(), WithSyncMetrics(metrics))

	var result *sync.Result
	require.NotPanics(t, func() {
		result, err = coordinator.RunOnce(context.Background())
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Nil(t, result)

	got := coordinator.Status()
	assert.Equal(t, status.SyncPhaseFailed, got.Phase)
	assert.Contains(t, got.Message, "nil tag list")
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, map[string]uint64{telemetry.OutcomeFailed: 1}, passOutcomes(t, reader))
}

func TestCoordinator_LoopSurvivesPanickingPass(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	runner := syncmocks.NewMockRunner(ctrl)

	calls := make(chan struct{}, 10)
	runner.EXPECT().Run(gomock.Any()).DoAndReturn(func(context.Context) (*sync.Result, error) {
		select {
		case calls <- struct{}{}:
		default:
		}
		panic("unexpected payload")
	}).MinTimes(2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coordinator := New(runner, testConfig(), WithInterval(10*time.Millisecond))
	done := make(chan error, 1)
	go func() {
		done <- coordinator.Start(ctx)
	}()

	for i := range 2 {
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatalf("pass %d did not run", i+1)
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop after context cancellation")
	}
}

func TestCoordinator_StartRunsImmediatelyAndStops(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	runner := syncmocks.NewMockRunner(ctrl)

	ran := make(chan struct{}, 1)
	runner.EXPECT().Run(gomock.Any()).DoAndReturn(func(context.Context) (*sync.Result, error) {
		select {
		case ran <- struct{}{}:
		default:
		}
		return &sync.Result{Skipped: true}, nil
	}).MinTimes(1)

	// A long interval proves the first pass does not wait for a tick
	coordinator := New(runner, testConfig(), WithInterval(time.Hour))

	errCh := make(chan error, 1)
	go func() {
		errCh <- coordinator.Start(context.Background())
	}()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not run the initial pass")
	}

	require.NoError(t, coordinator.Stop())
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop")
	}
}

func TestCoordinator_TicksAndSurvivesFailures(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	runner := syncmocks.NewMockRunner(ctrl)

	calls := make(chan struct{}, 10)
	runner.EXPECT().Run(gomock.Any()).DoAndReturn(func(context.Context) (*sync.Result, error) {
		select {
		case calls <- struct{}{}:
		default:
		}
		return nil, errors.New("bitbucket unavailable")
	}).MinTimes(3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coordinator := New(runner, testConfig(), WithInterval(10*time.Millisecond))
	done := make(chan error, 1)
	go func() {
		done <- coordinator.Start(ctx)
	}()

	for i := range 3 {
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatalf("pass %d did not run", i+1)
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop after context cancellation")
	}
}

func TestCoordinator_StartTwice(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	runner := syncmocks.NewMockRunner(ctrl)

	started := make(chan struct{})
	runner.EXPECT().Run(gomock.Any()).DoAndReturn(func(context.Context) (*sync.Result, error) {
		close(started)
		return &sync.Result{Skipped: true}, nil
	})

	coordinator := New(runner, testConfig(), WithInterval(time.Hour))
	go func() { _ = coordinator.Start(context.Background()) }()
	<-started

	err := coordinator.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	require.NoError(t, coordinator.Stop())
}

// passOutcomes returns the pass-duration histogram count per outcome label
func passOutcomes(t *testing.T, reader *sdkmetric.ManualReader) map[string]uint64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	outcomes := make(map[string]uint64)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "tag_sync_pass_duration_seconds" {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[float64])
			require.True(t, ok)
			for _, dp := range hist.DataPoints {
				outcome, _ := dp.Attributes.Value("outcome")
				outcomes[outcome.AsString()] += dp.Count
			}
		}
	}
	return outcomes
}
