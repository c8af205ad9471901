package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/posthog/posthog-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/tag-sync/internal/telemetry/mocks"
)

type fakeEnqueuer struct {
	messages []posthog.Message
	err      error
	closed   bool
}

func (f *fakeEnqueuer) Enqueue(msg posthog.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeEnqueuer) Close() error {
	f.closed = true
	return nil
}

func TestPostHogSink_Capture(t *testing.T) {
	t.Parallel()

	t.Run("enqueues capture with properties", func(t *testing.T) {
		t.Parallel()

		client := &fakeEnqueuer{}
		sink := newPostHogSink(client, "tag-sync")

		err := sink.Capture(context.Background(), EventCreatedTagAnnotation, map[string]any{"tag": "v1.2.0"})
		require.NoError(t, err)

		require.Len(t, client.messages, 1)
		capture, ok := client.messages[0].(posthog.Capture)
		require.True(t, ok)
		assert.Equal(t, "tag-sync", capture.DistinctId)
		assert.Equal(t, EventCreatedTagAnnotation, capture.Event)
		assert.Equal(t, "v1.2.0", capture.Properties["tag"])

		require.NoError(t, sink.Close())
		assert.True(t, client.closed)
	})

	t.Run("wraps enqueue errors", func(t *testing.T) {
		t.Parallel()

		client := &fakeEnqueuer{err: errors.New("queue full")}
		sink := newPostHogSink(client, "tag-sync")

		err := sink.Capture(context.Background(), EventCreatedTagAnnotation, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "queue full")
		assert.Contains(t, err.Error(), EventCreatedTagAnnotation)
	})
}

func TestNewPostHogSink_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := NewPostHogSink("", "https://app.posthog.com", "tag-sync")
	require.Error(t, err)
}

func TestMetricsSink_Capture(t *testing.T) {
	t.Parallel()

	t.Run("counts events by name", func(t *testing.T) {
		t.Parallel()

		reader := sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer func() { _ = mp.Shutdown(context.Background()) }()

		sink, err := NewMetricsSink(mp)
		require.NoError(t, err)

		ctx := context.Background()
		require.NoError(t, sink.Capture(ctx, EventCreatedTagAnnotation, map[string]any{"tag": "v1"}))
		require.NoError(t, sink.Capture(ctx, EventCreatedTagAnnotation, map[string]any{"tag": "v2"}))

		m, ok := collectMetric(t, reader, "tag_sync_events_total")
		require.True(t, ok)
		sum, ok := m.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		require.Len(t, sum.DataPoints, 1)
		assert.Equal(t, int64(2), sum.DataPoints[0].Value)

		event, _ := sum.DataPoints[0].Attributes.Value("event")
		assert.Equal(t, EventCreatedTagAnnotation, event.AsString())
	})

	t.Run("discards events without provider", func(t *testing.T) {
		t.Parallel()

		sink, err := NewMetricsSink(nil)
		require.NoError(t, err)
		assert.NoError(t, sink.Capture(context.Background(), "anything", nil))
	})
}

func TestMultiSink_Capture(t *testing.T) {
	t.Parallel()

	t.Run("delivers to every sink", func(t *testing.T) {
		t.Parallel()

		ctrl := gomock.NewController(t)
		first := mocks.NewMockSink(ctrl)
		second := mocks.NewMockSink(ctrl)

		props := map[string]any{"tag": "v1.0.0"}
		first.EXPECT().Capture(gomock.Any(), EventCreatedTagAnnotation, props).Return(nil)
		second.EXPECT().Capture(gomock.Any(), EventCreatedTagAnnotation, props).Return(nil)

		sink := MultiSink{first, nil, second}
		require.NoError(t, sink.Capture(context.Background(), EventCreatedTagAnnotation, props))
	})

	t.Run("continues after a failing sink", func(t *testing.T) {
		t.Parallel()

		ctrl := gomock.NewController(t)
		failing := mocks.NewMockSink(ctrl)
		healthy := mocks.NewMockSink(ctrl)

		failing.EXPECT().Capture(gomock.Any(), "evt", gomock.Any()).Return(errors.New("boom"))
		healthy.EXPECT().Capture(gomock.Any(), "evt", gomock.Any()).Return(nil)

		err := MultiSink{failing, healthy}.Capture(context.Background(), "evt", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})
}

func TestLogSink_Capture(t *testing.T) {
	t.Parallel()

	assert.NoError(t, LogSink{}.Capture(context.Background(), "evt", map[string]any{"tag": "v1"}))
}
