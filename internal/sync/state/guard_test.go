package state

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/tag-sync/internal/sync/state/mocks"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGuard_Acquire(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1_700_000_000_000)

	tests := []struct {
		name         string
		stored       *string
		wantAcquired bool
	}{
		{
			name:         "first run acquires",
			wantAcquired: true,
		},
		{
			name:         "recent run is skipped",
			stored:       ptr(strconv.FormatInt(now.Add(-30*time.Minute).UnixMilli(), 10)),
			wantAcquired: false,
		},
		{
			name:         "run just inside the window is skipped",
			stored:       ptr(strconv.FormatInt(now.Add(-time.Hour+time.Millisecond).UnixMilli(), 10)),
			wantAcquired: false,
		},
		{
			name:         "run exactly one window ago acquires",
			stored:       ptr(strconv.FormatInt(now.Add(-time.Hour).UnixMilli(), 10)),
			wantAcquired: true,
		},
		{
			name:         "old run acquires",
			stored:       ptr(strconv.FormatInt(now.Add(-2*time.Hour).UnixMilli(), 10)),
			wantAcquired: true,
		},
		{
			name:         "unreadable value acquires",
			stored:       ptr("yesterday"),
			wantAcquired: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			store := NewMemoryStore()
			if tt.stored != nil {
				require.NoError(t, store.Set(ctx, LastRunKey, *tt.stored))
			}

			guard := NewGuard(store, time.Hour, WithClock(fixedClock(now)))
			lease, acquired, err := guard.Acquire(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAcquired, acquired)

			value, _, err := store.Get(ctx, LastRunKey)
			require.NoError(t, err)

			if tt.wantAcquired {
				require.NotNil(t, lease)
				assert.Equal(t, now, lease.StartedAt)
				assert.Equal(t, strconv.FormatInt(now.UnixMilli(), 10), value)
			} else {
				assert.Nil(t, lease)
				assert.Equal(t, *tt.stored, value, "skipped pass must not touch the guard")
			}
		})
	}
}

func TestGuard_Release(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1_700_000_000_000)

	t.Run("restores previous value", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		previous := strconv.FormatInt(now.Add(-2*time.Hour).UnixMilli(), 10)
		store := NewMemoryStore()
		require.NoError(t, store.Set(ctx, LastRunKey, previous))

		guard := NewGuard(store, time.Hour, WithClock(fixedClock(now)))
		lease, acquired, err := guard.Acquire(ctx)
		require.NoError(t, err)
		require.True(t, acquired)

		require.NoError(t, guard.Release(ctx, lease))

		value, found, err := store.Get(ctx, LastRunKey)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, previous, value)
	})

	t.Run("removes key when there was none", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		store := NewMemoryStore()
		guard := NewGuard(store, time.Hour, WithClock(fixedClock(now)))
		lease, acquired, err := guard.Acquire(ctx)
		require.NoError(t, err)
		require.True(t, acquired)

		require.NoError(t, guard.Release(ctx, lease))

		_, found, err := store.Get(ctx, LastRunKey)
		require.NoError(t, err)
		assert.False(t, found)

		// The next tick may run straight away
		_, acquired, err = guard.Acquire(ctx)
		require.NoError(t, err)
		assert.True(t, acquired)
	})

	t.Run("nil lease is a no-op", func(t *testing.T) {
		t.Parallel()
		guard := NewGuard(NewMemoryStore(), 0)
		assert.NoError(t, guard.Release(context.Background(), nil))
		assert.Equal(t, DefaultGuardWindow, guard.Window())
	})
}

func TestGuard_StoreErrors(t *testing.T) {
	t.Parallel()

	t.Run("read failure", func(t *testing.T) {
		t.Parallel()

		ctrl := gomock.NewController(t)
		store := mocks.NewMockStore(ctrl)
		store.EXPECT().Get(gomock.Any(), LastRunKey).Return("", false, errors.New("disk gone"))

		_, acquired, err := NewGuard(store, time.Hour).Acquire(context.Background())
		require.Error(t, err)
		assert.False(t, acquired)
		assert.Contains(t, err.Error(), "failed to read lastRun")
	})

	t.Run("write failure", func(t *testing.T) {
		t.Parallel()

		ctrl := gomock.NewController(t)
		store := mocks.NewMockStore(ctrl)
		store.EXPECT().Get(gomock.Any(), LastRunKey).Return("", false, nil)
		store.EXPECT().Set(gomock.Any(), LastRunKey, gomock.Any()).Return(errors.New("read-only"))

		_, acquired, err := NewGuard(store, time.Hour).Acquire(context.Background())
		require.Error(t, err)
		assert.False(t, acquired)
		assert.Contains(t, err.Error(), "failed to write lastRun")
	})
}

func ptr(s string) *string {
	return &s
}
