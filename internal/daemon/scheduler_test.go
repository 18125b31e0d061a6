package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduler_Every(t *testing.T) {
	newScheduler := func(t *testing.T) *Scheduler {
		t.Helper()
		s, err := NewScheduler()
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Stop() })
		return s
	}

	t.Run("returns job id", func(t *testing.T) {
		id, err := newScheduler(t).Every(t.Context(), "stale-build-cleanup", time.Hour, func(context.Context) error { return nil })
		require.NoError(t, err)
		require.NotEmpty(t, id)
	})

	t.Run("rejects zero interval", func(t *testing.T) {
		_, err := newScheduler(t).Every(t.Context(), "version-sync", 0, func(context.Context) error { return nil })
		require.Error(t, err)
	})

	t.Run("failing job keeps its schedule", func(t *testing.T) {
		s := newScheduler(t)
		type key struct{}
		ctx := context.WithValue(t.Context(), key{}, "daemon")
		var runs atomic.Int32
		_, err := s.Every(ctx, "version-sync", 10*time.Millisecond, func(c context.Context) error {
			if c.Value(key{}) == "daemon" {
				runs.Add(1)
			}
			return errors.New("repository unreachable")
		})
		require.NoError(t, err)
		s.Start()
		require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	})
}
