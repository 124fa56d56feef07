package commandqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupCache(t *testing.T) {
	t.Run("should expire entries", func(t *testing.T) {
		cache := newDedupCache(context.Background(), 20*time.Millisecond)
		defer cache.Stop()

		cache.Set("r1", taskResult{value: "ok"})
		got, ok := cache.Get("r1")
		assert.True(t, ok)
		assert.Equal(t, "ok", got.value)

		assert.Eventually(t, func() bool { return cache.Size() == 0 }, time.Second, 10*time.Millisecond)
		_, ok = cache.Get("r1")
		assert.False(t, ok)
	})

	t.Run("should stop the cleanup loop", func(t *testing.T) {
		cache := newDedupCache(context.Background(), 50*time.Millisecond)
		cache.Stop()

		select {
		case <-cache.done:
		case <-time.After(time.Second):
			t.Fatal("dedup cache cleanup did not stop within timeout")
		}
	})
}
