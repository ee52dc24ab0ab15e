package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinRateLimiter(t *testing.T) {
	t.Run("allows up to the limit", func(t *testing.T) {
		rl := NewJoinRateLimiter(3, time.Minute)
		for i := 0; i < 3; i++ {
			require.True(t, rl.Allow("u1"), "attempt %d", i)
		}
		assert.False(t, rl.Allow("u1"))
	})

	t.Run("limits are per user", func(t *testing.T) {
		rl := NewJoinRateLimiter(1, time.Minute)
		require.True(t, rl.Allow("u1"))
		require.False(t, rl.Allow("u1"))
		assert.True(t, rl.Allow("u2"))
	})

	t.Run("window slides", func(t *testing.T) {
		rl := NewJoinRateLimiter(1, 20*time.Millisecond)
		require.True(t, rl.Allow("u1"))
		require.False(t, rl.Allow("u1"))
		time.Sleep(30 * time.Millisecond)
		assert.True(t, rl.Allow("u1"))
	})
}
