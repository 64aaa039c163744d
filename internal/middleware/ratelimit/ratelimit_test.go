package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 2})
	defer rl.Stop()

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }

	app := fiber.New()
	app.Use(rl.Middleware())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	get := func(session string) int {
		req := httptest.NewRequest(fiber.MethodGet, "/", nil)
		req.Header.Set("X-Session-ID", session)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusOK, get("a"))
	assert.Equal(t, fiber.StatusOK, get("a"))
	assert.Equal(t, fiber.StatusTooManyRequests, get("a"))

	t.Run("Clients have separate buckets", func(t *testing.T) {
		assert.Equal(t, fiber.StatusOK, get("b"))
	})

	t.Run("Tokens refill over time", func(t *testing.T) {
		clock = clock.Add(30 * time.Second)
		assert.Equal(t, fiber.StatusOK, get("a"))
		assert.Equal(t, fiber.StatusTooManyRequests, get("a"))
	})

	t.Run("Idle buckets are evicted", func(t *testing.T) {
		clock = clock.Add(time.Hour)
		rl.evictIdle()
		rl.mu.RLock()
		defer rl.mu.RUnlock()
		assert.Empty(t, rl.buckets)
	})

	t.Run("Stop is idempotent", func(t *testing.T) {
		rl.Stop()
		rl.Stop()
	})
}
