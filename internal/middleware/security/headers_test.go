package security

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersMiddleware(t *testing.T) {
	serve := func(cfg HeadersConfig) *fiber.App {
		app := fiber.New()
		app.Use(HeadersMiddleware(cfg))
		app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })
		return app
	}

	t.Run("Production", func(t *testing.T) {
		resp, err := serve(HeadersConfig{AllowedOrigins: []string{"https://notes.example.com"}}).Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
		require.NoError(t, err)
		assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
		assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
		assert.NotEmpty(t, resp.Header.Get("Strict-Transport-Security"))
		assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "connect-src 'self' https://notes.example.com;")
	})

	t.Run("Development skips HSTS", func(t *testing.T) {
		resp, err := serve(HeadersConfig{IsDevelopment: true}).Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
		require.NoError(t, err)
		assert.Empty(t, resp.Header.Get("Strict-Transport-Security"))
		assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "connect-src 'self';")
	})
}
