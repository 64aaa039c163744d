package validation

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/zettel-agent/backend/pkg/logger"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxQueryLength      int
	MaxDocumentSize     int
	AllowedContentTypes []string
}

// textFields names the free-text field checked on each POST route.
var textFields = map[string]string{
	"/api/v1/query": "query",
	"/api/v1/chat":  "message",
}

// Middleware rejects malformed request bodies before they reach a handler.
// Free-text fields are length-limited, screened for script injection and
// trimmed in place.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 5000
	}
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON, fiber.MIMEMultipartForm}
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		if contentType := c.Get(fiber.HeaderContentType); contentType != "" && !allowedType(contentType, cfg.AllowedContentTypes) {
			return reject(c, fiber.StatusUnsupportedMediaType, "Unsupported content type")
		}

		path := strings.TrimSuffix(c.Path(), "/")

		if field, ok := textFields[path]; ok {
			var req map[string]any
			if err := json.Unmarshal(c.Body(), &req); err != nil {
				return reject(c, fiber.StatusBadRequest, "Invalid JSON format")
			}

			text, ok := req[field].(string)
			if !ok || strings.TrimSpace(text) == "" {
				return reject(c, fiber.StatusBadRequest, field+" is required and must be a string")
			}
			if len(text) > cfg.MaxQueryLength {
				return reject(c, fiber.StatusBadRequest, field+" exceeds maximum length")
			}
			if xssPattern.MatchString(text) {
				logger.Warn("Potential XSS attempt", zap.String("ip", c.IP()), zap.String("path", path))
				return reject(c, fiber.StatusBadRequest, "Invalid "+field+" content")
			}

			req[field] = sanitizeString(text)
			body, err := json.Marshal(req)
			if err != nil {
				return reject(c, fiber.StatusBadRequest, "Invalid JSON format")
			}
			c.Request().SetBody(body)
		}

		if path == "/api/v1/notes" && strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
			var req map[string]any
			if err := json.Unmarshal(c.Body(), &req); err != nil {
				return reject(c, fiber.StatusBadRequest, "Invalid JSON format")
			}

			if urlStr, ok := req["url"].(string); ok && urlStr != "" && !isValidURL(urlStr) {
				return reject(c, fiber.StatusBadRequest, "Invalid URL format")
			}
			if content, ok := req["content"].(string); ok && len(content) > cfg.MaxDocumentSize {
				return reject(c, fiber.StatusRequestEntityTooLarge, "Document content exceeds maximum size")
			}
		}

		return c.Next()
	}
}

func reject(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":   "invalid_request",
		"message": message,
	})
}

func allowedType(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}

func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
