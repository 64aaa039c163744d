package handlers

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/zettel-agent/backend/internal/apperr"
	"github.com/zettel-agent/backend/internal/ingestion"
	"github.com/zettel-agent/backend/pkg/logger"
)

var kindStatus = map[error]int{
	apperr.ErrDuplicateContent:  fiber.StatusConflict,
	apperr.ErrDanglingReference: fiber.StatusUnprocessableEntity,
	apperr.ErrMissingTarget:     fiber.StatusBadRequest,
	apperr.ErrUnknownOperation:  fiber.StatusBadRequest,
	apperr.ErrNoteNotFound:      fiber.StatusNotFound,
	apperr.ErrEmbeddingFailure:  fiber.StatusBadGateway,
	apperr.ErrUpstreamTimeout:   fiber.StatusGatewayTimeout,
}

// respondError reports err by kind with its identifiers. Unclassified errors
// are logged and reported without detail.
func respondError(c *fiber.Ctx, err error) error {
	var validationErrs validation.Errors
	if errors.As(err, &validationErrs) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":  "invalid_request",
			"fields": validationErrs,
		})
	}

	if errors.Is(err, ingestion.ErrUnsupportedSource) {
		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
			"error":   "unsupported_source",
			"message": err.Error(),
		})
	}

	kind := apperr.KindOf(err)
	if kind == nil {
		logger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_error",
			"message": "Internal server error",
		})
	}

	body := fiber.Map{"error": apperr.Code(err)}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		if appErr.NoteID != "" {
			body["note_id"] = appErr.NoteID
		}
		if appErr.SourceID != "" || appErr.TargetID != "" {
			body["source_id"] = appErr.SourceID
			body["target_id"] = appErr.TargetID
		}
		if appErr.Operation != "" {
			body["operation"] = appErr.Operation
		}
	}

	status := kindStatus[kind]
	if status >= fiber.StatusInternalServerError {
		logger.Warn("Upstream failure", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   "invalid_request",
		"message": message,
	})
}
