package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/zettel-agent/backend/internal/query"
	"github.com/zettel-agent/backend/internal/storage/models"
)

type QueryResolver interface {
	Resolve(ctx context.Context, text string) (*query.Result, error)
}

type HistoryReader interface {
	GetQueryHistory(ctx context.Context, limit int) ([]models.QueryRecord, error)
}

type QueryHandler struct {
	resolver QueryResolver
	history  HistoryReader
}

// NewQueryHandler builds the query endpoints. history may be nil when the
// active store does not keep query history.
func NewQueryHandler(resolver QueryResolver, history HistoryReader) *QueryHandler {
	return &QueryHandler{resolver: resolver, history: history}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req struct {
		Query string `json:"query"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Query == "" {
		return badRequest(c, "Query is required")
	}

	result, err := h.resolver.Resolve(c.UserContext(), req.Query)
	if err != nil {
		return respondError(c, err)
	}
	if result.Results == nil {
		result.Results = []query.NoteView{}
	}
	return c.JSON(result)
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 500 {
		return badRequest(c, "limit must be between 1 and 500")
	}

	if h.history == nil {
		return c.JSON(fiber.Map{"history": []models.QueryRecord{}})
	}

	records, err := h.history.GetQueryHistory(c.UserContext(), limit)
	if err != nil {
		return respondError(c, err)
	}
	if records == nil {
		records = []models.QueryRecord{}
	}
	return c.JSON(fiber.Map{"history": records})
}
