package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/zettel-agent/backend/internal/responder"
)

type ChatHandler struct {
	sessions *responder.Sessions
}

func NewChatHandler(sessions *responder.Sessions) *ChatHandler {
	return &ChatHandler{sessions: sessions}
}

// Chat answers one turn. A new session is started when session_id is empty.
func (h *ChatHandler) Chat(c *fiber.Ctx) error {
	var req struct {
		SessionID      string `json:"session_id"`
		Message        string `json:"message"`
		IncludeSources bool   `json:"include_sources"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Message == "" {
		return badRequest(c, "Message is required")
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	resp, err := h.sessions.Get(req.SessionID).Respond(c.UserContext(), req.Message, req.IncludeSources)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"session_id": req.SessionID,
		"response":   resp.Response,
		"confidence": resp.Confidence,
		"sources":    resp.Sources,
	})
}

func (h *ChatHandler) ClearSession(c *fiber.Ctx) error {
	if !h.sessions.Clear(c.Params("session")) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "session_not_found",
			"message": "Unknown chat session",
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
