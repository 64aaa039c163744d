package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zettel-agent/backend/internal/apperr"
	"github.com/zettel-agent/backend/internal/responder"
	"github.com/zettel-agent/backend/pkg/logger"
)

type WebSocketHandler struct {
	sessions *responder.Sessions
}

func NewWebSocketHandler(sessions *responder.Sessions) *WebSocketHandler {
	return &WebSocketHandler{sessions: sessions}
}

type wsMessage struct {
	Type           string `json:"type"`
	Content        string `json:"content"`
	IncludeSources bool   `json:"include_sources"`
}

type jsonConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// HandleConnection serves one chat session per connection. The session id
// comes from the session query parameter or is generated.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	h.serve(c, c.Query("session"))
}

// serve runs the read loop until the client goes away. A generated session
// lives only as long as its connection.
func (h *WebSocketHandler) serve(conn jsonConn, sessionID string) {
	generated := sessionID == ""
	if generated {
		sessionID = uuid.NewString()
	}
	logger.Info("WebSocket connection established", zap.String("session_id", sessionID))

	defer func() {
		conn.Close()
		if generated {
			h.sessions.Clear(sessionID)
		}
		logger.Info("WebSocket connection closed", zap.String("session_id", sessionID))
	}()

	if err := conn.WriteJSON(map[string]any{"type": "session", "session_id": sessionID}); err != nil {
		return
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		if err := h.handleMessage(context.Background(), sessionID, msg, conn.WriteJSON); err != nil {
			logger.Warn("Failed to write WebSocket message", zap.Error(err))
			return
		}
	}
}

// handleMessage answers one client message through send. Only failures of
// send itself are returned.
func (h *WebSocketHandler) handleMessage(ctx context.Context, sessionID string, msg wsMessage, send func(any) error) error {
	switch msg.Type {
	case "clear":
		h.sessions.Clear(sessionID)
		return send(map[string]any{"type": "cleared"})
	case "chat":
	default:
		return send(map[string]any{"type": "error", "error": "unknown message type"})
	}

	if strings.TrimSpace(msg.Content) == "" {
		return send(map[string]any{"type": "error", "error": "content is required"})
	}

	if err := send(map[string]any{"type": "status", "content": "Searching knowledge base..."}); err != nil {
		return err
	}

	resp, err := h.sessions.Get(sessionID).Respond(ctx, msg.Content, msg.IncludeSources)
	if err != nil {
		logger.Warn("Failed to answer WebSocket message", zap.String("session_id", sessionID), zap.Error(err))
		return send(map[string]any{"type": "error", "error": apperr.Code(err)})
	}

	words := splitIntoWords(resp.Response)
	for i, word := range words {
		if i < len(words)-1 && word != "\n" {
			word += " "
		}
		if err := send(map[string]any{"type": "chunk", "content": word}); err != nil {
			return err
		}
	}

	return send(map[string]any{
		"type":       "complete",
		"confidence": resp.Confidence,
		"sources":    resp.Sources,
	})
}

// splitIntoWords splits on spaces, keeping newlines as their own tokens.
func splitIntoWords(text string) []string {
	var words []string
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			words = append(words, "\n")
		}
		words = append(words, strings.Fields(line)...)
	}
	return words
}
