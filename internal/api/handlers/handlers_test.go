package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zettel-agent/backend/internal/apperr"
	"github.com/zettel-agent/backend/internal/ingestion"
	"github.com/zettel-agent/backend/internal/responder"
	"github.com/zettel-agent/backend/internal/storage/memory"
	"github.com/zettel-agent/backend/internal/testutil"
)

func TestRespondError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		body   map[string]any
	}{
		{"Duplicate", fmt.Errorf("failed to insert note: %w", apperr.DuplicateContent("n1", "h")), fiber.StatusConflict,
			map[string]any{"error": "duplicate_content", "note_id": "n1"}},
		{"Dangling", apperr.DanglingReference("a", "b"), fiber.StatusUnprocessableEntity,
			map[string]any{"error": "dangling_reference", "source_id": "a", "target_id": "b"}},
		{"Missing target", apperr.MissingTarget("similarity_search"), fiber.StatusBadRequest,
			map[string]any{"error": "missing_target", "operation": "similarity_search"}},
		{"Unknown operation", apperr.UnknownOperation("x"), fiber.StatusBadRequest,
			map[string]any{"error": "unknown_operation", "operation": "x"}},
		{"Not found", apperr.NoteNotFound("n2"), fiber.StatusNotFound,
			map[string]any{"error": "note_not_found", "note_id": "n2"}},
		{"Embedding", apperr.EmbeddingFailure(errors.New("boom")), fiber.StatusBadGateway,
			map[string]any{"error": "embedding_failure"}},
		{"Timeout", apperr.UpstreamTimeout("chat", context.DeadlineExceeded), fiber.StatusGatewayTimeout,
			map[string]any{"error": "upstream_timeout", "operation": "chat"}},
		{"Internal", errors.New("disk on fire"), fiber.StatusInternalServerError,
			map[string]any{"error": "internal_error", "message": "Internal server error"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return respondError(c, tc.err) })

			resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)

			raw, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			var body map[string]any
			require.NoError(t, json.Unmarshal(raw, &body))
			assert.Equal(t, tc.body, body)
		})
	}

	t.Run("Validation errors", func(t *testing.T) {
		app := fiber.New()
		app.Get("/", func(c *fiber.Ctx) error {
			return respondError(c, validation.Errors{"summary": errors.New("cannot be blank")})
		})
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Unsupported source", func(t *testing.T) {
		app := fiber.New()
		app.Get("/", func(c *fiber.Ctx) error {
			return respondError(c, fmt.Errorf("%w: %q", ingestion.ErrUnsupportedSource, "video"))
		})
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
	})
}

func TestSplitIntoWords(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "\n", "c"}, splitIntoWords("a  b\nc"))
	assert.Nil(t, splitIntoWords(""))
}

func TestHandleMessage(t *testing.T) {
	chat := &testutil.ScriptedChat{Responses: []string{"two words"}}
	sessions := responder.NewSessions(memory.NewStore(), chat)
	h := NewWebSocketHandler(sessions)

	var sent []map[string]any
	send := func(v any) error {
		sent = append(sent, v.(map[string]any))
		return nil
	}

	require.NoError(t, h.handleMessage(context.Background(), "s1", wsMessage{Type: "chat", Content: "hello"}, send))
	require.Len(t, sent, 4)
	assert.Equal(t, "status", sent[0]["type"])
	assert.Equal(t, "two ", sent[1]["content"])
	assert.Equal(t, "words", sent[2]["content"])
	assert.Equal(t, "complete", sent[3]["type"])
	assert.Len(t, sessions.Get("s1").History(), 2)

	t.Run("Clear", func(t *testing.T) {
		sent = nil
		require.NoError(t, h.handleMessage(context.Background(), "s1", wsMessage{Type: "clear"}, send))
		assert.Equal(t, "cleared", sent[0]["type"])
		assert.Empty(t, sessions.Get("s1").History())
	})

	t.Run("Bad messages", func(t *testing.T) {
		sent = nil
		require.NoError(t, h.handleMessage(context.Background(), "s1", wsMessage{Type: "query"}, send))
		require.NoError(t, h.handleMessage(context.Background(), "s1", wsMessage{Type: "chat", Content: " "}, send))
		require.Len(t, sent, 2)
		assert.Equal(t, "error", sent[0]["type"])
		assert.Equal(t, "error", sent[1]["type"])
	})

	t.Run("Chat failure is reported to the client", func(t *testing.T) {
		chat.Err = apperr.UpstreamTimeout("chat", context.DeadlineExceeded)
		defer func() { chat.Err = nil }()

		sent = nil
		require.NoError(t, h.handleMessage(context.Background(), "s2", wsMessage{Type: "chat", Content: "hi"}, send))
		assert.Equal(t, map[string]any{"type": "error", "error": "upstream_timeout"}, sent[len(sent)-1])
	})

	t.Run("Send failures stop the stream", func(t *testing.T) {
		err := h.handleMessage(context.Background(), "s3", wsMessage{Type: "chat", Content: "hi"}, func(any) error {
			return errors.New("closed")
		})
		assert.ErrorContains(t, err, "closed")
	})
}

type fakeConn struct {
	inbox  []wsMessage
	sent   []map[string]any
	closed bool
}

func (c *fakeConn) ReadJSON(v any) error {
	if len(c.inbox) == 0 {
		return io.EOF
	}
	*v.(*wsMessage) = c.inbox[0]
	c.inbox = c.inbox[1:]
	return nil
}

func (c *fakeConn) WriteJSON(v any) error {
	c.sent = append(c.sent, v.(map[string]any))
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestServeSessionLifetime(t *testing.T) {
	t.Run("Generated session is dropped on close", func(t *testing.T) {
		sessions := responder.NewSessions(memory.NewStore(), &testutil.ScriptedChat{})
		h := NewWebSocketHandler(sessions)
		conn := &fakeConn{inbox: []wsMessage{{Type: "chat", Content: "hello"}}}

		h.serve(conn, "")

		assert.True(t, conn.closed)
		require.NotEmpty(t, conn.sent)
		assert.Equal(t, "session", conn.sent[0]["type"])
		assert.NotEmpty(t, conn.sent[0]["session_id"])
		assert.Equal(t, "complete", conn.sent[len(conn.sent)-1]["type"])
		assert.Equal(t, 0, sessions.Len())
	})

	t.Run("Named session outlives the connection", func(t *testing.T) {
		sessions := responder.NewSessions(memory.NewStore(), &testutil.ScriptedChat{})
		h := NewWebSocketHandler(sessions)
		conn := &fakeConn{inbox: []wsMessage{{Type: "chat", Content: "hello"}}}

		h.serve(conn, "named")

		assert.Equal(t, "named", conn.sent[0]["session_id"])
		assert.Equal(t, 1, sessions.Len())
		assert.Len(t, sessions.Get("named").History(), 2)
	})
}
