package responder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zettel-agent/backend/internal/llm"
	"github.com/zettel-agent/backend/internal/storage/memory"
	"github.com/zettel-agent/backend/internal/storage/models"
	"github.com/zettel-agent/backend/internal/testutil"
	"github.com/zettel-agent/backend/pkg/utils"
)

func seed(t *testing.T, notes ...*models.Note) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	for _, n := range notes {
		_, err := store.Insert(context.Background(), n)
		require.NoError(t, err)
	}
	return store
}

func note(id, summary string, confidence float64, concepts map[string]string, points ...string) *models.Note {
	return &models.Note{
		ID:              id,
		Title:           "Title " + id,
		SourceType:      models.SourcePDF,
		SourcePath:      "/docs/" + id + ".pdf",
		ContentHash:     utils.ContentHash(id),
		Summary:         summary,
		MainPoints:      points,
		KeyConcepts:     concepts,
		CreatedAt:       time.Now(),
		ConfidenceScore: confidence,
	}
}

func TestRetrieveRelevant(t *testing.T) {
	ctx := context.Background()

	store := seed(t,
		note("low", "Raft elects a leader", 0.4, nil),
		note("mid", "Raft replicates a log", 0.7, map[string]string{"log": "ordered entries", "term": "epoch"}, "logs are replicated"),
		note("high", "Paxos and Raft agree on values", 0.9, map[string]string{"quorum": "majority", "log": "sequence of commands"}, "consensus needs a quorum", "agreement is safe"),
		note("other", "Sourdough bread", 1.0, nil),
	)
	r := New(store, &testutil.ScriptedChat{})

	t.Run("Filters by confidence and sorts descending", func(t *testing.T) {
		k, err := r.RetrieveRelevant(ctx, "Raft", DefaultMaxResults)
		require.NoError(t, err)
		assert.Equal(t, []string{"Paxos and Raft agree on values", "Raft replicates a log"}, k.Summaries)
		assert.Equal(t, []string{"consensus needs a quorum", "agreement is safe", "logs are replicated"}, k.MainPoints)
		assert.Equal(t, []string{
			"Title high (pdf): /docs/high.pdf",
			"Title mid (pdf): /docs/mid.pdf",
		}, k.Sources)
		assert.InDelta(t, 0.8, k.Confidence, 1e-9)
	})

	t.Run("Later concept explanation wins", func(t *testing.T) {
		k, err := r.RetrieveRelevant(ctx, "Raft", DefaultMaxResults)
		require.NoError(t, err)
		assert.Equal(t, []Concept{
			{Name: "log", Explanation: "ordered entries"},
			{Name: "quorum", Explanation: "majority"},
			{Name: "term", Explanation: "epoch"},
		}, k.Concepts)
	})

	t.Run("Respects max results", func(t *testing.T) {
		k, err := r.RetrieveRelevant(ctx, "Raft", 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"Paxos and Raft agree on values"}, k.Summaries)
		assert.InDelta(t, 0.9, k.Confidence, 1e-9)
	})

	t.Run("Keywords are case-sensitive whitespace tokens", func(t *testing.T) {
		k, err := r.RetrieveRelevant(ctx, "raft", DefaultMaxResults)
		require.NoError(t, err)
		assert.Empty(t, k.Summaries)
		assert.Equal(t, 0.0, k.Confidence)

		k, err = r.RetrieveRelevant(ctx, "how\tdoes  Paxos\nwork", DefaultMaxResults)
		require.NoError(t, err)
		assert.Len(t, k.Summaries, 1)
	})
}

func TestFormatContext(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		assert.Equal(t, "No relevant knowledge found in the database.", FormatContext(&Knowledge{}))
	})

	t.Run("Full", func(t *testing.T) {
		k := &Knowledge{
			Summaries:  []string{"first", "second"},
			MainPoints: []string{"p1", "p1"},
			Concepts:   []Concept{{Name: "c", Explanation: "e"}},
			Sources:    []string{"T (web): https://x"},
		}
		want := "Here's relevant information from the knowledge base:\n" +
			"\nSummaries:\n1. first\n2. second\n" +
			"\nKey Points:\n• p1\n• p1\n" +
			"\nRelevant Concepts:\n• c: e\n" +
			"\nSources:\n• T (web): https://x"
		assert.Equal(t, want, FormatContext(k))
	})

	t.Run("Sections without content are omitted", func(t *testing.T) {
		k := &Knowledge{Summaries: []string{"only"}, Sources: []string{"s"}}
		assert.Equal(t, "Here's relevant information from the knowledge base:\n\nSummaries:\n1. only\n\nSources:\n• s", FormatContext(k))
	})
}

func TestRespond(t *testing.T) {
	ctx := context.Background()
	store := seed(t, note("n1", "Vector clocks order events", 0.6, nil))

	t.Run("Builds the conversation and remembers it", func(t *testing.T) {
		chat := &testutil.ScriptedChat{Responses: []string{"first answer", "second answer"}}
		r := New(store, chat)

		resp, err := r.Respond(ctx, "explain Vector clocks", true)
		require.NoError(t, err)
		assert.Equal(t, "first answer", resp.Response)
		assert.InDelta(t, 0.6, resp.Confidence, 1e-9)
		assert.Equal(t, []string{"Title n1 (pdf): /docs/n1.pdf"}, resp.Sources)

		first := chat.LastRequest()
		require.Len(t, first, 2)
		assert.Equal(t, llm.RoleSystem, first[0].Role)
		assert.Contains(t, first[0].Content, "1. Vector clocks order events")
		assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "explain Vector clocks"}, first[1])

		_, err = r.Respond(ctx, "and Lamport timestamps?", false)
		require.NoError(t, err)

		second := chat.LastRequest()
		require.Len(t, second, 4)
		assert.Contains(t, second[0].Content, "No relevant knowledge found in the database.")
		assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "explain Vector clocks"}, second[1])
		assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "first answer"}, second[2])
		assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "and Lamport timestamps?"}, second[3])

		assert.Len(t, r.History(), 4)
	})

	t.Run("No knowledge yields zero confidence and no sources", func(t *testing.T) {
		r := New(store, &testutil.ScriptedChat{})
		resp, err := r.Respond(ctx, "unrelated", true)
		require.NoError(t, err)
		assert.Equal(t, 0.0, resp.Confidence)
		assert.Nil(t, resp.Sources)
	})

	t.Run("Sources only when requested", func(t *testing.T) {
		r := New(store, &testutil.ScriptedChat{})
		resp, err := r.Respond(ctx, "Vector", false)
		require.NoError(t, err)
		assert.Nil(t, resp.Sources)
	})

	t.Run("Failed completion leaves memory untouched", func(t *testing.T) {
		r := New(store, &testutil.ScriptedChat{Err: errors.New("model down")})
		_, err := r.Respond(ctx, "Vector", true)
		assert.ErrorContains(t, err, "model down")
		assert.Empty(t, r.History())
	})

	t.Run("ClearMemory", func(t *testing.T) {
		r := New(store, &testutil.ScriptedChat{})
		_, err := r.Respond(ctx, "Vector", true)
		require.NoError(t, err)
		require.Len(t, r.History(), 2)

		r.ClearMemory()
		assert.Empty(t, r.History())

		_, err = store.Get(ctx, "n1")
		assert.NoError(t, err)
	})
}

func TestSessions(t *testing.T) {
	sessions := NewSessions(memory.NewStore(), &testutil.ScriptedChat{})

	a := sessions.Get("a")
	assert.Same(t, a, sessions.Get("a"))
	assert.NotSame(t, a, sessions.Get("b"))
	assert.Equal(t, 2, sessions.Len())

	_, err := a.Respond(context.Background(), "hello", false)
	require.NoError(t, err)
	assert.Len(t, a.History(), 2)
	assert.Empty(t, sessions.Get("b").History())

	assert.True(t, sessions.Clear("a"))
	assert.False(t, sessions.Clear("a"))
	assert.Empty(t, a.History())
	assert.Equal(t, 1, sessions.Len())
}
