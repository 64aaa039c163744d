// Package responder answers chat turns with notes retrieved from the store
// as context.
package responder

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/zettel-agent/backend/internal/llm"
	"github.com/zettel-agent/backend/internal/metrics"
	"github.com/zettel-agent/backend/internal/storage/models"
	"github.com/zettel-agent/backend/pkg/logger"
)

const (
	DefaultMaxResults = 5
	minConfidence     = 0.5
	emptyContext      = "No relevant knowledge found in the database."
)

const systemPrompt = `You are a knowledgeable assistant with access to a Zettelkasten knowledge base.
Use the provided information to give accurate and comprehensive answers.
Always synthesize information from multiple sources when available.

Knowledge Context:
%s`

// Searcher finds notes by predicate.
type Searcher interface {
	Search(ctx context.Context, predicate models.Predicate) ([]*models.Note, error)
}

// Chatter produces a chat completion.
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message) (string, error)
}

// Concept is a key concept with its explanation.
type Concept struct {
	Name        string `json:"name"`
	Explanation string `json:"explanation"`
}

// Knowledge is what the store knows about a query.
type Knowledge struct {
	Summaries  []string  `json:"summaries"`
	MainPoints []string  `json:"main_points"`
	Concepts   []Concept `json:"key_concepts"`
	Sources    []string  `json:"source_references"`
	Confidence float64   `json:"confidence"`
}

// Response is one answered chat turn.
type Response struct {
	Response   string   `json:"response"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources,omitempty"`
}

// Responder holds the conversation memory of one chat session. It is safe
// for concurrent use; turns are answered one at a time.
type Responder struct {
	notes Searcher
	chat  Chatter

	mu      sync.Mutex
	history []llm.Message
}

func New(notes Searcher, chat Chatter) *Responder {
	return &Responder{notes: notes, chat: chat}
}

// RetrieveRelevant finds the most confident notes whose summary contains any
// whitespace-separated word of query.
func (r *Responder) RetrieveRelevant(ctx context.Context, query string, maxResults int) (*Knowledge, error) {
	keywords := strings.Fields(query)

	notes, err := r.notes.Search(ctx, models.Predicate{
		Keywords:      keywords,
		MinConfidence: models.Float(minConfidence),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve knowledge: %w", err)
	}

	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].ConfidenceScore > notes[j].ConfidenceScore
	})
	if len(notes) > maxResults {
		notes = notes[:maxResults]
	}
	if len(notes) == 0 {
		return &Knowledge{}, nil
	}

	k := &Knowledge{}
	index := map[string]int{}
	var total float64
	for _, n := range notes {
		k.Summaries = append(k.Summaries, n.Summary)
		k.MainPoints = append(k.MainPoints, n.MainPoints...)
		for _, name := range n.ConceptNames() {
			// A later note's explanation replaces an earlier one in place.
			if i, ok := index[name]; ok {
				k.Concepts[i].Explanation = n.KeyConcepts[name]
				continue
			}
			index[name] = len(k.Concepts)
			k.Concepts = append(k.Concepts, Concept{Name: name, Explanation: n.KeyConcepts[name]})
		}
		k.Sources = append(k.Sources, fmt.Sprintf("%s (%s): %s", n.Title, n.SourceType, n.SourcePath))
		total += n.ConfidenceScore
	}
	k.Confidence = total / float64(len(notes))

	return k, nil
}

// FormatContext renders knowledge as the context block handed to the model.
func FormatContext(k *Knowledge) string {
	if k == nil || len(k.Summaries) == 0 {
		return emptyContext
	}

	lines := []string{"Here's relevant information from the knowledge base:"}

	lines = append(lines, "\nSummaries:")
	for i, s := range k.Summaries {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, s))
	}

	if len(k.MainPoints) > 0 {
		lines = append(lines, "\nKey Points:")
		for _, p := range k.MainPoints {
			lines = append(lines, "• "+p)
		}
	}

	if len(k.Concepts) > 0 {
		lines = append(lines, "\nRelevant Concepts:")
		for _, c := range k.Concepts {
			lines = append(lines, fmt.Sprintf("• %s: %s", c.Name, c.Explanation))
		}
	}

	lines = append(lines, "\nSources:")
	for _, s := range k.Sources {
		lines = append(lines, "• "+s)
	}

	return strings.Join(lines, "\n")
}

// Respond answers query using retrieved knowledge and the conversation so
// far, then appends the exchange to memory. Sources are included when
// requested and available.
func (r *Responder) Respond(ctx context.Context, query string, includeSources bool) (*Response, error) {
	knowledge, err := r.RetrieveRelevant(ctx, query, DefaultMaxResults)
	if err != nil {
		metrics.ChatTurns.WithLabelValues("error").Inc()
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	messages := make([]llm.Message, 0, len(r.history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: fmt.Sprintf(systemPrompt, FormatContext(knowledge))})
	messages = append(messages, r.history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})

	reply, err := r.chat.Chat(ctx, messages)
	if err != nil {
		metrics.ChatTurns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to generate response: %w", err)
	}

	r.history = append(r.history,
		llm.Message{Role: llm.RoleUser, Content: query},
		llm.Message{Role: llm.RoleAssistant, Content: reply},
	)

	metrics.ChatTurns.WithLabelValues("ok").Inc()
	metrics.ResponseConfidence.Observe(knowledge.Confidence)

	logger.Info("Response generated",
		zap.Int("notes_used", len(knowledge.Summaries)),
		zap.Float64("confidence", knowledge.Confidence),
		zap.Int("history_len", len(r.history)),
	)

	resp := &Response{Response: reply, Confidence: knowledge.Confidence}
	if includeSources && len(knowledge.Sources) > 0 {
		resp.Sources = knowledge.Sources
	}
	return resp, nil
}

// History returns a copy of the conversation memory.
func (r *Responder) History() []llm.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]llm.Message(nil), r.history...)
}

// ClearMemory forgets the conversation. Stored notes are untouched.
func (r *Responder) ClearMemory() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history = nil
}
