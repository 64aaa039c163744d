package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zettel-agent/backend/pkg/logger"
)

// DefaultChunkSize is the number of characters summarized per request.
const DefaultChunkSize = 4000

const summarizePrompt = `You are a precise content summarizer. Analyze the text and create a structured summary.
Focus on extracting key information and main concepts. Be concise but comprehensive.

Return a JSON object with exactly these fields:
{"main_points": ["..."], "summary": "...", "topics": ["..."], "entities": ["..."], "key_concepts": {"concept": "brief explanation"}}

topics are short lowercase labels. entities are named people, organizations, products or places.`

// JSONChatter completes a conversation whose reply is a JSON object.
type JSONChatter interface {
	ChatJSON(ctx context.Context, messages []Message) (string, error)
}

// Summary is the structured digest of a piece of content.
type Summary struct {
	MainPoints  []string          `json:"main_points"`
	Summary     string            `json:"summary"`
	Topics      []string          `json:"topics"`
	Entities    []string          `json:"entities"`
	KeyConcepts map[string]string `json:"key_concepts"`
}

type Summarizer struct {
	chat      JSONChatter
	chunkSize int
}

func NewSummarizer(chat JSONChatter) *Summarizer {
	return &Summarizer{chat: chat, chunkSize: DefaultChunkSize}
}

// WithChunkSize overrides the per-request character budget.
func (s *Summarizer) WithChunkSize(size int) *Summarizer {
	if size > 0 {
		s.chunkSize = size
	}
	return s
}

// Summarize digests text. Long text is split into chunks that are
// summarized one by one; the chunk summaries are then summarized again and
// their topics, entities and concepts merged into the result.
func (s *Summarizer) Summarize(ctx context.Context, text string) (*Summary, error) {
	chunks := Chunk(text, s.chunkSize)
	if len(chunks) <= 1 {
		return s.summarizeOnce(ctx, text)
	}

	partials := make([]*Summary, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		partial, err := s.summarizeOnce(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to summarize chunk %d: %w", i, err)
		}
		partials = append(partials, partial)
		texts = append(texts, partial.Summary)
	}

	final, err := s.summarizeOnce(ctx, strings.Join(texts, "\n"))
	if err != nil {
		return nil, fmt.Errorf("failed to combine chunk summaries: %w", err)
	}
	for _, p := range partials {
		final.Topics = appendMissing(final.Topics, p.Topics)
		final.Entities = appendMissing(final.Entities, p.Entities)
		for name, explanation := range p.KeyConcepts {
			if _, ok := final.KeyConcepts[name]; !ok {
				final.KeyConcepts[name] = explanation
			}
		}
	}

	logger.Info("Content summarized",
		zap.Int("chunks", len(chunks)),
		zap.Int("summary_length", len(final.Summary)),
	)

	return final, nil
}

func (s *Summarizer) summarizeOnce(ctx context.Context, text string) (*Summary, error) {
	reply, err := s.chat.ChatJSON(ctx, []Message{
		{Role: RoleSystem, Content: summarizePrompt},
		{Role: RoleUser, Content: text},
	})
	if err != nil {
		return nil, err
	}

	var summary Summary
	if err := json.Unmarshal([]byte(reply), &summary); err != nil {
		return nil, fmt.Errorf("failed to parse summary: %w", err)
	}
	if summary.KeyConcepts == nil {
		summary.KeyConcepts = map[string]string{}
	}
	return &summary, nil
}

// Chunk splits text into pieces of at most size runes.
func Chunk(text string, size int) []string {
	if size <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

func appendMissing(dst, src []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range src {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			dst = append(dst, v)
		}
	}
	return dst
}
