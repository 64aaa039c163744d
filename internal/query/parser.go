package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zettel-agent/backend/internal/llm"
	"github.com/zettel-agent/backend/internal/metrics"
	"github.com/zettel-agent/backend/pkg/logger"
	"github.com/zettel-agent/backend/pkg/utils"
)

const parsePrompt = `You are a query parser for a Zettelkasten knowledge database.
Interpret the user's natural language query and convert it into structured search parameters.

The database contains notes from PDFs, videos, audio and websites with:
- tags and topics
- keywords and summaries
- links between related content
- novelty indicators (whether information is new or already known)

Return a JSON object with these fields:
{
  "operation": one of "keyword_search", "tag_search", "related_content", "similarity_search",
  "keywords": list of keywords to find in summaries, or null,
  "tags": list of tags to filter by, or null,
  "source_types": list drawn from "pdf", "audio", "video", "web", "text", or null,
  "node_id": the note id for related_content or similarity_search, or null,
  "only_new": true to return only new information, or null,
  "min_similarity": number between 0 and 1, or null
}`

// Parser turns free text into an Intent.
type Parser interface {
	Parse(ctx context.Context, text string) (*Intent, error)
}

// IntentCache stores parsed intents keyed by query text.
type IntentCache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// LLMParser asks a chat model to fill in the Intent schema.
type LLMParser struct {
	chat  llm.JSONChatter
	cache IntentCache
	ttl   time.Duration
}

func NewLLMParser(chat llm.JSONChatter) *LLMParser {
	return &LLMParser{chat: chat}
}

// WithCache reuses earlier parses of identical query text for ttl.
func (p *LLMParser) WithCache(cache IntentCache, ttl time.Duration) *LLMParser {
	p.cache = cache
	p.ttl = ttl
	return p
}

func (p *LLMParser) Parse(ctx context.Context, text string) (*Intent, error) {
	key := utils.CacheKey("intent", strings.TrimSpace(text))

	if p.cache != nil {
		var cached Intent
		found, err := p.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			logger.Warn("Intent cache unavailable", zap.Error(err))
		}
		if found {
			metrics.CacheHits.WithLabelValues("intent").Inc()
			return &cached, nil
		}
		metrics.CacheMisses.WithLabelValues("intent").Inc()
	}

	reply, err := p.chat.ChatJSON(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: parsePrompt},
		{Role: llm.RoleUser, Content: text},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse query: %w", err)
	}

	var intent Intent
	if err := json.Unmarshal([]byte(reply), &intent); err != nil {
		return nil, fmt.Errorf("failed to decode query intent: %w", err)
	}

	logger.Debug("Query parsed",
		zap.String("operation", intent.Operation),
		zap.Strings("keywords", intent.Keywords),
		zap.Strings("tags", intent.Tags),
	)

	// Only well-formed intents are cached; a bad parse is retried next time.
	if p.cache != nil && intent.Validate() == nil {
		if err := p.cache.SetJSON(ctx, key, intent, p.ttl); err != nil {
			logger.Warn("Failed to cache intent", zap.Error(err))
		}
	}

	return &intent, nil
}
