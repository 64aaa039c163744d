// Package testutil provides deterministic stand-ins for the embedding and
// chat-completion capabilities.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/zettel-agent/backend/internal/llm"
)

const tokenDim = 1024

// TokenEmbedder embeds text as a bag of whitespace tokens, one dimension per
// distinct token. Identical texts embed identically and texts with disjoint
// vocabularies are orthogonal.
type TokenEmbedder struct {
	mu     sync.Mutex
	vocab  map[string]int
	Calls  int
	Err    error
	Inputs [][]string
}

func NewTokenEmbedder() *TokenEmbedder {
	return &TokenEmbedder{vocab: make(map[string]int)}
}

func (e *TokenEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Calls++
	e.Inputs = append(e.Inputs, append([]string(nil), texts...))
	if e.Err != nil {
		return nil, e.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, tokenDim)
		for _, tok := range strings.Fields(text) {
			idx, ok := e.vocab[tok]
			if !ok {
				idx = len(e.vocab) % tokenDim
				e.vocab[tok] = idx
			}
			vec[idx]++
		}
		out[i] = vec
	}
	return out, nil
}

// ScriptedChat replays canned completions and records every conversation it
// was sent.
type ScriptedChat struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	Requests  [][]llm.Message
}

func (c *ScriptedChat) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Requests = append(c.Requests, append([]llm.Message(nil), messages...))
	if c.Err != nil {
		return "", c.Err
	}
	if len(c.Responses) == 0 {
		return "ok", nil
	}
	resp := c.Responses[0]
	if len(c.Responses) > 1 {
		c.Responses = c.Responses[1:]
	}
	return resp, nil
}

// ChatJSON behaves like Chat; responses are expected to be JSON already.
func (c *ScriptedChat) ChatJSON(ctx context.Context, messages []llm.Message) (string, error) {
	return c.Chat(ctx, messages)
}

// LastRequest returns the most recent conversation sent to Chat.
func (c *ScriptedChat) LastRequest() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.Requests) == 0 {
		return nil
	}
	return c.Requests[len(c.Requests)-1]
}
