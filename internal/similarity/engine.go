package similarity

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/zettel-agent/backend/internal/apperr"
	"github.com/zettel-agent/backend/pkg/logger"
)

// DefaultThreshold is the minimum cosine similarity for two texts to count
// as similar.
const DefaultThreshold = 0.85

// coverageCap is the number of similar items at which the coverage term of
// the novelty score saturates.
const coverageCap = 5.0

// Embedder turns a batch of texts into vectors of a fixed dimension. The
// output must have the same length and order as the input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Match is a corpus entry whose similarity to a candidate met the threshold.
type Match struct {
	Index int
	Score float64
}

type Engine struct {
	embedder Embedder
}

func NewEngine(embedder Embedder) *Engine {
	return &Engine{embedder: embedder}
}

// Embed embeds texts in one upstream call. Failures are not retried here.
func (e *Engine) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, classify(ctx, err)
	}
	if len(vectors) != len(texts) {
		return nil, apperr.EmbeddingFailure(fmt.Errorf("embedding count mismatch: got %d, expected %d", len(vectors), len(texts)))
	}
	return vectors, nil
}

// FindSimilar compares candidate with every corpus entry and returns the
// entries scoring at least threshold. Results keep corpus order, not score
// order, so callers can index back into the slice they passed in.
func (e *Engine) FindSimilar(ctx context.Context, candidate string, corpus []string, threshold float64) ([]Match, error) {
	if len(corpus) == 0 {
		return nil, nil
	}

	candidateVecs, err := e.Embed(ctx, []string{candidate})
	if err != nil {
		return nil, err
	}
	corpusVecs, err := e.Embed(ctx, corpus)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for i, vec := range corpusVecs {
		score := Similarity(candidateVecs[0], vec)
		if score >= threshold {
			matches = append(matches, Match{Index: i, Score: score})
		}
	}

	logger.Debug("Similarity search completed",
		zap.Int("corpus_size", len(corpus)),
		zap.Int("matches", len(matches)),
		zap.Float64("threshold", threshold),
	)

	return matches, nil
}

// Similarity is the cosine similarity of a and b. It is 0 when either vector
// has zero norm or the dimensions differ.
func Similarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom < 1e-12 {
		return 0
	}
	return dot / denom
}

// CombineNovelty folds similarity scores into one novelty score in [0,1].
// No scores means nothing similar exists, which is maximally novel.
//
// The strongest match sets the base penalty, and a coverage factor raises it
// as the number of similar items grows (saturating at five). A note that
// resembles many stored notes is therefore treated as less novel than one
// with a single close neighbour of the same strength.
func CombineNovelty(scores []float64) float64 {
	if len(scores) == 0 {
		return 1.0
	}

	maxScore := scores[0]
	for _, s := range scores[1:] {
		maxScore = math.Max(maxScore, s)
	}
	coverage := math.Min(float64(len(scores))/coverageCap, 1.0)

	return 1.0 - (maxScore*(1+coverage))/2
}

// Scores extracts the score of each match.
func Scores(matches []Match) []float64 {
	scores := make([]float64, len(matches))
	for i, m := range matches {
		scores[i] = m.Score
	}
	return scores
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, apperr.ErrUpstreamTimeout) || errors.Is(err, apperr.ErrEmbeddingFailure) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.UpstreamTimeout("embed", err)
	}
	return apperr.EmbeddingFailure(err)
}
