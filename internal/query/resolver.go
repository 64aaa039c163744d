// Package query resolves free-text questions into structured note searches.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zettel-agent/backend/internal/apperr"
	"github.com/zettel-agent/backend/internal/linking"
	"github.com/zettel-agent/backend/internal/metrics"
	"github.com/zettel-agent/backend/internal/storage/models"
	"github.com/zettel-agent/backend/pkg/config"
	"github.com/zettel-agent/backend/pkg/logger"
)

// Notes is the slice of the note service the resolver executes against.
type Notes interface {
	Search(ctx context.Context, predicate models.Predicate) ([]*models.Note, error)
	Related(ctx context.Context, id string, minStrength float64) ([]*models.Note, error)
	SimilarContent(ctx context.Context, id string, minSimilarity float64) ([]linking.Match, error)
}

// HistoryRecorder persists resolved queries.
type HistoryRecorder interface {
	InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error
}

// Result is the answer to one query.
type Result struct {
	ID          string     `json:"id"`
	Explanation string     `json:"explanation"`
	Intent      Intent     `json:"query_intent"`
	Results     []NoteView `json:"results"`
}

type Resolver struct {
	parser  Parser
	notes   Notes
	history HistoryRecorder

	relatedMinStrength float64
	similarityMin      float64
}

func NewResolver(parser Parser, notes Notes, cfg config.NoveltyConfig) *Resolver {
	return &Resolver{
		parser:             parser,
		notes:              notes,
		relatedMinStrength: cfg.RelatedMinStrength,
		similarityMin:      cfg.SimilarityThreshold,
	}
}

// WithHistory records every successfully resolved query.
func (r *Resolver) WithHistory(history HistoryRecorder) *Resolver {
	r.history = history
	return r
}

// Resolve parses text and executes the resulting intent.
func (r *Resolver) Resolve(ctx context.Context, text string) (*Result, error) {
	start := time.Now()

	intent, err := r.parser.Parse(ctx, text)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("unparsed", "error").Inc()
		return nil, err
	}

	result, err := r.Execute(ctx, *intent)
	if err != nil {
		return nil, err
	}

	latency := time.Since(start)
	metrics.QueryDuration.WithLabelValues(intent.Operation).Observe(latency.Seconds())

	if r.history != nil {
		record := &models.QueryRecord{
			ID:          result.ID,
			QueryText:   text,
			Operation:   intent.Operation,
			ResultCount: len(result.Results),
			Explanation: result.Explanation,
			LatencyMS:   int(latency.Milliseconds()),
			CreatedAt:   time.Now().UTC(),
		}
		if err := r.history.InsertQueryRecord(ctx, record); err != nil {
			logger.Warn("Failed to record query", zap.String("query_id", result.ID), zap.Error(err))
		}
	}

	return result, nil
}

// Execute dispatches an already structured intent.
func (r *Resolver) Execute(ctx context.Context, intent Intent) (*Result, error) {
	if err := intent.Validate(); err != nil {
		metrics.QueryTotal.WithLabelValues(intent.Operation, apperr.Code(err)).Inc()
		return nil, err
	}

	var notes []*models.Note
	var explanation string
	var err error

	switch intent.Operation {
	case OpKeywordSearch:
		notes, err = r.notes.Search(ctx, models.Predicate{
			Keywords:    intent.Keywords,
			Tags:        intent.Tags,
			SourceTypes: intent.SourceTypes,
			OnlyNew:     intent.OnlyNew,
		})
		explanation = fmt.Sprintf("Found %d notes matching your keywords", len(notes))

	case OpTagSearch:
		notes, err = r.notes.Search(ctx, models.Predicate{
			Tags:        intent.Tags,
			SourceTypes: intent.SourceTypes,
			OnlyNew:     intent.OnlyNew,
		})
		explanation = fmt.Sprintf("Found %d notes with the specified tags", len(notes))

	case OpRelatedContent:
		notes, err = r.notes.Related(ctx, intent.NodeID, orDefault(intent.MinSimilarity, r.relatedMinStrength))
		explanation = fmt.Sprintf("Found %d related notes", len(notes))

	case OpSimilaritySearch:
		var matches []linking.Match
		matches, err = r.notes.SimilarContent(ctx, intent.NodeID, orDefault(intent.MinSimilarity, r.similarityMin))
		for _, m := range matches {
			notes = append(notes, m.Note)
		}
		explanation = fmt.Sprintf("Found %d similar notes", len(notes))
	}

	if err != nil {
		metrics.QueryTotal.WithLabelValues(intent.Operation, apperr.Code(err)).Inc()
		return nil, fmt.Errorf("failed to execute %s: %w", intent.Operation, err)
	}

	views := make([]NoteView, len(notes))
	for i, n := range notes {
		views[i] = View(n)
	}

	metrics.QueryTotal.WithLabelValues(intent.Operation, "ok").Inc()
	metrics.QueryResultsCount.Observe(float64(len(views)))

	logger.Info("Query executed",
		zap.String("operation", intent.Operation),
		zap.Int("results", len(views)),
	)

	return &Result{
		ID:          uuid.NewString(),
		Explanation: explanation,
		Intent:      intent,
		Results:     views,
	}, nil
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
