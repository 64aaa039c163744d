package ingestion

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zettel-agent/backend/internal/apperr"
	"github.com/zettel-agent/backend/internal/linking"
	"github.com/zettel-agent/backend/internal/llm"
	"github.com/zettel-agent/backend/internal/metrics"
	"github.com/zettel-agent/backend/internal/storage/models"
	"github.com/zettel-agent/backend/pkg/logger"
)

type Summarizer interface {
	Summarize(ctx context.Context, text string) (*llm.Summary, error)
}

type Linker interface {
	Ingest(ctx context.Context, in linking.NoteInput) (*linking.IngestResult, error)
}

// Outcome is the result of ingesting one source in a batch.
type Outcome struct {
	Source Source
	Result *linking.IngestResult
	Err    error
}

type Processor struct {
	registry    *Registry
	summarizer  Summarizer
	linker      Linker
	concurrency int
}

func NewProcessor(registry *Registry, summarizer Summarizer, linker Linker, concurrency int) *Processor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Processor{
		registry:    registry,
		summarizer:  summarizer,
		linker:      linker,
		concurrency: concurrency,
	}
}

// DefaultRegistry registers the built-in web and text ingesters.
func DefaultRegistry(httpClient *http.Client) *Registry {
	registry := NewRegistry()
	registry.Register(models.SourceWeb, NewWebIngester(httpClient))
	registry.Register(models.SourceText, TextIngester{})
	return registry
}

// Process extracts, summarizes and links a single source.
func (p *Processor) Process(ctx context.Context, src Source) (*linking.IngestResult, error) {
	start := time.Now()
	logger.Info("Processing source", zap.String("path", src.Path), zap.String("source_type", string(src.Type)))

	content, err := p.registry.Extract(ctx, src)
	if err != nil {
		metrics.IngestFailures.WithLabelValues("extract").Inc()
		return nil, err
	}

	summary, err := p.summarizer.Summarize(ctx, content.Text)
	if err != nil {
		metrics.IngestFailures.WithLabelValues("summarize").Inc()
		return nil, fmt.Errorf("failed to summarize %s: %w", content.SourcePath, err)
	}

	result, err := p.linker.Ingest(ctx, linking.NoteInput{
		Title:       content.Title,
		SourceType:  content.SourceType,
		SourcePath:  content.SourcePath,
		Content:     content.Text,
		Summary:     summary.Summary,
		MainPoints:  summary.MainPoints,
		KeyConcepts: summary.KeyConcepts,
		Tags:        summary.Topics,
		Entities:    summary.Entities,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Source processed",
		zap.String("path", content.SourcePath),
		zap.String("note_id", result.Note.ID),
		zap.Duration("duration", time.Since(start)),
	)

	return result, nil
}

// IngestAll processes sources with bounded concurrency. One source failing
// does not stop the others; outcomes keep the input order.
func (p *Processor) IngestAll(ctx context.Context, sources []Source) []Outcome {
	outcomes := make([]Outcome, len(sources))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, src := range sources {
		i, src := i, src
		outcomes[i].Source = src
		g.Go(func() error {
			result, err := p.Process(ctx, src)
			outcomes[i].Result = result
			outcomes[i].Err = err
			if err != nil {
				logger.Warn("Failed to ingest source",
					zap.String("path", src.Path),
					zap.String("kind", apperr.Code(err)),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}
