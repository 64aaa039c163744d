// Package linking decides whether newly ingested notes carry new information
// and wires them into the weighted similarity graph.
package linking

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/zettel-agent/backend/internal/apperr"
	"github.com/zettel-agent/backend/internal/metrics"
	"github.com/zettel-agent/backend/internal/similarity"
	"github.com/zettel-agent/backend/internal/storage"
	"github.com/zettel-agent/backend/internal/storage/models"
	"github.com/zettel-agent/backend/pkg/config"
	"github.com/zettel-agent/backend/pkg/logger"
	"github.com/zettel-agent/backend/pkg/utils"
)

// semanticCap is the number of similar notes at which semantic novelty
// reaches zero.
const semanticCap = 10.0

// NoteInput is a summarized content item ready to become a note.
type NoteInput struct {
	Title      string
	SourceType models.SourceType
	SourcePath string
	// Content is the extracted text. Its digest becomes the content hash
	// unless ContentHash is set.
	Content     string
	ContentHash string
	Summary     string
	MainPoints  []string
	KeyConcepts map[string]string
	Tags        []string
	Entities    []string
}

func (in NoteInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Summary, validation.Required),
		validation.Field(&in.SourceType, validation.Required, validation.In(
			models.SourcePDF, models.SourceAudio, models.SourceVideo, models.SourceWeb, models.SourceText,
		)),
		validation.Field(&in.Content, validation.When(in.ContentHash == "", validation.Required)),
	)
}

// Match is a stored note together with its similarity to another note.
type Match struct {
	Note  *models.Note `json:"note"`
	Score float64      `json:"score"`
}

// IngestResult describes a stored note. EdgeErr collects edges that could
// not be created; the note itself was stored regardless.
type IngestResult struct {
	Note    *models.Note
	Novelty float64
	Similar []Match
	EdgeErr error
}

// NoveltyReport breaks a note's novelty down by signal.
type NoveltyReport struct {
	OverallNovelty   float64 `json:"overall_novelty"`
	TagNovelty       float64 `json:"tag_novelty"`
	ConceptNovelty   float64 `json:"concept_novelty"`
	SemanticNovelty  float64 `json:"semantic_novelty"`
	SimilarDocuments int     `json:"similar_documents"`
	Confidence       float64 `json:"confidence"`
}

type Engine struct {
	store      storage.NoteStore
	similarity *similarity.Engine
	cfg        config.NoveltyConfig

	ingestMu sync.Mutex
	now      func() time.Time
}

func NewEngine(store storage.NoteStore, sim *similarity.Engine, cfg config.NoveltyConfig) *Engine {
	return &Engine{
		store:      store,
		similarity: sim,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Ingest scores in against every stored note, stores it and links it to the
// notes it resembles.
//
// The read-score-insert sequence is not atomic: two concurrent ingestions of
// similar content can both judge themselves new. Set
// NoveltyConfig.SerializeIngestion to run ingestions one at a time.
func (e *Engine) Ingest(ctx context.Context, in NoteInput) (*IngestResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	if e.cfg.SerializeIngestion {
		e.ingestMu.Lock()
		defer e.ingestMu.Unlock()
	}

	start := time.Now()

	existing, err := e.store.Search(ctx, models.Predicate{})
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}

	matches, err := e.similarity.FindSimilar(ctx, in.Summary, summaries(existing), e.cfg.SimilarityThreshold)
	if err != nil {
		metrics.IngestFailures.WithLabelValues(apperr.Code(err)).Inc()
		return nil, fmt.Errorf("failed to score novelty: %w", err)
	}

	scores := similarity.Scores(matches)
	novelty := similarity.CombineNovelty(scores)

	note := e.newNote(in)
	note.ConfidenceScore = novelty
	note.IsNewInformation = e.isNew(novelty, scores)

	if _, err := e.store.Insert(ctx, note); err != nil {
		metrics.IngestFailures.WithLabelValues(apperr.Code(err)).Inc()
		return nil, fmt.Errorf("failed to insert note: %w", err)
	}

	result := &IngestResult{Note: note, Novelty: novelty}
	for _, m := range matches {
		target := existing[m.Index]
		edge := &models.Edge{
			SourceID:         note.ID,
			TargetID:         target.ID,
			RelationshipType: models.RelationSemanticSimilarity,
			Strength:         math.Min(m.Score, 1.0),
			SharedTags:       models.Intersection(note.Tags, target.Tags),
			CreatedAt:        note.CreatedAt,
		}
		if err := e.store.AddEdge(ctx, edge); err != nil {
			metrics.EdgeFailures.Inc()
			result.EdgeErr = multierr.Append(result.EdgeErr, err)
			continue
		}
		metrics.EdgesCreated.Inc()
		note.AddRelated(target.ID)
		result.Similar = append(result.Similar, Match{Note: target, Score: m.Score})
	}

	noveltyLabel := "known"
	if note.IsNewInformation {
		noveltyLabel = "new"
	}
	metrics.NotesIngested.WithLabelValues(noveltyLabel).Inc()
	metrics.NoveltyScore.Observe(novelty)
	metrics.IngestDuration.WithLabelValues(string(note.SourceType)).Observe(time.Since(start).Seconds())

	logger.Info("Note ingested",
		zap.String("note_id", note.ID),
		zap.String("title", note.Title),
		zap.Float64("novelty", novelty),
		zap.Bool("is_new", note.IsNewInformation),
		zap.Int("corpus_size", len(existing)),
		zap.Int("similar_count", len(matches)),
		zap.Int("edge_failures", len(multierr.Errors(result.EdgeErr))),
	)

	return result, nil
}

// isNew applies the novelty threshold. A match at or above the
// near-duplicate score makes the note known regardless of its novelty,
// since a single exact match alone still scores 0.4.
func (e *Engine) isNew(novelty float64, scores []float64) bool {
	for _, s := range scores {
		if s >= e.cfg.NearDuplicateThreshold {
			return false
		}
	}
	return novelty > e.cfg.NoveltyThreshold
}

func (e *Engine) newNote(in NoteInput) *models.Note {
	now := e.now()

	title := in.Title
	if title == "" {
		title = "Untitled"
	}
	hash := in.ContentHash
	if hash == "" {
		hash = utils.ContentHash(in.Content)
	}
	concepts := make(map[string]string, len(in.KeyConcepts))
	for k, v := range in.KeyConcepts {
		concepts[k] = v
	}

	return &models.Note{
		ID:           uuid.NewString(),
		Title:        title,
		SourceType:   in.SourceType,
		SourcePath:   in.SourcePath,
		ContentHash:  hash,
		Summary:      in.Summary,
		MainPoints:   append([]string{}, in.MainPoints...),
		KeyConcepts:  concepts,
		CreatedAt:    now,
		LastModified: now,
		Tags:         models.SetOf(in.Tags...),
		Entities:     models.SetOf(in.Entities...),
		RelatedNodes: []string{},
	}
}

func (e *Engine) Get(ctx context.Context, id string) (*models.Note, error) {
	return e.store.Get(ctx, id)
}

func (e *Engine) Search(ctx context.Context, predicate models.Predicate) ([]*models.Note, error) {
	return e.store.Search(ctx, predicate)
}

// Related returns the notes id links to with at least minStrength,
// strongest first.
func (e *Engine) Related(ctx context.Context, id string, minStrength float64) ([]*models.Note, error) {
	if _, err := e.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return e.store.EdgesFrom(ctx, id, minStrength)
}

// SimilarContent compares a stored note's summary against every other
// note's summary. Results keep store order (newest first).
func (e *Engine) SimilarContent(ctx context.Context, id string, minSimilarity float64) ([]Match, error) {
	note, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	all, err := e.store.Search(ctx, models.Predicate{})
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}

	others := make([]*models.Note, 0, len(all))
	for _, n := range all {
		if n.ID != note.ID {
			others = append(others, n)
		}
	}

	matches, err := e.similarity.FindSimilar(ctx, note.Summary, summaries(others), minSimilarity)
	if err != nil {
		return nil, err
	}

	similar := make([]Match, len(matches))
	for i, m := range matches {
		similar[i] = Match{Note: others[m.Index], Score: m.Score}
	}
	return similar, nil
}

// AnalyzeNovelty scores how much of a note's tags, concepts and meaning is
// already present in the notes around it.
func (e *Engine) AnalyzeNovelty(ctx context.Context, id string) (*NoveltyReport, error) {
	note, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	related, err := e.Related(ctx, id, e.cfg.RelatedMinStrength)
	if err != nil {
		return nil, fmt.Errorf("failed to load related notes: %w", err)
	}
	similar, err := e.SimilarContent(ctx, id, e.cfg.SimilarityThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to find similar notes: %w", err)
	}

	concepts := note.ConceptNames()
	var tagOverlap, conceptOverlap int
	for _, r := range related {
		tagOverlap += len(models.Intersection(note.Tags, r.Tags))
		conceptOverlap += len(models.Intersection(concepts, r.ConceptNames()))
	}

	report := &NoveltyReport{
		TagNovelty:       overlapNovelty(tagOverlap, len(note.Tags), len(related)),
		ConceptNovelty:   overlapNovelty(conceptOverlap, len(concepts), len(related)),
		SemanticNovelty:  math.Max(0, 1-math.Min(float64(len(similar))/semanticCap, 1)),
		SimilarDocuments: len(similar),
		Confidence:       note.ConfidenceScore,
	}
	report.OverallNovelty = (report.TagNovelty + report.ConceptNovelty + report.SemanticNovelty) / 3

	return report, nil
}

func overlapNovelty(overlap, size, related int) float64 {
	return 1 - float64(overlap)/float64(max(1, size*related))
}

func summaries(notes []*models.Note) []string {
	out := make([]string, len(notes))
	for i, n := range notes {
		out[i] = n.Summary
	}
	return out
}
