package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IngestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zettel_ingest_duration_seconds",
			Help:    "Note ingestion duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"source_type"},
	)

	NotesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zettel_notes_ingested_total",
			Help: "Total notes stored, by novelty classification",
		},
		[]string{"novelty"},
	)

	IngestFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zettel_ingest_failures_total",
			Help: "Total failed ingestions, by error kind",
		},
		[]string{"kind"},
	)

	NoveltyScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zettel_novelty_score",
			Help:    "Novelty score of ingested notes",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	EdgesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zettel_edges_created_total",
			Help: "Total similarity edges created",
		},
	)

	EdgeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zettel_edge_failures_total",
			Help: "Total similarity edges that could not be created",
		},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zettel_query_duration_seconds",
			Help:    "Free-text query resolution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"operation"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zettel_query_total",
			Help: "Total free-text queries resolved",
		},
		[]string{"operation", "status"},
	)

	QueryResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zettel_query_results_count",
			Help:    "Number of notes returned per query",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	ResponseConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zettel_response_confidence",
			Help:    "Mean confidence of the knowledge used per chat response",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	ChatTurns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zettel_chat_turns_total",
			Help: "Total chat turns answered",
		},
		[]string{"status"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zettel_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zettel_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zettel_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(IngestDuration)
		prometheus.MustRegister(NotesIngested)
		prometheus.MustRegister(IngestFailures)
		prometheus.MustRegister(NoveltyScore)
		prometheus.MustRegister(EdgesCreated)
		prometheus.MustRegister(EdgeFailures)
		prometheus.MustRegister(QueryDuration)
		prometheus.MustRegister(QueryTotal)
		prometheus.MustRegister(QueryResultsCount)
		prometheus.MustRegister(ResponseConfidence)
		prometheus.MustRegister(ChatTurns)
		prometheus.MustRegister(LLMTokensUsed)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
