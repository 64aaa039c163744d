package neo4j

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/zettel-agent/backend/internal/apperr"
	"github.com/zettel-agent/backend/internal/storage/models"
	"github.com/zettel-agent/backend/pkg/circuitbreaker"
	"github.com/zettel-agent/backend/pkg/config"
	"github.com/zettel-agent/backend/pkg/logger"
	"github.com/zettel-agent/backend/pkg/retry"
)

const constraintViolation = "Neo.ClientError.Schema.ConstraintValidationFailed"

const noteReturn = `
	RETURN n.id AS id, n.title AS title, n.source_type AS source_type, n.source_path AS source_path,
	       n.content_hash AS content_hash, n.summary AS summary, n.main_points AS main_points,
	       n.key_concepts AS key_concepts, n.created_at AS created_at, n.last_modified AS last_modified,
	       n.is_new_information AS is_new_information, n.confidence_score AS confidence_score,
	       n.tags AS tags, n.entities AS entities,
	       [(n)-[:RELATED]->(m:Note) | m.id] AS related_nodes`

// Client is a NoteStore backed by a Neo4j graph. Notes are :Note nodes and
// similarity edges are :RELATED relationships.
type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(cfg config.Neo4jConfig) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = driver.VerifyConnectivity(ctx)
	if err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsSuccessful: func(err error) bool {
			return err == nil || apperr.KindOf(err) != nil
		},
		Logger: logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Retryable:      isTransient,
		Logger:         logger.GetLogger(),
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}

	logger.Info("Neo4j client initialized", zap.String("uri", cfg.URI), zap.String("database", database))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

// Setup creates the uniqueness constraints the store relies on.
func (c *Client) Setup(ctx context.Context) error {
	statements := []string{
		`CREATE CONSTRAINT unique_note_id IF NOT EXISTS FOR (n:Note) REQUIRE n.id IS UNIQUE`,
		`CREATE CONSTRAINT unique_content_hash IF NOT EXISTS FOR (n:Note) REQUIRE n.content_hash IS UNIQUE`,
		`CREATE INDEX note_created_at IF NOT EXISTS FOR (n:Note) ON (n.created_at)`,
	}
	for _, stmt := range statements {
		err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
			result, err := session.Run(ctx, stmt, nil)
			if err != nil {
				return err
			}
			_, err = result.Consume(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to set up schema: %w", err)
		}
	}

	logger.Info("Neo4j schema initialized")
	return nil
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

func (c *Client) Insert(ctx context.Context, note *models.Note) (*models.Note, error) {
	keyConcepts, err := json.Marshal(note.KeyConcepts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key concepts: %w", err)
	}

	props := map[string]any{
		"id":                 note.ID,
		"title":              note.Title,
		"source_type":        string(note.SourceType),
		"source_path":        note.SourcePath,
		"content_hash":       note.ContentHash,
		"summary":            note.Summary,
		"main_points":        orEmpty(note.MainPoints),
		"key_concepts":       string(keyConcepts),
		"created_at":         note.CreatedAt.UnixNano(),
		"last_modified":      note.LastModified.UnixNano(),
		"is_new_information": note.IsNewInformation,
		"confidence_score":   note.ConfidenceScore,
		"tags":               models.SetOf(note.Tags...),
		"entities":           models.SetOf(note.Entities...),
	}

	err = c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		result, err := session.Run(ctx, `CREATE (n:Note) SET n = $props`, map[string]any{"props": props})
		if err == nil {
			_, err = result.Consume(ctx)
		}
		if err != nil {
			var neoErr *neo4j.Neo4jError
			if errors.As(err, &neoErr) && neoErr.Code == constraintViolation {
				return retry.Permanent(apperr.DuplicateContent(note.ID, note.ContentHash))
			}
			return fmt.Errorf("failed to create note: %w", err)
		}
		return nil
	})
	if errors.Is(err, apperr.ErrDuplicateContent) {
		return nil, apperr.DuplicateContent(c.ownerOf(ctx, note), note.ContentHash)
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("Note created in graph", zap.String("note_id", note.ID), zap.String("title", note.Title))
	return note, nil
}

// ownerOf names the stored note that blocked inserting note.
func (c *Client) ownerOf(ctx context.Context, note *models.Note) string {
	notes, err := c.collect(ctx, `MATCH (n:Note {content_hash: $hash})`+noteReturn, map[string]any{"hash": note.ContentHash})
	if err != nil || len(notes) == 0 {
		return note.ID
	}
	return notes[0].ID
}

func (c *Client) AddEdge(ctx context.Context, edge *models.Edge) error {
	query := `
		MATCH (s:Note {id: $source_id})
		MATCH (t:Note {id: $target_id})
		CREATE (s)-[r:RELATED]->(t)
		SET r.relationship_type = $relationship_type,
		    r.strength = $strength,
		    r.shared_tags = $shared_tags,
		    r.created_at = $created_at
	`

	return c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		result, err := session.Run(ctx, query, map[string]any{
			"source_id":         edge.SourceID,
			"target_id":         edge.TargetID,
			"relationship_type": edge.RelationshipType,
			"strength":          edge.Strength,
			"shared_tags":       models.SetOf(edge.SharedTags...),
			"created_at":        edge.CreatedAt.UnixNano(),
		})
		if err != nil {
			return fmt.Errorf("failed to create relationship: %w", err)
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return fmt.Errorf("failed to create relationship: %w", err)
		}
		if summary.Counters().RelationshipsCreated() == 0 {
			return retry.Permanent(apperr.DanglingReference(edge.SourceID, edge.TargetID))
		}
		return nil
	})
}

func (c *Client) Get(ctx context.Context, id string) (*models.Note, error) {
	notes, err := c.collect(ctx, `MATCH (n:Note {id: $id})`+noteReturn, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(notes) == 0 {
		return nil, apperr.NoteNotFound(id)
	}
	return notes[0], nil
}

func (c *Client) Search(ctx context.Context, predicate models.Predicate) ([]*models.Note, error) {
	var conditions []string
	params := map[string]any{}

	if len(predicate.Keywords) > 0 {
		conditions = append(conditions, "ANY(keyword IN $keywords WHERE n.summary CONTAINS keyword)")
		params["keywords"] = predicate.Keywords
	}
	if len(predicate.Tags) > 0 {
		conditions = append(conditions, "ANY(tag IN n.tags WHERE tag IN $tags)")
		params["tags"] = predicate.Tags
	}
	if len(predicate.Entities) > 0 {
		conditions = append(conditions, "ANY(entity IN n.entities WHERE entity IN $entities)")
		params["entities"] = predicate.Entities
	}
	if len(predicate.SourceTypes) > 0 {
		conditions = append(conditions, "n.source_type IN $source_types")
		params["source_types"] = predicate.SourceTypes
	}
	if predicate.OnlyNew != nil {
		conditions = append(conditions, "n.is_new_information = $only_new")
		params["only_new"] = *predicate.OnlyNew
	}
	if predicate.MinConfidence != nil {
		conditions = append(conditions, "n.confidence_score >= $min_confidence")
		params["min_confidence"] = *predicate.MinConfidence
	}

	query := "MATCH (n:Note)"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += noteReturn + " ORDER BY n.created_at DESC, id(n) DESC"

	return c.collect(ctx, query, params)
}

func (c *Client) EdgesFrom(ctx context.Context, id string, minStrength float64) ([]*models.Note, error) {
	query := `
		MATCH (:Note {id: $id})-[r:RELATED]->(n:Note)
		WHERE r.strength >= $min_strength
		WITH n, r
		ORDER BY r.strength DESC, id(r) ASC` + noteReturn

	return c.collect(ctx, query, map[string]any{"id": id, "min_strength": minStrength})
}

func (c *Client) collect(ctx context.Context, query string, params map[string]any) ([]*models.Note, error) {
	var notes []*models.Note

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		notes = []*models.Note{}

		result, err := session.Run(ctx, query, params)
		if err != nil {
			return fmt.Errorf("failed to query notes: %w", err)
		}

		for result.Next(ctx) {
			note, err := recordToNote(result.Record())
			if err != nil {
				return retry.Permanent(err)
			}
			notes = append(notes, note)
		}

		if err = result.Err(); err != nil {
			return fmt.Errorf("error iterating results: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return notes, nil
}

func recordToNote(record *neo4j.Record) (*models.Note, error) {
	get := func(key string) any {
		v, _ := record.Get(key)
		return v
	}

	n := &models.Note{
		ID:               asString(get("id")),
		Title:            asString(get("title")),
		SourceType:       models.SourceType(asString(get("source_type"))),
		SourcePath:       asString(get("source_path")),
		ContentHash:      asString(get("content_hash")),
		Summary:          asString(get("summary")),
		MainPoints:       asStrings(get("main_points")),
		CreatedAt:        time.Unix(0, asInt(get("created_at"))).UTC(),
		LastModified:     time.Unix(0, asInt(get("last_modified"))).UTC(),
		Tags:             asStrings(get("tags")),
		Entities:         asStrings(get("entities")),
		RelatedNodes:     models.SetOf(asStrings(get("related_nodes"))...),
		IsNewInformation: get("is_new_information") == true,
	}
	if f, ok := get("confidence_score").(float64); ok {
		n.ConfidenceScore = f
	}

	if raw := asString(get("key_concepts")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &n.KeyConcepts); err != nil {
			return nil, fmt.Errorf("failed to decode key concepts of note %s: %w", n.ID, err)
		}
	}
	return n, nil
}

// isTransient retries transient server errors and driver or network
// failures. Client errors such as syntax or constraint failures are final.
func isTransient(err error) bool {
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		return strings.HasPrefix(neoErr.Code, "Neo.TransientError")
	}
	return true
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int64 {
	i, _ := v.(int64)
	return i
}

func asStrings(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
