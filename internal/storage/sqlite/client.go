package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/zettel-agent/backend/internal/apperr"
	"github.com/zettel-agent/backend/internal/storage/models"
	"github.com/zettel-agent/backend/pkg/logger"
)

const noteColumns = `n.id, n.title, n.source_type, n.source_path, n.content_hash, n.summary,
	n.main_points, n.key_concepts, n.created_at, n.last_modified, n.is_new_information,
	n.confidence_score, n.tags, n.entities,
	(SELECT json_group_array(DISTINCT e.target_id) FROM note_edges e WHERE e.source_id = n.id)`

// Client is a NoteStore backed by a single SQLite file. Writes are
// serialized through one connection so the content-hash UNIQUE constraint
// decides concurrent duplicate inserts.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	if isFilePath(dbPath) {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

// dsn applies per-connection settings so every pooled connection enforces
// foreign keys, not only the first one.
func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_busy_timeout=5000&_foreign_keys=on"
}

func isFilePath(dbPath string) bool {
	return dbPath != ":memory:" && !strings.HasPrefix(dbPath, "file:")
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_path TEXT NOT NULL,
		content_hash TEXT UNIQUE NOT NULL,
		summary TEXT NOT NULL,
		main_points TEXT NOT NULL DEFAULT '[]',
		key_concepts TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		last_modified INTEGER NOT NULL,
		is_new_information INTEGER NOT NULL,
		confidence_score REAL NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		entities TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_notes_created ON notes(created_at);
	CREATE INDEX IF NOT EXISTS idx_notes_source_type ON notes(source_type);

	CREATE TABLE IF NOT EXISTS note_edges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		relationship_type TEXT NOT NULL,
		strength REAL NOT NULL,
		shared_tags TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		FOREIGN KEY (source_id) REFERENCES notes(id) ON DELETE CASCADE,
		FOREIGN KEY (target_id) REFERENCES notes(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_edges_source ON note_edges(source_id);
	CREATE INDEX IF NOT EXISTS idx_edges_strength ON note_edges(strength);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		query_text TEXT NOT NULL,
		operation TEXT,
		result_count INTEGER,
		explanation TEXT,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) Insert(ctx context.Context, note *models.Note) (*models.Note, error) {
	query := `
		INSERT INTO notes (id, title, source_type, source_path, content_hash, summary, main_points,
			key_concepts, created_at, last_modified, is_new_information, confidence_score, tags, entities)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		note.ID,
		note.Title,
		string(note.SourceType),
		note.SourcePath,
		note.ContentHash,
		note.Summary,
		marshalJSON(orEmpty(note.MainPoints)),
		marshalJSON(note.KeyConcepts),
		note.CreatedAt.UnixNano(),
		note.LastModified.UnixNano(),
		note.IsNewInformation,
		note.ConfidenceScore,
		marshalJSON(models.SetOf(note.Tags...)),
		marshalJSON(models.SetOf(note.Entities...)),
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey) {
			return nil, apperr.DuplicateContent(c.ownerOf(ctx, note), note.ContentHash)
		}
		return nil, fmt.Errorf("failed to insert note: %w", err)
	}

	logger.Debug("Note inserted", zap.String("note_id", note.ID), zap.String("title", note.Title))
	return note, nil
}

// ownerOf names the stored note that blocked inserting note.
func (c *Client) ownerOf(ctx context.Context, note *models.Note) string {
	var id string
	err := c.db.QueryRowContext(ctx, `SELECT id FROM notes WHERE content_hash = ?`, note.ContentHash).Scan(&id)
	if err != nil {
		return note.ID
	}
	return id
}

func (c *Client) AddEdge(ctx context.Context, edge *models.Edge) error {
	query := `
		INSERT INTO note_edges (source_id, target_id, relationship_type, strength, shared_tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		edge.SourceID,
		edge.TargetID,
		edge.RelationshipType,
		edge.Strength,
		marshalJSON(models.SetOf(edge.SharedTags...)),
		edge.CreatedAt.UnixNano(),
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return apperr.DanglingReference(edge.SourceID, edge.TargetID)
		}
		return fmt.Errorf("failed to insert edge: %w", err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, id string) (*models.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes n WHERE n.id = ?`

	note, err := scanNote(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NoteNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return note, nil
}

func (c *Client) Search(ctx context.Context, predicate models.Predicate) ([]*models.Note, error) {
	var conditions []string
	var args []any

	if len(predicate.Keywords) > 0 {
		var ors []string
		for _, k := range predicate.Keywords {
			ors = append(ors, "instr(n.summary, ?) > 0")
			args = append(args, k)
		}
		conditions = append(conditions, "("+strings.Join(ors, " OR ")+")")
	}
	if len(predicate.Tags) > 0 {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM json_each(n.tags) t WHERE t.value IN ("+placeholders(len(predicate.Tags))+"))")
		args = appendStrings(args, predicate.Tags)
	}
	if len(predicate.Entities) > 0 {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM json_each(n.entities) t WHERE t.value IN ("+placeholders(len(predicate.Entities))+"))")
		args = appendStrings(args, predicate.Entities)
	}
	if len(predicate.SourceTypes) > 0 {
		conditions = append(conditions, "n.source_type IN ("+placeholders(len(predicate.SourceTypes))+")")
		args = appendStrings(args, predicate.SourceTypes)
	}
	if predicate.OnlyNew != nil {
		conditions = append(conditions, "n.is_new_information = ?")
		args = append(args, *predicate.OnlyNew)
	}
	if predicate.MinConfidence != nil {
		conditions = append(conditions, "n.confidence_score >= ?")
		args = append(args, *predicate.MinConfidence)
	}

	query := `SELECT ` + noteColumns + ` FROM notes n`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY n.created_at DESC, n.rowid DESC"

	return c.queryNotes(ctx, query, args...)
}

func (c *Client) EdgesFrom(ctx context.Context, id string, minStrength float64) ([]*models.Note, error) {
	query := `SELECT ` + noteColumns + `
		FROM note_edges r
		JOIN notes n ON n.id = r.target_id
		WHERE r.source_id = ? AND r.strength >= ?
		ORDER BY r.strength DESC, r.id ASC`

	return c.queryNotes(ctx, query, id, minStrength)
}

func (c *Client) queryNotes(ctx context.Context, query string, args ...any) ([]*models.Note, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	notes := []*models.Note{}
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notes: %w", err)
	}
	return notes, nil
}

func (c *Client) InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error {
	query := `
		INSERT INTO query_history (id, query_text, operation, result_count, explanation, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		record.ID,
		record.QueryText,
		record.Operation,
		record.ResultCount,
		record.Explanation,
		record.LatencyMS,
		record.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	logger.Info("Query recorded",
		zap.String("query_id", record.ID),
		zap.String("operation", record.Operation),
		zap.Int("result_count", record.ResultCount),
	)
	return nil
}

func (c *Client) GetQueryHistory(ctx context.Context, limit int) ([]models.QueryRecord, error) {
	query := `
		SELECT id, query_text, operation, result_count, explanation, latency_ms, created_at
		FROM query_history
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var r models.QueryRecord
		var createdAt int64

		err := rows.Scan(&r.ID, &r.QueryText, &r.Operation, &r.ResultCount, &r.Explanation, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.CreatedAt = time.Unix(0, createdAt).UTC()
		records = append(records, r)
	}

	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(row scanner) (*models.Note, error) {
	var n models.Note
	var sourceType, mainPoints, keyConcepts, tags, entities, related string
	var createdAt, lastModified int64

	err := row.Scan(
		&n.ID,
		&n.Title,
		&sourceType,
		&n.SourcePath,
		&n.ContentHash,
		&n.Summary,
		&mainPoints,
		&keyConcepts,
		&createdAt,
		&lastModified,
		&n.IsNewInformation,
		&n.ConfidenceScore,
		&tags,
		&entities,
		&related,
	)
	if err != nil {
		return nil, err
	}

	n.SourceType = models.SourceType(sourceType)
	n.CreatedAt = time.Unix(0, createdAt).UTC()
	n.LastModified = time.Unix(0, lastModified).UTC()

	for _, field := range []struct {
		raw string
		dst any
	}{
		{mainPoints, &n.MainPoints},
		{keyConcepts, &n.KeyConcepts},
		{tags, &n.Tags},
		{entities, &n.Entities},
		{related, &n.RelatedNodes},
	} {
		if err := json.Unmarshal([]byte(field.raw), field.dst); err != nil {
			return nil, fmt.Errorf("failed to decode note %s: %w", n.ID, err)
		}
	}
	n.RelatedNodes = models.SetOf(n.RelatedNodes...)
	return &n, nil
}

func isConstraint(err error, codes ...sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	for _, code := range codes {
		if sqliteErr.ExtendedCode == code {
			return true
		}
	}
	return false
}

func marshalJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func appendStrings(args []any, values []string) []any {
	for _, v := range values {
		args = append(args, v)
	}
	return args
}
