package handlers

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/multierr"

	"github.com/zettel-agent/backend/internal/ingestion"
	"github.com/zettel-agent/backend/internal/linking"
	"github.com/zettel-agent/backend/internal/storage/models"
	"github.com/zettel-agent/backend/pkg/config"
)

// NoteService is the read side of the note graph.
type NoteService interface {
	Get(ctx context.Context, id string) (*models.Note, error)
	Search(ctx context.Context, predicate models.Predicate) ([]*models.Note, error)
	Related(ctx context.Context, id string, minStrength float64) ([]*models.Note, error)
	SimilarContent(ctx context.Context, id string, minSimilarity float64) ([]linking.Match, error)
	AnalyzeNovelty(ctx context.Context, id string) (*linking.NoveltyReport, error)
}

// SourceProcessor ingests one source into the note graph.
type SourceProcessor interface {
	Process(ctx context.Context, src ingestion.Source) (*linking.IngestResult, error)
}

type NotesHandler struct {
	notes     NoteService
	processor SourceProcessor
	novelty   config.NoveltyConfig
}

func NewNotesHandler(notes NoteService, processor SourceProcessor, novelty config.NoveltyConfig) *NotesHandler {
	return &NotesHandler{notes: notes, processor: processor, novelty: novelty}
}

type ingestRequest struct {
	URL        string `json:"url"`
	Content    string `json:"content"`
	Title      string `json:"title"`
	SourceType string `json:"source_type"`
}

type similarView struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// Ingest accepts a URL, inline content or a multipart file upload.
func (h *NotesHandler) Ingest(c *fiber.Ctx) error {
	src, err := h.source(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.processor.Process(c.UserContext(), src)
	if err != nil {
		return respondError(c, err)
	}

	similar := make([]similarView, len(result.Similar))
	for i, m := range result.Similar {
		similar[i] = similarView{ID: m.Note.ID, Title: m.Note.Title, Score: m.Score}
	}
	edgeErrors := []string{}
	for _, err := range multierr.Errors(result.EdgeErr) {
		edgeErrors = append(edgeErrors, err.Error())
	}

	note := result.Note
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":                 note.ID,
		"title":              note.Title,
		"source_type":        note.SourceType,
		"summary":            note.Summary,
		"tags":               note.Tags,
		"is_new_information": note.IsNewInformation,
		"confidence_score":   note.ConfidenceScore,
		"similar":            similar,
		"edge_errors":        edgeErrors,
	})
}

func (h *NotesHandler) source(c *fiber.Ctx) (ingestion.Source, error) {
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		header, err := c.FormFile("file")
		if err != nil {
			return ingestion.Source{}, fiber.NewError(fiber.StatusBadRequest, "file is required")
		}
		f, err := header.Open()
		if err != nil {
			return ingestion.Source{}, err
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			return ingestion.Source{}, err
		}
		return ingestion.Source{
			Type: models.SourceType(c.FormValue("source_type")),
			Path: header.Filename,
			Data: data,
		}, nil
	}

	var req ingestRequest
	if err := c.BodyParser(&req); err != nil {
		return ingestion.Source{}, fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	switch {
	case req.URL != "" && req.Content == "":
		return ingestion.Source{Type: models.SourceType(req.SourceType), Path: req.URL}, nil
	case req.Content != "":
		src := ingestion.Source{Type: models.SourceType(req.SourceType), Path: req.URL, Data: []byte(req.Content)}
		if src.Path == "" {
			src.Path = req.Title
		}
		if src.Type == "" {
			src.Type = models.SourceText
		}
		return src, nil
	default:
		return ingestion.Source{}, fiber.NewError(fiber.StatusBadRequest, "url or content is required")
	}
}

func (h *NotesHandler) Get(c *fiber.Ctx) error {
	note, err := h.notes.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(note)
}

// Search filters notes by the predicate given in query parameters. List
// parameters are comma separated.
func (h *NotesHandler) Search(c *fiber.Ctx) error {
	predicate := models.Predicate{
		Keywords:    splitList(c.Query("keywords")),
		Tags:        splitList(c.Query("tags")),
		Entities:    splitList(c.Query("entities")),
		SourceTypes: splitList(c.Query("source_types")),
	}
	if v := c.Query("only_new"); v != "" {
		onlyNew, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest(c, "only_new must be a boolean")
		}
		predicate.OnlyNew = &onlyNew
	}
	if v := c.Query("min_confidence"); v != "" {
		minConfidence, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return badRequest(c, "min_confidence must be a number")
		}
		predicate.MinConfidence = &minConfidence
	}

	notes, err := h.notes.Search(c.UserContext(), predicate)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"notes": orEmpty(notes), "count": len(notes)})
}

func (h *NotesHandler) Related(c *fiber.Ctx) error {
	minStrength, err := floatQuery(c, "min_strength", h.novelty.RelatedMinStrength)
	if err != nil {
		return badRequest(c, err.Error())
	}

	notes, err := h.notes.Related(c.UserContext(), c.Params("id"), minStrength)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"notes": orEmpty(notes), "count": len(notes)})
}

func (h *NotesHandler) Similar(c *fiber.Ctx) error {
	minSimilarity, err := floatQuery(c, "min_similarity", h.novelty.SimilarityThreshold)
	if err != nil {
		return badRequest(c, err.Error())
	}

	matches, err := h.notes.SimilarContent(c.UserContext(), c.Params("id"), minSimilarity)
	if err != nil {
		return respondError(c, err)
	}
	if matches == nil {
		matches = []linking.Match{}
	}
	return c.JSON(fiber.Map{"matches": matches, "count": len(matches)})
}

func (h *NotesHandler) Novelty(c *fiber.Ctx) error {
	report, err := h.notes.AnalyzeNovelty(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(report)
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func floatQuery(c *fiber.Ctx, key string, def float64) (float64, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || f > 1 {
		return 0, fiber.NewError(fiber.StatusBadRequest, key+" must be a number between 0 and 1")
	}
	return f, nil
}

func orEmpty(notes []*models.Note) []*models.Note {
	if notes == nil {
		return []*models.Note{}
	}
	return notes
}
