package query

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/zettel-agent/backend/internal/apperr"
	"github.com/zettel-agent/backend/internal/storage/models"
)

const (
	OpKeywordSearch    = "keyword_search"
	OpTagSearch        = "tag_search"
	OpRelatedContent   = "related_content"
	OpSimilaritySearch = "similarity_search"
)

// Intent is the structured reading of a free-text query.
type Intent struct {
	Operation     string   `json:"operation"`
	Keywords      []string `json:"keywords,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	SourceTypes   []string `json:"source_types,omitempty"`
	NodeID        string   `json:"node_id,omitempty"`
	OnlyNew       *bool    `json:"only_new,omitempty"`
	MinSimilarity *float64 `json:"min_similarity,omitempty"`
}

// Validate reports an unknown operation or a missing target first, then
// malformed fields.
func (i Intent) Validate() error {
	switch i.Operation {
	case OpKeywordSearch, OpTagSearch:
	case OpRelatedContent, OpSimilaritySearch:
		if i.NodeID == "" {
			return apperr.MissingTarget(i.Operation)
		}
	default:
		return apperr.UnknownOperation(i.Operation)
	}

	return validation.ValidateStruct(&i,
		validation.Field(&i.SourceTypes, validation.Each(validation.In(
			string(models.SourcePDF),
			string(models.SourceAudio),
			string(models.SourceVideo),
			string(models.SourceWeb),
			string(models.SourceText),
		))),
		validation.Field(&i.MinSimilarity, validation.Min(0.0), validation.Max(1.0)),
	)
}

// NoteView is the projection of a note returned to query callers.
type NoteView struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Tags       []string `json:"tags"`
	IsNew      bool     `json:"is_new"`
	Confidence float64  `json:"confidence"`
}

func View(n *models.Note) NoteView {
	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}
	return NoteView{
		ID:         n.ID,
		Title:      n.Title,
		Summary:    n.Summary,
		Tags:       tags,
		IsNew:      n.IsNewInformation,
		Confidence: n.ConfidenceScore,
	}
}
