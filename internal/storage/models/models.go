package models

import (
	"slices"
	"sort"
	"strings"
	"time"
)

type SourceType string

const (
	SourcePDF   SourceType = "pdf"
	SourceAudio SourceType = "audio"
	SourceVideo SourceType = "video"
	SourceWeb   SourceType = "web"
	SourceText  SourceType = "text"
)

const RelationSemanticSimilarity = "semantic_similarity"

// Note is one unit of knowledge. Tags, Entities and RelatedNodes are sets;
// they are kept sorted and free of duplicates.
type Note struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	SourceType       SourceType        `json:"source_type"`
	SourcePath       string            `json:"source_path"`
	ContentHash      string            `json:"content_hash"`
	Summary          string            `json:"summary"`
	MainPoints       []string          `json:"main_points"`
	KeyConcepts      map[string]string `json:"key_concepts"`
	CreatedAt        time.Time         `json:"created_at"`
	LastModified     time.Time         `json:"last_modified"`
	IsNewInformation bool              `json:"is_new_information"`
	ConfidenceScore  float64           `json:"confidence_score"`
	Tags             []string          `json:"tags"`
	Entities         []string          `json:"entities"`
	RelatedNodes     []string          `json:"related_nodes"`
}

// Clone returns a deep copy so stores never share slices or maps with callers.
func (n *Note) Clone() *Note {
	c := *n
	c.MainPoints = slices.Clone(n.MainPoints)
	c.Tags = slices.Clone(n.Tags)
	c.Entities = slices.Clone(n.Entities)
	c.RelatedNodes = slices.Clone(n.RelatedNodes)
	if n.KeyConcepts != nil {
		c.KeyConcepts = make(map[string]string, len(n.KeyConcepts))
		for k, v := range n.KeyConcepts {
			c.KeyConcepts[k] = v
		}
	}
	return &c
}

// ConceptNames returns the key concept names in sorted order.
func (n *Note) ConceptNames() []string {
	names := make([]string, 0, len(n.KeyConcepts))
	for name := range n.KeyConcepts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddRelated records id in the denormalized related-node set.
func (n *Note) AddRelated(id string) {
	n.RelatedNodes = SetOf(append(n.RelatedNodes, id)...)
}

// Edge is a directed relationship between two notes.
type Edge struct {
	SourceID         string    `json:"source_id"`
	TargetID         string    `json:"target_id"`
	RelationshipType string    `json:"relationship_type"`
	Strength         float64   `json:"strength"`
	SharedTags       []string  `json:"shared_tags"`
	CreatedAt        time.Time `json:"created_at"`
}

// Predicate filters notes. Each non-nil field narrows the result; within a
// list field any element may match.
type Predicate struct {
	Keywords      []string
	Tags          []string
	Entities      []string
	SourceTypes   []string
	OnlyNew       *bool
	MinConfidence *float64
}

// Matches applies the predicate to a single note. Keyword matching is a
// case-sensitive substring test against the summary.
func (p Predicate) Matches(n *Note) bool {
	if len(p.Keywords) > 0 && !anyKeyword(n.Summary, p.Keywords) {
		return false
	}
	if len(p.Tags) > 0 && !Intersects(n.Tags, p.Tags) {
		return false
	}
	if len(p.Entities) > 0 && !Intersects(n.Entities, p.Entities) {
		return false
	}
	if len(p.SourceTypes) > 0 && !slices.Contains(p.SourceTypes, string(n.SourceType)) {
		return false
	}
	if p.OnlyNew != nil && n.IsNewInformation != *p.OnlyNew {
		return false
	}
	if p.MinConfidence != nil && n.ConfidenceScore < *p.MinConfidence {
		return false
	}
	return true
}

func anyKeyword(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// SetOf returns the sorted distinct values.
func SetOf(values ...string) []string {
	out := append([]string{}, values...)
	sort.Strings(out)
	return slices.Compact(out)
}

// Intersection returns the sorted values present in both a and b.
func Intersection(a, b []string) []string {
	in := make(map[string]struct{}, len(b))
	for _, v := range b {
		in[v] = struct{}{}
	}
	out := []string{}
	for _, v := range SetOf(a...) {
		if _, ok := in[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

func Intersects(a, b []string) bool {
	return len(Intersection(a, b)) > 0
}

func Bool(v bool) *bool { return &v }

func Float(v float64) *float64 { return &v }

// QueryRecord is one resolved free-text query, kept for history.
type QueryRecord struct {
	ID          string    `json:"id"`
	QueryText   string    `json:"query"`
	Operation   string    `json:"operation"`
	ResultCount int       `json:"result_count"`
	Explanation string    `json:"explanation"`
	LatencyMS   int       `json:"latency_ms"`
	CreatedAt   time.Time `json:"created_at"`
}
