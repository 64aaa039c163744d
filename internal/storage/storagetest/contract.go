// Package storagetest holds the behavioural tests every NoteStore backend
// must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zettel-agent/backend/internal/apperr"
	"github.com/zettel-agent/backend/internal/storage"
	"github.com/zettel-agent/backend/internal/storage/models"
	"github.com/zettel-agent/backend/pkg/utils"
)

// NewNote builds a valid note whose content hash derives from id.
func NewNote(id, summary string, createdAt time.Time) *models.Note {
	return &models.Note{
		ID:               id,
		Title:            "Note " + id,
		SourceType:       models.SourceWeb,
		SourcePath:       "https://example.com/" + id,
		ContentHash:      utils.ContentHash("content of " + id),
		Summary:          summary,
		MainPoints:       []string{"point of " + id},
		KeyConcepts:      map[string]string{"concept-" + id: "explanation"},
		CreatedAt:        createdAt,
		LastModified:     createdAt,
		IsNewInformation: true,
		ConfidenceScore:  1.0,
		Tags:             []string{"shared", "tag-" + id},
		Entities:         []string{"Entity" + id},
		RelatedNodes:     []string{},
	}
}

// RunContractTests exercises store against the NoteStore contract. newStore
// must return an empty store.
func RunContractTests(t *testing.T, newStore func(t *testing.T) storage.NoteStore) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("Insert and get round trip", func(t *testing.T) {
		store := newStore(t)
		note := NewNote("a", "alpha summary", base)

		created, err := store.Insert(ctx, note)
		require.NoError(t, err)
		assert.Equal(t, note.ID, created.ID)

		got, err := store.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, note.Title, got.Title)
		assert.Equal(t, note.Summary, got.Summary)
		assert.Equal(t, note.ContentHash, got.ContentHash)
		assert.Equal(t, note.MainPoints, got.MainPoints)
		assert.Equal(t, note.KeyConcepts, got.KeyConcepts)
		assert.Equal(t, note.Tags, got.Tags)
		assert.Equal(t, note.Entities, got.Entities)
		assert.Equal(t, note.SourceType, got.SourceType)
		assert.True(t, got.IsNewInformation)
		assert.InDelta(t, 1.0, got.ConfidenceScore, 1e-9)
		assert.True(t, note.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("Get unknown id", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, apperr.ErrNoteNotFound)
	})

	t.Run("Duplicate content hash is rejected", func(t *testing.T) {
		store := newStore(t)
		first := NewNote("a", "alpha", base)
		_, err := store.Insert(ctx, first)
		require.NoError(t, err)

		second := NewNote("b", "beta", base)
		second.ContentHash = first.ContentHash
		_, err = store.Insert(ctx, second)
		assert.ErrorIs(t, err, apperr.ErrDuplicateContent)

		var dup *apperr.Error
		require.True(t, errors.As(err, &dup))
		assert.Equal(t, "a", dup.NoteID, "duplicate names the stored owner of the hash")

		all, err := store.Search(ctx, models.Predicate{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("Concurrent duplicate inserts admit exactly one", func(t *testing.T) {
		store := newStore(t)
		hash := utils.ContentHash("same content")

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				note := NewNote(fmt.Sprintf("c%d", i), "same", base)
				note.ContentHash = hash
				if _, err := store.Insert(ctx, note); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				} else {
					assert.ErrorIs(t, err, apperr.ErrDuplicateContent)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, succeeded)
	})

	t.Run("Edges require both endpoints", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Insert(ctx, NewNote("a", "alpha", base))
		require.NoError(t, err)

		err = store.AddEdge(ctx, &models.Edge{SourceID: "a", TargetID: "ghost", RelationshipType: models.RelationSemanticSimilarity, Strength: 0.9, CreatedAt: base})
		assert.ErrorIs(t, err, apperr.ErrDanglingReference)

		err = store.AddEdge(ctx, &models.Edge{SourceID: "ghost", TargetID: "a", RelationshipType: models.RelationSemanticSimilarity, Strength: 0.9, CreatedAt: base})
		assert.ErrorIs(t, err, apperr.ErrDanglingReference)
	})

	t.Run("EdgesFrom filters and orders by strength", func(t *testing.T) {
		store := newStore(t)
		for _, id := range []string{"src", "weak", "mid", "strong"} {
			_, err := store.Insert(ctx, NewNote(id, id, base))
			require.NoError(t, err)
		}
		for id, strength := range map[string]float64{"weak": 0.3, "mid": 0.6, "strong": 0.95} {
			require.NoError(t, store.AddEdge(ctx, &models.Edge{
				SourceID:         "src",
				TargetID:         id,
				RelationshipType: models.RelationSemanticSimilarity,
				Strength:         strength,
				SharedTags:       []string{"shared"},
				CreatedAt:        base,
			}))
		}

		related, err := store.EdgesFrom(ctx, "src", 0.5)
		require.NoError(t, err)
		require.Len(t, related, 2)
		assert.Equal(t, "strong", related[0].ID)
		assert.Equal(t, "mid", related[1].ID)

		incoming, err := store.EdgesFrom(ctx, "strong", 0)
		require.NoError(t, err)
		assert.Empty(t, incoming)

		src, err := store.Get(ctx, "src")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"mid", "strong", "weak"}, src.RelatedNodes)
	})

	t.Run("Search orders newest first", func(t *testing.T) {
		store := newStore(t)
		for i, id := range []string{"old", "middle", "new"} {
			_, err := store.Insert(ctx, NewNote(id, id, base.Add(time.Duration(i)*time.Hour)))
			require.NoError(t, err)
		}

		notes, err := store.Search(ctx, models.Predicate{})
		require.NoError(t, err)
		require.Len(t, notes, 3)
		assert.Equal(t, []string{"new", "middle", "old"}, []string{notes[0].ID, notes[1].ID, notes[2].ID})
	})

	t.Run("Search predicates are conjunctive", func(t *testing.T) {
		store := newStore(t)

		goNote := NewNote("go", "Goroutines and channels", base)
		goNote.Tags = []string{"concurrency", "go"}
		goNote.ConfidenceScore = 0.9

		rustNote := NewNote("rust", "Ownership and borrowing", base.Add(time.Minute))
		rustNote.Tags = []string{"memory", "rust"}
		rustNote.SourceType = models.SourcePDF
		rustNote.IsNewInformation = false
		rustNote.ConfidenceScore = 0.2

		for _, n := range []*models.Note{goNote, rustNote} {
			_, err := store.Insert(ctx, n)
			require.NoError(t, err)
		}

		cases := []struct {
			name      string
			predicate models.Predicate
			want      []string
		}{
			{"keyword", models.Predicate{Keywords: []string{"channels"}}, []string{"go"}},
			{"keyword is case-sensitive", models.Predicate{Keywords: []string{"goroutines"}}, []string{}},
			{"any keyword", models.Predicate{Keywords: []string{"channels", "Ownership"}}, []string{"rust", "go"}},
			{"tags", models.Predicate{Tags: []string{"rust"}}, []string{"rust"}},
			{"entities", models.Predicate{Entities: []string{"Entitygo"}}, []string{"go"}},
			{"source types", models.Predicate{SourceTypes: []string{"pdf"}}, []string{"rust"}},
			{"only new", models.Predicate{OnlyNew: models.Bool(true)}, []string{"go"}},
			{"min confidence", models.Predicate{MinConfidence: models.Float(0.5)}, []string{"go"}},
			{"conjunction", models.Predicate{Tags: []string{"go", "rust"}, SourceTypes: []string{"web"}}, []string{"go"}},
			{"empty conjunction", models.Predicate{Keywords: []string{"channels"}, OnlyNew: models.Bool(false)}, []string{}},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				notes, err := store.Search(ctx, tc.predicate)
				require.NoError(t, err)
				ids := []string{}
				for _, n := range notes {
					ids = append(ids, n.ID)
				}
				assert.Equal(t, tc.want, ids)
			})
		}
	})
}
