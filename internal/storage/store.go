package storage

import (
	"context"

	"github.com/zettel-agent/backend/internal/storage/models"
)

// NoteStore persists notes and their weighted relationship edges.
//
// Insert must be atomic with respect to content-hash uniqueness: of two
// concurrent inserts with the same hash at most one succeeds, the other
// fails with apperr.ErrDuplicateContent. AddEdge fails with
// apperr.ErrDanglingReference when either endpoint is missing. Get fails with
// apperr.ErrNoteNotFound for unknown ids.
type NoteStore interface {
	Insert(ctx context.Context, note *models.Note) (*models.Note, error)
	AddEdge(ctx context.Context, edge *models.Edge) error
	Get(ctx context.Context, id string) (*models.Note, error)
	// Search returns notes matching every set predicate field, newest first.
	Search(ctx context.Context, predicate models.Predicate) ([]*models.Note, error)
	// EdgesFrom returns the targets of outgoing edges with strength at least
	// minStrength, strongest first.
	EdgesFrom(ctx context.Context, id string, minStrength float64) ([]*models.Note, error)
}
