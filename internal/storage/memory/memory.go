package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/zettel-agent/backend/internal/apperr"
	"github.com/zettel-agent/backend/internal/storage/models"
)

type entry struct {
	note *models.Note
	seq  int
}

// Store is an in-memory NoteStore guarded by a single RWMutex.
type Store struct {
	mu     sync.RWMutex
	notes  map[string]*entry
	hashes map[string]string
	edges  map[string][]models.Edge
	seq    int
}

func NewStore() *Store {
	return &Store{
		notes:  make(map[string]*entry),
		hashes: make(map[string]string),
		edges:  make(map[string][]models.Edge),
	}
}

func (s *Store) Insert(ctx context.Context, note *models.Note) (*models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.hashes[note.ContentHash]; ok {
		return nil, apperr.DuplicateContent(existing, note.ContentHash)
	}
	if _, ok := s.notes[note.ID]; ok {
		return nil, apperr.DuplicateContent(note.ID, note.ContentHash)
	}

	s.seq++
	s.notes[note.ID] = &entry{note: note.Clone(), seq: s.seq}
	s.hashes[note.ContentHash] = note.ID
	return note, nil
}

func (s *Store) AddEdge(ctx context.Context, edge *models.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	source, ok := s.notes[edge.SourceID]
	if !ok {
		return apperr.DanglingReference(edge.SourceID, edge.TargetID)
	}
	if _, ok := s.notes[edge.TargetID]; !ok {
		return apperr.DanglingReference(edge.SourceID, edge.TargetID)
	}

	e := *edge
	e.SharedTags = append([]string(nil), edge.SharedTags...)
	s.edges[edge.SourceID] = append(s.edges[edge.SourceID], e)
	source.note.AddRelated(edge.TargetID)
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.notes[id]
	if !ok {
		return nil, apperr.NoteNotFound(id)
	}
	return e.note.Clone(), nil
}

func (s *Store) Search(ctx context.Context, predicate models.Predicate) ([]*models.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*entry, 0, len(s.notes))
	for _, e := range s.notes {
		if predicate.Matches(e.note) {
			matched = append(matched, e)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.note.CreatedAt.Equal(b.note.CreatedAt) {
			return a.note.CreatedAt.After(b.note.CreatedAt)
		}
		return a.seq > b.seq
	})

	notes := make([]*models.Note, len(matched))
	for i, e := range matched {
		notes[i] = e.note.Clone()
	}
	return notes, nil
}

func (s *Store) EdgesFrom(ctx context.Context, id string, minStrength float64) ([]*models.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var edges []models.Edge
	for _, e := range s.edges[id] {
		if e.Strength >= minStrength {
			edges = append(edges, e)
		}
	}
	sort.SliceStable(edges, func(i, j int) bool {
		return edges[i].Strength > edges[j].Strength
	})

	notes := make([]*models.Note, 0, len(edges))
	for _, e := range edges {
		if target, ok := s.notes[e.TargetID]; ok {
			notes = append(notes, target.note.Clone())
		}
	}
	return notes, nil
}

// Len reports the number of stored notes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.notes)
}
