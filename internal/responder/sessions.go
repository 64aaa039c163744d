package responder

import (
	"sync"
)

// Sessions owns one Responder per chat session id.
type Sessions struct {
	notes Searcher
	chat  Chatter

	mu       sync.Mutex
	sessions map[string]*Responder
}

func NewSessions(notes Searcher, chat Chatter) *Sessions {
	return &Sessions{notes: notes, chat: chat, sessions: make(map[string]*Responder)}
}

// Get returns the session's responder, creating it on first use.
func (s *Sessions) Get(id string) *Responder {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.sessions[id]
	if !ok {
		r = New(s.notes, s.chat)
		s.sessions[id] = r
	}
	return r
}

// Clear forgets the session's conversation and reports whether it existed.
func (s *Sessions) Clear(id string) bool {
	s.mu.Lock()
	r, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		r.ClearMemory()
	}
	return ok
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}
