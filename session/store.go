// Package session tracks the in-flight conversation history per conversation
// key. It is volatile by design: the dispatcher drains a session into the
// memory store's session-log tier when the conversation goes idle, and the
// session starts over. Durable state lives in the memory package.
package session

import (
	"sync"
	"time"

	"github.com/hupe1980/sidekick/core"
)

// Session is the accumulated turn history for one conversation key.
type Session struct {
	ConversationKey string
	Turns           []core.Turn
	Started         time.Time
}

// Store is a process-local session store. It is safe for concurrent access.
// Returned turn slices are defensive copies to prevent external mutation of
// internal state.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore constructs an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Append adds a turn to the session for key, creating the session lazily.
func (s *Store) Append(key string, turn core.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		sess = &Session{ConversationKey: key, Started: time.Now().UTC()}
		s.sessions[key] = sess
	}
	sess.Turns = append(sess.Turns, turn)
}

// Turns returns a copy of the turn history for key, oldest first.
func (s *Store) Turns(key string) []core.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil
	}
	turns := make([]core.Turn, len(sess.Turns))
	copy(turns, sess.Turns)
	return turns
}

// Drain removes the session for key and returns its turns. The next Append
// for that key starts a fresh session.
func (s *Store) Drain(key string) []core.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil
	}
	delete(s.sessions, key)
	return sess.Turns
}

// ActiveKeys returns the conversation keys with a live session.
func (s *Store) ActiveKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	return keys
}
