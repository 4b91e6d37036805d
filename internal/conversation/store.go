package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one user's dialog, owned exclusively by its session ID.
type Session struct {
	ID      string
	Turns   History
	Created time.Time
	Updated time.Time
}

// Store is an in-memory session registry. The MCP library dispatches
// tool handlers on separate goroutines, so all access is mutex-guarded.
// Sessions never share turn slices: readers get copies.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Open returns the session for id, creating it if needed. An empty id
// allocates a fresh session with a random UUID. The returned ID is the
// one the caller must use on subsequent turns.
func (s *Store) Open(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	if _, ok := s.sessions[id]; !ok {
		now := time.Now()
		s.sessions[id] = &Session{ID: id, Created: now, Updated: now}
	}
	return id
}

// History returns a copy of the session's turns. Unknown sessions yield
// an empty history.
func (s *Store) History(id string) History {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	out := make(History, len(sess.Turns))
	copy(out, sess.Turns)
	return out
}

// Append adds turns to a session. Unknown sessions are created first so
// a caller that skipped Open still gets a usable session.
func (s *Store) Append(id string, turns ...Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		now := time.Now()
		sess = &Session{ID: id, Created: now}
		s.sessions[id] = sess
	}
	sess.Turns = append(sess.Turns, turns...)
	sess.Updated = time.Now()
}

// Delete removes a session.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
