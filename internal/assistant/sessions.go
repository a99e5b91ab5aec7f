package assistant

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrSessionNotFound is returned for unknown, expired, or foreign sessions.
var ErrSessionNotFound = errors.New("session not found")

// Sessions holds the open sessions of all users.
type Sessions struct {
	responder Responder
	executor  ProposalExecutor
	log       zerolog.Logger
	idle      time.Duration
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessions creates a registry. Sessions untouched for idle are dropped;
// idle <= 0 keeps them until closed.
func NewSessions(r Responder, x ProposalExecutor, log zerolog.Logger, idle time.Duration) *Sessions {
	return &Sessions{
		responder: r,
		executor:  x,
		log:       log,
		idle:      idle,
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
}

// Open starts a new session for userID.
func (r *Sessions) Open(userID string) *Session {
	s := NewSession(uuid.New().String(), userID, r.responder, r.executor, r.log)
	s.now = r.now
	s.lastActive = r.now()

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Get returns the session if it exists, belongs to userID and has not expired.
func (r *Sessions) Get(userID, id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.UserID != userID {
		return nil, ErrSessionNotFound
	}
	if r.expired(s) {
		delete(r.sessions, id)
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close discards the session and all of its turns.
func (r *Sessions) Close(userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.UserID != userID {
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

// Sweep drops expired sessions and returns how many were removed.
func (r *Sessions) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, s := range r.sessions {
		if r.expired(s) {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

// Len reports the number of open sessions.
func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Sessions) expired(s *Session) bool {
	if r.idle <= 0 {
		return false
	}
	return r.now().Sub(s.idleSince()) > r.idle
}
