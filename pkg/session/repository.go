package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	ssoerr "github.com/dcplibrary/entra-sso/pkg/errors"
)

// SessionRepository is the opaque key-value store with TTL semantics that
// session records live in
type SessionRepository interface {
	Get(ctx context.Context, id uuid.UUID) (Session, error)
	Create(ctx context.Context, s Session) error
	Update(ctx context.Context, s Session) error
	Delete(ctx context.Context, id uuid.UUID) error

	// ConsumePendingState atomically reads and clears the pending-login
	// slot. The slot is cleared on every call regardless of outcome so a
	// replayed callback always observes an absent state.
	ConsumePendingState(ctx context.Context, id uuid.UUID) (string, error)

	// CleanupExpired removes records whose TTL has elapsed
	CleanupExpired(ctx context.Context) error
}

// InMemSessionRepository implements SessionRepository with in-memory
// storage
type InMemSessionRepository struct {
	sessions map[uuid.UUID]*Session
	mutex    sync.RWMutex
	now      func() time.Time
}

// NewInMemSessionRepository creates an empty in-memory session repository
func NewInMemSessionRepository() *InMemSessionRepository {
	return &InMemSessionRepository{
		sessions: make(map[uuid.UUID]*Session),
		now:      time.Now,
	}
}

// WithClock overrides the time source used for TTL checks
func (r *InMemSessionRepository) WithClock(now func() time.Time) *InMemSessionRepository {
	r.now = now
	return r
}

// Get retrieves a live session record
func (r *InMemSessionRepository) Get(ctx context.Context, id uuid.UUID) (Session, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	s, ok := r.sessions[id]
	if !ok || s.Expired(r.now()) {
		return Session{}, ssoerr.NotFound("session", id.String())
	}
	return copySession(s), nil
}

// Create stores a new session record
func (r *InMemSessionRepository) Create(ctx context.Context, s Session) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored := copySession(&s)
	r.sessions[s.ID] = &stored
	return nil
}

// Update overwrites an existing session record
func (r *InMemSessionRepository) Update(ctx context.Context, s Session) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.sessions[s.ID]; !ok {
		return ssoerr.NotFound("session", s.ID.String())
	}
	stored := copySession(&s)
	r.sessions[s.ID] = &stored
	return nil
}

// Delete removes a session record
func (r *InMemSessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.sessions, id)
	return nil
}

// ConsumePendingState atomically reads and clears the pending-login slot
func (r *InMemSessionRepository) ConsumePendingState(ctx context.Context, id uuid.UUID) (string, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.Expired(r.now()) {
		return "", ssoerr.NotFound("session", id.String())
	}

	state := s.PendingState
	s.PendingState = ""
	if state == "" {
		return "", ssoerr.NotFound("pending login state", id.String())
	}
	return state, nil
}

// CleanupExpired removes records whose TTL has elapsed
func (r *InMemSessionRepository) CleanupExpired(ctx context.Context) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now()
	for id, s := range r.sessions {
		if s.Expired(now) {
			delete(r.sessions, id)
		}
	}
	return nil
}

func copySession(s *Session) Session {
	cp := *s
	if s.TokenSet != nil {
		tokens := *s.TokenSet
		cp.TokenSet = &tokens
	}
	return cp
}
