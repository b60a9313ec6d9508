package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dcplibrary/entra-sso/pkg/entra"
)

// SessionService manages the lifecycle of browser sessions: the anonymous
// pending-login session, its promotion to an authenticated session, token
// set supersession during refresh, and local sign-out.
type SessionService struct {
	repository SessionRepository
	issuer     *TokenIssuer
	sessionTTL time.Duration
	pendingTTL time.Duration
	now        func() time.Time
}

// Option configures a SessionService
type Option func(*SessionService)

// WithSessionTTL sets the authenticated session lifetime
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *SessionService) {
		s.sessionTTL = ttl
	}
}

// WithPendingTTL sets the lifetime of the short-lived pending-login slot
func WithPendingTTL(ttl time.Duration) Option {
	return func(s *SessionService) {
		s.pendingTTL = ttl
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *SessionService) {
		s.now = now
	}
}

// NewSessionService creates a session service
func NewSessionService(repository SessionRepository, issuer *TokenIssuer, opts ...Option) *SessionService {
	service := &SessionService{
		repository: repository,
		issuer:     issuer,
		sessionTTL: 24 * time.Hour,
		pendingTTL: 10 * time.Minute,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service
}

// Issuer returns the session token issuer
func (s *SessionService) Issuer() *TokenIssuer {
	return s.issuer
}

// BeginPending creates (or reuses) the anonymous session holding the
// pending-login state and returns the record with its signed token.
// When an existing session is supplied the pending slot is overwritten in
// place, keeping at most one pending state per browser session.
func (s *SessionService) BeginPending(ctx context.Context, existing *Session, state string) (Session, string, error) {
	now := s.now()

	if existing != nil {
		existing.PendingState = state
		if err := s.repository.Update(ctx, *existing); err != nil {
			return Session{}, "", fmt.Errorf("failed to store pending state: %w", err)
		}
		token, err := s.issuer.Issue(*existing)
		if err != nil {
			return Session{}, "", err
		}
		return *existing, token, nil
	}

	record := Session{
		ID:           uuid.New(),
		PendingState: state,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.pendingTTL),
	}
	if err := s.repository.Create(ctx, record); err != nil {
		return Session{}, "", fmt.Errorf("failed to create pending session: %w", err)
	}

	token, err := s.issuer.Issue(record)
	if err != nil {
		return Session{}, "", err
	}
	return record, token, nil
}

// Resume loads the session record referenced by a session token. Returns
// a not-found error for unknown, expired or tampered tokens.
func (s *SessionService) Resume(ctx context.Context, tokenString string) (Session, error) {
	id, err := s.issuer.ParseSessionID(tokenString)
	if err != nil {
		return Session{}, err
	}
	return s.repository.Get(ctx, id)
}

// Get loads a live session record by ID
func (s *SessionService) Get(ctx context.Context, id uuid.UUID) (Session, error) {
	return s.repository.Get(ctx, id)
}

// ConsumePendingState atomically takes the pending-login state out of the
// session's slot; the slot is empty afterwards regardless of what the
// caller does with the value
func (s *SessionService) ConsumePendingState(ctx context.Context, sessionID uuid.UUID) (string, error) {
	return s.repository.ConsumePendingState(ctx, sessionID)
}

// Authenticate promotes a pending session to an authenticated one. The
// old record is discarded and a fresh ID issued, so a pre-login token can
// never reference the authenticated session. tokens may be nil when token
// refresh is disabled and no provider tokens are to be retained.
func (s *SessionService) Authenticate(ctx context.Context, pendingID uuid.UUID, userID uuid.UUID, tokens *entra.TokenSet) (Session, string, error) {
	now := s.now()

	record := Session{
		ID:            uuid.New(),
		UserID:        userID,
		Authenticated: true,
		TokenSet:      tokens,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.sessionTTL),
	}
	if err := s.repository.Create(ctx, record); err != nil {
		return Session{}, "", fmt.Errorf("failed to create authenticated session: %w", err)
	}

	if err := s.repository.Delete(ctx, pendingID); err != nil {
		slog.Warn("Failed to delete pending session", "session_id", pendingID, "error", err)
	}

	token, err := s.issuer.Issue(record)
	if err != nil {
		return Session{}, "", err
	}

	slog.Info("Session authenticated", "session_id", record.ID, "user_id", userID)
	return record, token, nil
}

// UpdateTokenSet supersedes the stored token set in place. The old set is
// replaced whole, never merged.
func (s *SessionService) UpdateTokenSet(ctx context.Context, sessionID uuid.UUID, tokens entra.TokenSet) error {
	record, err := s.repository.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	record.TokenSet = &tokens
	return s.repository.Update(ctx, record)
}

// Destroy invalidates a session: the record is deleted and any stored
// token set discarded with it
func (s *SessionService) Destroy(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.repository.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	slog.Info("Session destroyed", "session_id", sessionID)
	return nil
}
