package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/dcplibrary/entra-sso/pkg/entra"
)

// SessionCookieName is the cookie carrying the signed session token
const SessionCookieName = "entra_session"

// Session is the server-side per-browser session record. It carries the
// single pending-login slot before authentication and the live token set
// afterwards. The record is referenced by the JTI of the signed session
// cookie.
type Session struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id,omitempty"`
	Authenticated bool            `json:"authenticated"`
	PendingState  string          `json:"pending_state,omitempty"`
	TokenSet      *entra.TokenSet `json:"token_set,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// Expired reports whether the record's TTL has elapsed
func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
