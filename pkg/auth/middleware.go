package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"

	"github.com/dcplibrary/entra-sso/pkg/entra"
	"github.com/dcplibrary/entra-sso/pkg/session"
	"github.com/dcplibrary/entra-sso/pkg/user"
)

// DefaultRefreshThreshold is how close to expiry a token may get before a
// proactive refresh is issued
const DefaultRefreshThreshold = 5 * time.Minute

// Middleware provides the per-request authentication chain: session-token
// verification, identity resolution, proactive token refresh, and the
// role/group access gates.
type Middleware struct {
	sessions    *session.SessionService
	users       *user.UserService
	entraClient *entra.Client
	cookies     session.CookieSetter
	tokenAuth   *jwtauth.JWTAuth
	loginPath   string

	refreshEnabled         bool
	refreshThreshold       time.Duration
	logoutOnRefreshFailure bool

	now func() time.Time
}

// Option configures a Middleware
type Option func(*Middleware)

// WithLoginPath sets the path unauthenticated requests are redirected to
func WithLoginPath(path string) Option {
	return func(m *Middleware) {
		m.loginPath = path
	}
}

// WithTokenRefresh enables silent token refresh with the given threshold
func WithTokenRefresh(enabled bool, threshold time.Duration) Option {
	return func(m *Middleware) {
		m.refreshEnabled = enabled
		if threshold > 0 {
			m.refreshThreshold = threshold
		}
	}
}

// WithLogoutOnRefreshFailure forces a logout when a refresh attempt fails
func WithLogoutOnRefreshFailure(enabled bool) Option {
	return func(m *Middleware) {
		m.logoutOnRefreshFailure = enabled
	}
}

// WithClock overrides the time source used for refresh decisions
func WithClock(now func() time.Time) Option {
	return func(m *Middleware) {
		m.now = now
	}
}

// NewMiddleware creates the authentication middleware chain
func NewMiddleware(sessions *session.SessionService, users *user.UserService, entraClient *entra.Client, cookies session.CookieSetter, opts ...Option) *Middleware {
	m := &Middleware{
		sessions:         sessions,
		users:            users,
		entraClient:      entraClient,
		cookies:          cookies,
		tokenAuth:        jwtauth.New("HS256", sessions.Issuer().Secret(), nil),
		loginPath:        "/login",
		refreshEnabled:   false,
		refreshThreshold: DefaultRefreshThreshold,
		now:              time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// TokenFromSessionCookie extracts the session token from its cookie
func TokenFromSessionCookie(r *http.Request) string {
	cookie, err := r.Cookie(session.SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Verifier verifies the signed session cookie and stashes the parsed
// token in the request context. Verification failure is not terminal
// here; Authenticator decides what an absent identity means.
func (m *Middleware) Verifier(next http.Handler) http.Handler {
	return jwtauth.Verify(m.tokenAuth, TokenFromSessionCookie)(next)
}

// Authenticator resolves the verified session token into identity state
// and attaches it to the request. Requests without a valid token, a live
// session record, or a resolvable user proceed unauthenticated; the gates
// downstream decide whether that is acceptable.
func (m *Middleware) Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		authCtx := &AuthContext{}

		_, claims, err := jwtauth.FromContext(ctx)
		if err == nil {
			if record, ok := m.resumeSession(r, claims); ok {
				if record.Authenticated {
					u, err := m.users.FindByID(ctx, record.UserID)
					if err != nil {
						slog.Warn("Session references unknown user", "session_id", record.ID, "user_id", record.UserID)
					} else {
						authCtx.IsAuthenticated = true
						authCtx.User = u
						authCtx.Session = record
						authCtx.Role = m.users.CurrentRole(u)
					}
				} else {
					// Pending (pre-login) session: attach the record so
					// the callback handler can consume its state slot
					authCtx.Session = record
				}
			}
		}

		next.ServeHTTP(w, r.WithContext(WithAuthContext(ctx, authCtx)))
	})
}

// resumeSession loads the session record referenced by the token's JTI
func (m *Middleware) resumeSession(r *http.Request, claims map[string]interface{}) (session.Session, bool) {
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return session.Session{}, false
	}
	id, err := uuid.Parse(jti)
	if err != nil {
		return session.Session{}, false
	}
	record, err := m.sessions.Get(r.Context(), id)
	if err != nil {
		return session.Session{}, false
	}
	return record, true
}

// RefreshEntraToken proactively refreshes the stored provider token set
// before it expires. It runs once per protected request, before the
// request is otherwise processed.
//
// No-op when the request is unauthenticated, refresh is disabled, or the
// session holds no expiry/refresh token. On refresh failure the request
// proceeds with the stale token unless logout-on-refresh-failure is
// configured, in which case the session is destroyed and the browser sent
// back to the login page with a session-expired message.
func (m *Middleware) RefreshEntraToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := GetAuthContext(r)

		if !authCtx.IsAuthenticated || !m.refreshEnabled {
			next.ServeHTTP(w, r)
			return
		}

		tokens := authCtx.Session.TokenSet
		if tokens == nil || tokens.RefreshToken == "" || tokens.ExpiresAt.IsZero() {
			next.ServeHTTP(w, r)
			return
		}

		if !m.now().Add(m.refreshThreshold).After(tokens.ExpiresAt) {
			next.ServeHTTP(w, r)
			return
		}

		refreshed, err := m.entraClient.RefreshTokens(r.Context(), tokens.RefreshToken)
		if err != nil {
			slog.Warn("Failed to refresh Entra token", "user_id", authCtx.User.ID, "error", err)

			if m.logoutOnRefreshFailure {
				if err := m.sessions.Destroy(r.Context(), authCtx.Session.ID); err != nil {
					slog.Warn("Failed to destroy session after refresh failure", "session_id", authCtx.Session.ID, "error", err)
				}
				m.cookies.ClearCookie(w, session.SessionCookieName)
				m.redirectToLogin(w, r, "session_expired", "Your session has expired. Please log in again.")
				return
			}

			// Policy is silent continue: the request proceeds with the
			// stale, possibly soon-to-expire token
			next.ServeHTTP(w, r)
			return
		}

		// Refresh tokens may be stable: keep the previous one when the
		// provider omits a replacement
		if refreshed.RefreshToken == "" {
			refreshed.RefreshToken = tokens.RefreshToken
		}

		if err := m.sessions.UpdateTokenSet(r.Context(), authCtx.Session.ID, refreshed); err != nil {
			slog.Warn("Failed to store refreshed token set", "session_id", authCtx.Session.ID, "error", err)
		} else {
			authCtx.Session.TokenSet = &refreshed
			slog.Info("Entra token refreshed", "user_id", authCtx.User.ID, "expires_at", refreshed.ExpiresAt)
		}

		next.ServeHTTP(w, r)
	})
}

// RequireAuthenticated redirects unauthenticated requests to the login
// page
func (m *Middleware) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !GetAuthContext(r).IsAuthenticated {
			http.Redirect(w, r, m.loginPath, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole allows the request only when the resolved role is one of
// the given roles. Unauthenticated requests are redirected to login;
// authenticated requests with the wrong role get a hard 403.
func (m *Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)

			if !authCtx.IsAuthenticated {
				http.Redirect(w, r, m.loginPath, http.StatusFound)
				return
			}

			for _, role := range roles {
				if authCtx.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			slog.Warn("User lacks required role", "user_id", authCtx.User.ID, "role", authCtx.Role, "required_roles", roles)
			http.Error(w, "Unauthorized action.", http.StatusForbidden)
		})
	}
}

// RequireAnyGroup allows the request only when the user's stored Entra
// groups intersect the given groups. Unauthenticated requests are
// redirected to login; authenticated requests without a matching group
// get a hard 403.
func (m *Middleware) RequireAnyGroup(groups ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)

			if !authCtx.IsAuthenticated {
				http.Redirect(w, r, m.loginPath, http.StatusFound)
				return
			}

			allowed := make(map[string]struct{}, len(groups))
			for _, g := range groups {
				allowed[g] = struct{}{}
			}
			for _, g := range authCtx.User.EntraGroups {
				if _, ok := allowed[g]; ok {
					next.ServeHTTP(w, r)
					return
				}
			}

			slog.Warn("User lacks required group", "user_id", authCtx.User.ID, "user_groups", authCtx.User.EntraGroups, "required_groups", groups)
			http.Error(w, "Unauthorized action.", http.StatusForbidden)
		})
	}
}

// redirectToLogin sends the browser to the login page with an error
// message attached for display
func (m *Middleware) redirectToLogin(w http.ResponseWriter, r *http.Request, code, description string) {
	target := fmt.Sprintf("%s?error=%s&error_description=%s", m.loginPath, url.QueryEscape(code), url.QueryEscape(description))
	http.Redirect(w, r, target, http.StatusFound)
}
