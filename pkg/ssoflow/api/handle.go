package api

import (
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/dcplibrary/entra-sso/pkg/auth"
	ssoerr "github.com/dcplibrary/entra-sso/pkg/errors"
	"github.com/dcplibrary/entra-sso/pkg/session"
	"github.com/dcplibrary/entra-sso/pkg/ssoflow"
)

// Handle implements the SSO HTTP endpoints
type Handle struct {
	flow               *ssoflow.SSOFlowService
	cookies            session.CookieSetter
	redirectAfterLogin string
	loginPath          string
}

// NewHandle creates the SSO endpoint handler
func NewHandle(flow *ssoflow.SSOFlowService, cookies session.CookieSetter) *Handle {
	return &Handle{
		flow:               flow,
		cookies:            cookies,
		redirectAfterLogin: "/entra/dashboard",
		loginPath:          "/login",
	}
}

// WithRedirectAfterLogin sets the post-login redirect target
func (h *Handle) WithRedirectAfterLogin(path string) *Handle {
	if path != "" {
		h.redirectAfterLogin = path
	}
	return h
}

// WithLoginPath sets the login page path failures redirect to
func (h *Handle) WithLoginPath(path string) *Handle {
	if path != "" {
		h.loginPath = path
	}
	return h
}

// Redirect handles GET /auth/entra: it starts the login transaction and
// sends the browser to the provider's authorization endpoint
func (h *Handle) Redirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Reuse the browser's pending session slot when one exists so a
	// double-click on "login" never leaves two live states behind
	var current *session.Session
	if s := auth.GetAuthContext(r).Session; s.ID != uuid.Nil && !s.Authenticated {
		current = &s
	}

	authURL, record, sessionToken, err := h.flow.BeginLogin(ctx, current)
	if err != nil {
		slog.Error("Failed to initiate login", "error", err)
		h.redirectWithError(w, r, "login_failed", "Failed to initiate authentication")
		return
	}

	// The pending session's expiry bounds the cookie
	h.cookies.SetCookie(w, session.SessionCookieName, sessionToken, record.ExpiresAt)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback handles GET /auth/entra/callback: the provider redirects here
// with either code+state or error+error_description
func (h *Handle) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	pending := auth.GetAuthContext(r).Session

	_, authenticated, sessionToken, err := h.flow.CompleteLogin(ctx,
		pending,
		query.Get("code"),
		query.Get("state"),
		query.Get("error"),
		query.Get("error_description"))
	if err != nil {
		slog.Error("Login failed", "error", err, "code", ssoerr.GetCode(err))
		h.cookies.ClearCookie(w, session.SessionCookieName)
		h.redirectWithError(w, r, string(ssoerr.GetCode(err)), loginFailureMessage(err))
		return
	}

	h.cookies.SetCookie(w, session.SessionCookieName, sessionToken, authenticated.ExpiresAt)
	http.Redirect(w, r, h.redirectAfterLogin, http.StatusFound)
}

// Logout handles POST /auth/entra/logout: local-only sign-out
func (h *Handle) Logout(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.GetAuthContext(r)

	if authCtx.Session.ID != uuid.Nil {
		if err := h.flow.Logout(r.Context(), authCtx.Session.ID); err != nil {
			slog.Warn("Failed to destroy session on logout", "session_id", authCtx.Session.ID, "error", err)
		}
	}

	h.cookies.ClearCookie(w, session.SessionCookieName)
	http.Redirect(w, r, "/", http.StatusFound)
}

// meResponse is the JSON projection of the resolved identity
type meResponse struct {
	UserID       string                 `json:"user_id"`
	Name         string                 `json:"name"`
	Email        string                 `json:"email"`
	Role         string                 `json:"role"`
	Groups       []string               `json:"groups"`
	CustomClaims map[string]interface{} `json:"custom_claims,omitempty"`
}

// Me handles GET /api/auth/me: the resolved identity as JSON
func (h *Handle) Me(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.GetAuthContext(r)

	if !authCtx.IsAuthenticated {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, map[string]string{
			"error":             "unauthorized",
			"error_description": "No authenticated session",
		})
		return
	}

	groups := authCtx.User.EntraGroups
	if groups == nil {
		groups = []string{}
	}

	render.JSON(w, r, meResponse{
		UserID:       authCtx.User.ID.String(),
		Name:         authCtx.User.Name,
		Email:        authCtx.User.Email,
		Role:         authCtx.Role,
		Groups:       groups,
		CustomClaims: authCtx.User.CustomClaims,
	})
}

// redirectWithError sends the browser to the login page with an error
// message attached for display
func (h *Handle) redirectWithError(w http.ResponseWriter, r *http.Request, code, description string) {
	target := fmt.Sprintf("%s?error=%s&error_description=%s",
		h.loginPath, url.QueryEscape(code), url.QueryEscape(description))
	http.Redirect(w, r, target, http.StatusFound)
}

// loginFailureMessage produces the single user-facing message for a
// failed login transaction
func loginFailureMessage(err error) string {
	var e *ssoerr.Error
	if errors.As(err, &e) {
		return "Authentication failed: " + e.Message
	}
	return "Authentication failed: " + err.Error()
}

// LoginPage renders a minimal login page with any error message from a
// failed transaction
func (h *Handle) LoginPage(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var errorSection string
	if desc := query.Get("error_description"); desc != "" {
		errorSection = fmt.Sprintf(`<div class="card error"><p>%s</p></div>`, html.EscapeString(desc))
	}

	page := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <title>Sign in</title>
    <style>
        body { font-family: Arial, sans-serif; max-width: 480px; margin: 80px auto; padding: 20px; }
        .card { border: 1px solid #ddd; border-radius: 8px; padding: 20px; margin-bottom: 20px; }
        .error { border-color: #e53935; background: #fdecea; color: #b71c1c; }
        .btn { display: inline-block; background: #2f2f2f; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; }
    </style>
</head>
<body>
    <h1>Sign in</h1>
    %s
    <div class="card">
        <a href="/auth/entra" class="btn">Sign in with Microsoft</a>
    </div>
</body>
</html>`, errorSection)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, page)
}

// Dashboard renders the post-login page showing the resolved identity
// state. Must be mounted behind the authentication gates.
func (h *Handle) Dashboard(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.GetAuthContext(r)

	groups := "none"
	if len(authCtx.User.EntraGroups) > 0 {
		escaped := make([]string, 0, len(authCtx.User.EntraGroups))
		for _, g := range authCtx.User.EntraGroups {
			escaped = append(escaped, html.EscapeString(g))
		}
		groups = strings.Join(escaped, ", ")
	}

	page := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <title>Dashboard</title>
    <style>
        body { font-family: Arial, sans-serif; max-width: 800px; margin: 50px auto; padding: 20px; }
        .card { border: 1px solid #ddd; border-radius: 8px; padding: 20px; margin-bottom: 20px; }
        dt { font-weight: bold; margin-top: 8px; }
    </style>
</head>
<body>
    <h1>Dashboard</h1>
    <div class="card">
        <h2>Welcome, %s</h2>
        <dl>
            <dt>Email</dt><dd>%s</dd>
            <dt>Role</dt><dd>%s</dd>
            <dt>Groups</dt><dd>%s</dd>
        </dl>
        <form method="post" action="/auth/entra/logout"><button type="submit">Logout</button></form>
    </div>
</body>
</html>`,
		html.EscapeString(authCtx.User.Name),
		html.EscapeString(authCtx.User.Email),
		html.EscapeString(authCtx.Role),
		groups)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, page)
}
