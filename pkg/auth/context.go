package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dcplibrary/entra-sso/pkg/session"
	"github.com/dcplibrary/entra-sso/pkg/user"
)

// contextKey is a value for use with context.WithValue. It's used as a
// pointer so it fits in an interface{} without allocation.
type contextKey struct {
	name string
}

func (k *contextKey) String() string {
	return "entra-sso context value " + k.name
}

var authContextKey = &contextKey{"AuthContext"}

// AuthContext is the resolved identity state attached to every request
// after the authentication middleware has run
type AuthContext struct {
	IsAuthenticated bool
	User            user.User
	Session         session.Session
	Role            string
}

// LogValue makes the auth context loggable without leaking token material
func (a AuthContext) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("authenticated", a.IsAuthenticated),
		slog.String("user_id", a.User.ID.String()),
		slog.String("role", a.Role),
	)
}

// WithAuthContext attaches the auth context to a request context
func WithAuthContext(ctx context.Context, authCtx *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, authCtx)
}

// GetAuthContext returns the request's auth context. Never returns nil:
// requests that did not pass the middleware get an unauthenticated context.
func GetAuthContext(r *http.Request) *AuthContext {
	if authCtx, ok := r.Context().Value(authContextKey).(*AuthContext); ok && authCtx != nil {
		return authCtx
	}
	return &AuthContext{}
}
