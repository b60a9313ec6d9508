package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/dcplibrary/entra-sso/pkg/auth"
)

// Routes mounts the SSO endpoints onto a chi router. Every route runs
// behind the session verifier/authenticator so handlers always see an
// AuthContext; the refresh guard and access gates wrap only the
// protected surfaces.
func Routes(r chi.Router, h *Handle, m *auth.Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(m.Verifier)
		r.Use(m.Authenticator)

		// Login transaction surface
		r.Get("/auth/entra", h.Redirect)
		r.Get("/auth/entra/callback", h.Callback)
		r.Post("/auth/entra/logout", h.Logout)
		r.Get("/login", h.LoginPage)

		// Protected surfaces: token refresh guard first, then the gates
		r.Group(func(r chi.Router) {
			r.Use(m.RefreshEntraToken)

			r.Get("/api/auth/me", h.Me)

			r.Group(func(r chi.Router) {
				r.Use(m.RequireAuthenticated)
				r.Get("/entra/dashboard", h.Dashboard)
			})
		})
	})
}
