package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gridrater/gridrater/pkg/log"
)

// authMiddleware authenticates API requests with an OIDC bearer token and
// requires the token's email to be on the admin list when one is
// configured. When neither an audience nor admin emails are configured the
// API is open; that mode is meant for local development and simulations.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))

		if s.bypassAuth {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authz := r.Header.Get("Authorization")
		rawToken, ok := strings.CutPrefix(authz, "Bearer ")
		if !ok || rawToken == "" {
			writeJSONError(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if s.oidcVerifier == nil {
			// admin emails configured without an audience; nothing can
			// verify the token so nothing is allowed through
			writeJSONError(w, "authentication not configured", http.StatusUnauthorized)
			return
		}

		idToken, err := s.oidcVerifier(ctx, rawToken)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to verify bearer token", slog.Any("error", err))
			writeJSONError(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}
		var claims struct {
			Email         string `json:"email"`
			EmailVerified bool   `json:"email_verified"`
		}
		if err := idToken.Claims(&claims); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse token claims", slog.Any("error", err))
			writeJSONError(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}
		if !claims.EmailVerified || claims.Email == "" {
			writeJSONError(w, "email not verified", http.StatusForbidden)
			return
		}
		if len(s.adminEmails) > 0 && !s.isAdmin(claims.Email) {
			log.Ctx(ctx).WarnContext(ctx, "rejected non-admin user", slog.String("email", claims.Email))
			writeJSONError(w, "forbidden", http.StatusForbidden)
			return
		}

		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("userEmail", claims.Email)))
		ctx = context.WithValue(ctx, userEmailContextKey, claims.Email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userEmail returns the authenticated email for the request, empty when
// auth is bypassed.
func userEmail(r *http.Request) string {
	if email, ok := r.Context().Value(userEmailContextKey).(string); ok {
		return email
	}
	return ""
}
