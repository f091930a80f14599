package middleware

import (
	"context"
	"net/http"

	"github.com/webfront-go/webfront"
	"github.com/webfront-go/webfront/auth"
)

type authInfoContextKey struct{}

// AuthFromContext returns the authentication injected by [Inject] or a
// level guard. The second result is false when no guard ran.
func AuthFromContext(ctx context.Context) (*auth.Info, bool) {
	info, ok := ctx.Value(authInfoContextKey{}).(*auth.Info)
	return info, ok
}

// Inject reads the request's authentication and stores it in the
// context without gating anything. Anonymous requests pass through with
// a None-level info.
func Inject(s *webfront.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := s.ReadAuth(w, r)
			ctx := context.WithValue(r.Context(), authInfoContextKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireLevel rejects requests whose authentication is below the given
// level with 401 Unauthorized. Passing requests get their info injected
// into the context.
func RequireLevel(s *webfront.Service, min auth.Level) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := s.ReadAuth(w, r)
			if info.Level() < min {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), authInfoContextKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireNormal is the common guard: a valid, unexpired authentication.
func RequireNormal(s *webfront.Service) func(http.Handler) http.Handler {
	return RequireLevel(s, auth.LevelNormal)
}

// RequireCritical gates step-up-protected routes.
func RequireCritical(s *webfront.Service) func(http.Handler) http.Handler {
	return RequireLevel(s, auth.LevelCritical)
}
