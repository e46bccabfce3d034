package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/strefethen/bose-hub-go/internal/api"
	"github.com/strefethen/bose-hub-go/internal/apperrors"
)

var publicRoutes = map[string]struct{}{
	"/health":       {},
	"/openapi":      {},
	"/openapi.json": {},
}

// Middleware requires a valid bearer token on every non-public route.
// With an empty secret the API is open and requests pass through.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if strings.TrimSpace(secret) == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicRoute(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Missing Authorization header"))
				return
			}
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Invalid Authorization header format"))
				return
			}

			user, err := VerifyToken(secret, token)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					api.WriteError(w, r, apperrors.NewUnauthorizedError("Token has expired", apperrors.ErrorCodeTokenExpired))
					return
				}
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Invalid token", apperrors.ErrorCodeTokenInvalid))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func isPublicRoute(path string) bool {
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	_, ok := publicRoutes[path]
	return ok
}
