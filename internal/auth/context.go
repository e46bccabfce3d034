package auth

import "context"

type contextKey string

const userKey contextKey = "authUser"

// User is the API caller identified by a bearer token.
type User struct {
	Sub string
}

// WithUser stores an authenticated user in the context.
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated user, if present.
func UserFromContext(ctx context.Context) (User, bool) {
	if ctx == nil {
		return User{}, false
	}
	user, ok := ctx.Value(userKey).(User)
	return user, ok
}
