package api

import (
	"context"
	"net/http"

	"github.com/shaj13/go-guardian/auth"
)

type userKey struct{}

// WithUser stores the authenticated user on ctx
func WithUser(ctx context.Context, user auth.Info) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the authenticated user stored by the middleware
func UserFromContext(ctx context.Context) (auth.Info, bool) {
	user, ok := ctx.Value(userKey{}).(auth.Info)
	return user, ok && user != nil
}

// UserID returns the id of the user that made r, empty when unauthenticated
func UserID(r *http.Request) string {
	if user, ok := UserFromContext(r.Context()); ok {
		return user.ID()
	}
	return ""
}
