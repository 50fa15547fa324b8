package tools

import (
	"context"

	"github.com/advisorlabs/clerk/pkg/models"
)

type userContextKey struct{}

// WithUser attaches the acting user to the context so tool handlers can
// scope storage access.
func WithUser(ctx context.Context, user models.UserRef) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the acting user, if any.
func UserFromContext(ctx context.Context) (models.UserRef, bool) {
	user, ok := ctx.Value(userContextKey{}).(models.UserRef)
	return user, ok
}
