package auth

import (
	"context"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	UserDID   string
	AppDID    string
	Anonymous bool
}

// AnonymousIdentity is the caller of an unauthenticated request.
var AnonymousIdentity = Identity{UserDID: common.AnonymousDID, AppDID: common.AnonymousDID, Anonymous: true}

func (id Identity) Namespace() models.Namespace {
	return models.Namespace{UserDID: id.UserDID, AppDID: id.AppDID}
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller; requests without one are anonymous.
func IdentityFrom(ctx context.Context) Identity {
	if id, ok := ctx.Value(identityKey{}).(Identity); ok {
		return id
	}
	return AnonymousIdentity
}

// RequireUser fails with unauthorized for anonymous callers.
func RequireUser(ctx context.Context) (Identity, error) {
	id := IdentityFrom(ctx)
	if id.Anonymous {
		return Identity{}, common.ErrorUnauthorized
	}
	return id, nil
}
