// Package client holds implementations of the collaborator interfaces the
// services consume.
package client

import (
	"context"

	"github.com/mscmedsupply/be-commissions/internal/apperrors"
	"github.com/mscmedsupply/be-commissions/internal/service"
)

type actorContextKey struct{}

// WithActor stamps the authenticated actor into the request context. The auth
// middleware calls this from the identity headers set by the upstream auth
// proxy.
func WithActor(ctx context.Context, actor service.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ContextActorDirectory resolves the current actor from the request context.
// It implements service.ActorDirectory.
type ContextActorDirectory struct{}

// NewContextActorDirectory creates a ContextActorDirectory.
func NewContextActorDirectory() *ContextActorDirectory {
	return &ContextActorDirectory{}
}

// CurrentActor returns the actor stamped into ctx, or CodeUnauthorized when
// the request carries no identity.
func (d *ContextActorDirectory) CurrentActor(ctx context.Context) (service.Actor, error) {
	actor, ok := ctx.Value(actorContextKey{}).(service.Actor)
	if !ok || actor.ID == "" {
		return service.Actor{}, apperrors.New(apperrors.CodeUnauthorized, "no authenticated actor on request")
	}
	return actor, nil
}
