// Package access decides who may change the ranked order.
package access

import (
	"context"
	"fmt"
	"strings"
)

// Role of an authenticated caller.
type Role string

// Roles known to the panel.
const (
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// ParseRole accepts a role name (case-insensitive).
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleOwner, RoleAdmin, RoleUser:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// Actor is the caller behind a request.
type Actor struct {
	Name string
	Role Role
}

// CanReorder reports whether the actor may write rank values.
func (a Actor) CanReorder() bool {
	return a.Role == RoleOwner || a.Role == RoleAdmin
}

// System is the actor used by the CLI and seeding.
var System = Actor{Name: "system", Role: RoleOwner}

type actorKey struct{}

// WithActor returns a context carrying the actor.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor stored in ctx, if any.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

// RequireReorder returns ErrForbidden unless ctx carries an actor allowed to
// reorder.
func RequireReorder(ctx context.Context) error {
	a, ok := ActorFrom(ctx)
	if !ok {
		return fmt.Errorf("%w: anonymous", ErrForbidden)
	}
	if !a.CanReorder() {
		return fmt.Errorf("%w: %s has role %s", ErrForbidden, a.Name, a.Role)
	}
	return nil
}
