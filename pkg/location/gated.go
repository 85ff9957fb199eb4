package location

import (
	"context"
	"fmt"
)

// PermissionFunc reports whether location access is granted. It may prompt
// the user; a non-nil error is treated as a denial.
type PermissionFunc func(ctx context.Context) (bool, error)

// Static returns a PermissionFunc that always answers granted.
func Static(granted bool) PermissionFunc {
	return func(context.Context) (bool, error) { return granted, nil }
}

// GatedProvider wraps a Provider and checks the permission before every
// query.
type GatedProvider struct {
	inner      Provider
	permission PermissionFunc
}

var _ Provider = (*GatedProvider)(nil)

// Gated returns a provider that asks permission before delegating to inner.
// A nil permission func is treated as always granted.
func Gated(inner Provider, permission PermissionFunc) *GatedProvider {
	if permission == nil {
		permission = Static(true)
	}
	return &GatedProvider{inner: inner, permission: permission}
}

// CurrentLocation implements [Provider].
func (g *GatedProvider) CurrentLocation(ctx context.Context) (*Coordinates, error) {
	ok, err := g.permission(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if !ok {
		return nil, ErrPermissionDenied
	}
	c, err := g.inner.CurrentLocation(ctx)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrUnavailable
	}
	return c, nil
}

// Watch implements [Watcher] when the wrapped provider is one. Otherwise it
// returns an error immediately.
func (g *GatedProvider) Watch(ctx context.Context, fn func(Coordinates)) error {
	w, ok := g.inner.(Watcher)
	if !ok {
		return fmt.Errorf("location: %T does not support watching", g.inner)
	}
	granted, err := g.permission(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if !granted {
		return ErrPermissionDenied
	}
	return w.Watch(ctx, fn)
}
