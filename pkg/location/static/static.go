// Package static provides a location.Provider that always reports a fixed
// position. It is meant for stationary installations (a home hub, a desk
// terminal) where the address never changes, and for local testing.
package static

import (
	"context"
	"fmt"

	"github.com/MrWong99/lifeline/pkg/location"
)

// Provider reports the same coordinates on every query.
type Provider struct {
	fix location.Coordinates
}

var (
	_ location.Provider = (*Provider)(nil)
	_ location.Watcher  = (*Provider)(nil)
)

// New validates the coordinates and returns a Provider.
func New(lat, lon, accuracy float64) (*Provider, error) {
	if lat < -90 || lat > 90 {
		return nil, fmt.Errorf("static location: latitude %g out of range [-90, 90]", lat)
	}
	if lon < -180 || lon > 180 {
		return nil, fmt.Errorf("static location: longitude %g out of range [-180, 180]", lon)
	}
	return &Provider{fix: location.Coordinates{Latitude: lat, Longitude: lon, Accuracy: accuracy}}, nil
}

// CurrentLocation implements [location.Provider].
func (p *Provider) CurrentLocation(ctx context.Context) (*location.Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := p.fix
	return &c, nil
}

// Watch reports the fixed position once and then blocks until ctx is done.
func (p *Provider) Watch(ctx context.Context, fn func(location.Coordinates)) error {
	fn(p.fix)
	<-ctx.Done()
	return ctx.Err()
}
