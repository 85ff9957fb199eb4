// Package mock provides a test double for the location.Provider and
// location.Watcher interfaces.
//
// Example:
//
//	p := &mock.Provider{Fix: &location.Coordinates{Latitude: 52.52, Longitude: 13.40}}
//	c, _ := p.CurrentLocation(ctx)
//
// Set Block to a channel to hold CurrentLocation until the channel is closed
// or the context ends; tests use it to cancel an alert mid-lookup.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lifeline/pkg/location"
)

// Provider is a mock implementation of location.Provider and location.Watcher.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Fix is returned by CurrentLocation when Err is nil.
	Fix *location.Coordinates

	// Err, if non-nil, is returned by CurrentLocation.
	Err error

	// Block, if non-nil, makes CurrentLocation wait until it is closed or
	// ctx is done before answering.
	Block chan struct{}

	// Updates is replayed in order by Watch before it blocks on ctx.
	Updates []location.Coordinates

	// WatchErr, if non-nil, is returned by Watch immediately after replaying
	// Updates.
	WatchErr error

	// --- Call records ---

	// Calls counts CurrentLocation invocations.
	Calls int

	// WatchCalls counts Watch invocations.
	WatchCalls int
}

var (
	_ location.Provider = (*Provider)(nil)
	_ location.Watcher  = (*Provider)(nil)
)

// CurrentLocation records the call and returns Fix, Err.
func (p *Provider) CurrentLocation(ctx context.Context) (*location.Coordinates, error) {
	p.mu.Lock()
	p.Calls++
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Fix == nil {
		return nil, location.ErrUnavailable
	}
	c := *p.Fix
	return &c, nil
}

// Watch records the call, replays Updates and then blocks until ctx is done
// unless WatchErr is set.
func (p *Provider) Watch(ctx context.Context, fn func(location.Coordinates)) error {
	p.mu.Lock()
	p.WatchCalls++
	updates := make([]location.Coordinates, len(p.Updates))
	copy(updates, p.Updates)
	watchErr := p.WatchErr
	p.mu.Unlock()

	for _, u := range updates {
		fn(u)
	}
	if watchErr != nil {
		return watchErr
	}
	<-ctx.Done()
	return ctx.Err()
}

// CallCount returns the number of CurrentLocation calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Calls
}

// SetFix replaces the fix and clears Err. Thread-safe.
func (p *Provider) SetFix(c *location.Coordinates) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Fix = c
	p.Err = nil
}
