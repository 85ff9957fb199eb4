// Package location defines the Provider interface for device position
// lookups and the helpers that turn a fix into an alert-ready map link.
//
// A Provider answers one-shot queries; a Watcher streams updates. Both must
// consult the platform permission state before touching the positioning
// hardware: use [Gated] to put any provider behind a [PermissionFunc].
//
// Implementations must be safe for concurrent use.
package location

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// DefaultMapBaseURL is the map link prefix used when none is configured.
const DefaultMapBaseURL = "https://www.google.com/maps"

var (
	// ErrPermissionDenied is returned when the user has not granted location
	// access.
	ErrPermissionDenied = errors.New("location: permission denied")

	// ErrUnavailable is returned when no fix could be obtained.
	ErrUnavailable = errors.New("location: position unavailable")
)

// Coordinates is a single position fix.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// Accuracy is the horizontal accuracy radius in metres. Zero means the
	// source did not report one.
	Accuracy float64 `json:"accuracy,omitempty"`
}

// Provider answers one-shot position queries.
type Provider interface {
	// CurrentLocation returns the current fix. It returns a nil fix together
	// with a non-nil error on permission denial or platform failure; it never
	// returns (nil, nil).
	//
	// The provider bounds the query with its own timeout. Callers that want
	// a tighter bound pass a context with a deadline.
	CurrentLocation(ctx context.Context) (*Coordinates, error)
}

// Watcher streams position updates.
type Watcher interface {
	// Watch calls fn for every new fix until ctx is cancelled or the source
	// fails. It returns ctx.Err() on cancellation.
	Watch(ctx context.Context, fn func(Coordinates)) error
}

// MapLink renders c as a map URL of the form <base>?q=<lat>,<lon>.
// An empty base falls back to [DefaultMapBaseURL].
func MapLink(base string, c Coordinates) string {
	if base == "" {
		base = DefaultMapBaseURL
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "?"))
	b.WriteString("?q=")
	b.WriteString(strconv.FormatFloat(c.Latitude, 'f', -1, 64))
	b.WriteByte(',')
	b.WriteString(strconv.FormatFloat(c.Longitude, 'f', -1, 64))
	return b.String()
}

// Unavailable is a Provider without a position source. Every query fails
// with [ErrUnavailable].
type Unavailable struct{}

var _ Provider = Unavailable{}

// CurrentLocation implements [Provider].
func (Unavailable) CurrentLocation(context.Context) (*Coordinates, error) {
	return nil, ErrUnavailable
}
