// Package gpsd provides a location.Provider backed by a gpsd daemon.
//
// The provider speaks gpsd's JSON protocol over TCP: it enables a JSON
// watch and reads reports until a TPV (time-position-velocity) report with
// a 2D or 3D fix arrives. Each one-shot query opens its own connection so a
// wedged daemon never poisons later queries.
package gpsd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/MrWong99/lifeline/pkg/location"
)

const (
	defaultAddr    = "localhost:2947"
	defaultTimeout = 10 * time.Second

	watchCommand = `?WATCH={"enable":true,"json":true};` + "\n"

	// gpsd fix modes: 0 unknown, 1 no fix, 2 two-dimensional, 3 three-dimensional.
	modeFix2D = 2
)

// Option is a functional option for the gpsd Provider.
type Option func(*Provider)

// WithTimeout bounds a single CurrentLocation query. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithDialer replaces the network dialer. Used by tests.
func WithDialer(dial func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return func(p *Provider) {
		p.dial = dial
	}
}

// Provider implements location.Provider and location.Watcher against gpsd.
type Provider struct {
	addr    string
	timeout time.Duration
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
}

var (
	_ location.Provider = (*Provider)(nil)
	_ location.Watcher  = (*Provider)(nil)
)

// New creates a Provider for the gpsd instance at addr. An empty addr uses
// localhost:2947.
func New(addr string, opts ...Option) *Provider {
	if addr == "" {
		addr = defaultAddr
	}
	var d net.Dialer
	p := &Provider{
		addr:    addr,
		timeout: defaultTimeout,
		dial:    d.DialContext,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// report is the subset of a gpsd JSON report the provider reads.
type report struct {
	Class string   `json:"class"`
	Mode  int      `json:"mode"`
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	EPX   float64  `json:"epx"`
	EPY   float64  `json:"epy"`
}

// CurrentLocation implements [location.Provider]. It returns
// location.ErrUnavailable when gpsd has no fix before the timeout.
func (p *Provider) CurrentLocation(ctx context.Context) (*location.Coordinates, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var fix *location.Coordinates
	err := p.stream(ctx, func(c location.Coordinates) bool {
		fix = &c
		return false
	})
	if fix != nil {
		return fix, nil
	}
	if err == nil || ctx.Err() != nil {
		return nil, fmt.Errorf("%w: gpsd reported no fix", location.ErrUnavailable)
	}
	return nil, fmt.Errorf("%w: %v", location.ErrUnavailable, err)
}

// Watch implements [location.Watcher].
func (p *Provider) Watch(ctx context.Context, fn func(location.Coordinates)) error {
	err := p.stream(ctx, func(c location.Coordinates) bool {
		fn(c)
		return true
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// stream connects, enables watching and hands every fix to fn until fn
// returns false, the connection drops or ctx is done.
func (p *Provider) stream(ctx context.Context, fn func(location.Coordinates) bool) error {
	conn, err := p.dial(ctx, "tcp", p.addr)
	if err != nil {
		return fmt.Errorf("gpsd: dial %s: %w", p.addr, err)
	}
	defer conn.Close()

	// Unblock the scanner when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.Write([]byte(watchCommand)); err != nil {
		return fmt.Errorf("gpsd: enable watch: %w", err)
	}

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		c, ok := parseReport(sc.Bytes())
		if !ok {
			continue
		}
		if !fn(c) {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("gpsd: read: %w", err)
	}
	return nil
}

// parseReport extracts a fix from a TPV report line.
func parseReport(line []byte) (location.Coordinates, bool) {
	var r report
	if err := json.Unmarshal(line, &r); err != nil {
		return location.Coordinates{}, false
	}
	if r.Class != "TPV" || r.Mode < modeFix2D || r.Lat == nil || r.Lon == nil {
		return location.Coordinates{}, false
	}
	return location.Coordinates{
		Latitude:  *r.Lat,
		Longitude: *r.Lon,
		Accuracy:  math.Max(r.EPX, r.EPY),
	}, true
}
