package location

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// LastKnown wraps a Provider and remembers the most recent fix it has seen,
// either from a one-shot query or from [LastKnown.Record] (typically fed by
// a background [Watcher]). When a fresh query fails, a remembered fix that
// is younger than maxAge is returned instead.
//
// LastKnown is safe for concurrent use.
type LastKnown struct {
	inner  Provider
	maxAge time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last *Coordinates
	at   time.Time
}

var _ Provider = (*LastKnown)(nil)

// NewLastKnown returns a caching wrapper around inner. A maxAge of zero
// disables the fallback; fixes are still recorded.
func NewLastKnown(inner Provider, maxAge time.Duration) *LastKnown {
	return &LastKnown{inner: inner, maxAge: maxAge, now: time.Now}
}

// Record stores c as the latest fix.
func (l *LastKnown) Record(c Coordinates) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last = &c
	l.at = l.now()
}

// Last returns the latest fix and when it was recorded. ok is false when no
// fix has been seen yet.
func (l *LastKnown) Last() (c Coordinates, at time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return Coordinates{}, time.Time{}, false
	}
	return *l.last, l.at, true
}

// CurrentLocation implements [Provider].
func (l *LastKnown) CurrentLocation(ctx context.Context) (*Coordinates, error) {
	c, err := l.inner.CurrentLocation(ctx)
	if err == nil && c != nil {
		l.Record(*c)
		return c, nil
	}
	if err == nil {
		err = ErrUnavailable
	}

	// A denied permission is not papered over with a cached fix.
	if l.maxAge <= 0 || errors.Is(err, ErrPermissionDenied) {
		return nil, err
	}

	cached, at, ok := l.Last()
	if !ok || l.now().Sub(at) > l.maxAge {
		return nil, err
	}
	slog.Debug("location: using last known fix", "age", l.now().Sub(at), "err", err)
	return &cached, nil
}

// Track runs w until ctx is done, recording every fix. Watch errors other
// than cancellation are logged and retried after interval.
func (l *LastKnown) Track(ctx context.Context, w Watcher, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	for {
		err := w.Watch(ctx, l.Record)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Warn("location: watch stopped", "err", err, "retry_in", interval)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
