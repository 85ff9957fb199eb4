// Package mock provides test doubles for voice.Announcer and
// voice.Recognizer.
//
// Recognizer replays a script of runs: each Listen call consumes the next
// Run, delivers its phrases and returns its Err. When the script is empty,
// Listen blocks until ctx is cancelled.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lifeline/pkg/voice"
)

// Announcer is a mock implementation of voice.Announcer.
type Announcer struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by Announce.
	Err error

	// Block, if non-nil, makes Announce wait until it is closed or ctx is
	// done.
	Block chan struct{}

	// Messages records every announcement in call order.
	Messages []string
}

var _ voice.Announcer = (*Announcer)(nil)

// Announce records message and returns Err.
func (a *Announcer) Announce(ctx context.Context, message string) error {
	a.mu.Lock()
	a.Messages = append(a.Messages, message)
	block, err := a.Block, a.Err
	a.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Announced returns a copy of the recorded messages. Thread-safe.
func (a *Announcer) Announced() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.Messages...)
}

// Run scripts one Listen call.
type Run struct {
	// Phrases are delivered to onResult in order.
	Phrases []string

	// Err is returned after the phrases. A nil Err is a natural stop.
	Err error

	// Hold keeps the run open after the phrases until ctx is cancelled.
	Hold bool
}

// Recognizer is a mock implementation of voice.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Runs is consumed front to back, one entry per Listen.
	Runs []Run

	// Listens counts Listen calls.
	Listens int

	// active counts Listen calls currently running.
	active int

	// started is signalled after each Listen has begun.
	started chan struct{}
}

var _ voice.Recognizer = (*Recognizer)(nil)

// Started returns a channel that receives once per Listen call. It must be
// called before the recognizer is used.
func (r *Recognizer) Started() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started == nil {
		r.started = make(chan struct{}, 64)
	}
	return r.started
}

// Listen replays the next scripted run.
func (r *Recognizer) Listen(ctx context.Context, onResult func(string)) error {
	r.mu.Lock()
	r.Listens++
	r.active++
	var run Run
	scripted := len(r.Runs) > 0
	if scripted {
		run = r.Runs[0]
		r.Runs = r.Runs[1:]
	}
	started := r.started
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}

	if !scripted {
		<-ctx.Done()
		return nil
	}
	for _, p := range run.Phrases {
		if ctx.Err() != nil {
			return nil
		}
		onResult(p)
	}
	if run.Hold {
		<-ctx.Done()
		return nil
	}
	return run.Err
}

// ListenCount returns the number of Listen calls. Thread-safe.
func (r *Recognizer) ListenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Listens
}

// Active returns the number of Listen calls in progress. Thread-safe.
func (r *Recognizer) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Push appends runs to the script. Thread-safe.
func (r *Recognizer) Push(runs ...Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Runs = append(r.Runs, runs...)
}
