// Package mock provides test doubles for the stt.Provider and stt.Session
// interfaces.
//
// Provider hands out pre-scripted sessions in order. Each Session emits its
// Transcripts and then closes its Results channel with EndErr as its Err,
// or waits for Close when HoldOpen is set.
//
// Example:
//
//	p := &mock.Provider{Sessions: []*mock.Session{
//	    {Transcripts: []stt.Transcript{{Text: "help me", IsFinal: true}}},
//	}}
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/lifeline/pkg/provider/stt"
)

// Session is a scripted stt.Session.
type Session struct {
	// Transcripts are emitted in order once the session starts.
	Transcripts []stt.Transcript

	// EndErr is reported by Err after Results closes.
	EndErr error

	// HoldOpen keeps Results open after Transcripts until Close or the
	// stream context ends.
	HoldOpen bool

	mu      sync.Mutex
	audio   [][]byte
	results chan stt.Transcript
	done    chan struct{}
	once    sync.Once
	closed  bool
}

var _ stt.Session = (*Session)(nil)

func (s *Session) start(ctx context.Context) {
	s.results = make(chan stt.Transcript, len(s.Transcripts))
	s.done = make(chan struct{})
	go func() {
		defer close(s.results)
		for _, tr := range s.Transcripts {
			select {
			case s.results <- tr:
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
		if s.HoldOpen {
			select {
			case <-s.done:
			case <-ctx.Done():
			}
		}
	}()
}

// SendAudio records the chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrSessionClosed
	}
	s.audio = append(s.audio, append([]byte(nil), chunk...))
	return nil
}

// Results implements [stt.Session].
func (s *Session) Results() <-chan stt.Transcript { return s.results }

// Err returns EndErr.
func (s *Session) Err() error { return s.EndErr }

// Close ends the session.
func (s *Session) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
	return nil
}

// Audio returns a copy of every chunk received. Thread-safe.
func (s *Session) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.audio...)
}

// IsClosed reports whether Close was called. Thread-safe.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Sessions are handed out by StartStream in order. When exhausted,
	// StartStream returns an error.
	Sessions []*Session

	// StartErr, if non-nil, is returned by StartStream.
	StartErr error

	// Configs records the StreamConfig of every StartStream call.
	Configs []stt.StreamConfig
}

var _ stt.Provider = (*Provider)(nil)

// StartStream records the config and returns the next scripted session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Configs = append(p.Configs, cfg)
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	if len(p.Sessions) == 0 {
		return nil, errors.New("mock stt: no scripted sessions left")
	}
	s := p.Sessions[0]
	p.Sessions = p.Sessions[1:]
	s.start(ctx)
	return s, nil
}

// StartCount returns the number of StartStream calls. Thread-safe.
func (p *Provider) StartCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Configs)
}
