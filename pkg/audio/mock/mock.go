// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Sink] for unit tests.
//
// All mocks are safe for concurrent use and record every call.
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/MrWong99/lifeline/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock [audio.Source]. Each Open returns a reader over Data that,
// once Data is exhausted, blocks until ctx is done or the reader is closed,
// like a live microphone.
type Source struct {
	mu sync.Mutex

	// Data is served by every stream.
	Data []byte

	// Fmt is returned by Format. Zero reports audio.DefaultCaptureFormat.
	Fmt audio.Format

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCount records how many times Open was called.
	OpenCount int
}

var _ audio.Source = (*Source)(nil)

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	if s.Fmt.SampleRate == 0 {
		return audio.DefaultCaptureFormat
	}
	return s.Fmt
}

// Open implements [audio.Source].
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCount++
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	return &liveReader{
		r:      bytes.NewReader(append([]byte(nil), s.Data...)),
		ctx:    ctx,
		closed: make(chan struct{}),
	}, nil
}

// Opens returns OpenCount. Thread-safe.
func (s *Source) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.OpenCount
}

type liveReader struct {
	r      *bytes.Reader
	ctx    context.Context
	closed chan struct{}
	once   sync.Once
}

func (l *liveReader) Read(p []byte) (int, error) {
	if l.r.Len() > 0 {
		return l.r.Read(p)
	}
	select {
	case <-l.ctx.Done():
		return 0, io.EOF
	case <-l.closed:
		return 0, io.EOF
	}
}

func (l *liveReader) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Playback records a single call to [Sink.Play].
type Playback struct {
	PCM    []byte
	Format audio.Format
}

// Sink is a mock [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by Play after consuming the reader.
	PlayErr error

	// Playbacks records every Play call in order.
	Playbacks []Playback
}

var _ audio.Sink = (*Sink)(nil)

// Play implements [audio.Sink].
func (s *Sink) Play(_ context.Context, pcm io.Reader, f audio.Format) error {
	data, err := io.ReadAll(pcm)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Playbacks = append(s.Playbacks, Playback{PCM: data, Format: f})
	return s.PlayErr
}

// Played returns a copy of the recorded playbacks. Thread-safe.
func (s *Sink) Played() []Playback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Playback(nil), s.Playbacks...)
}
