// Package stt defines the Provider interface for streaming speech-to-text
// backends.
//
// A provider opens a Session that accepts raw PCM frames and emits
// Transcript values, both interim guesses and committed finals, on a single
// channel. When the channel closes the session is over; Err tells a clean
// end (nil) from a failure.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after the session has ended.
var ErrSessionClosed = errors.New("stt: session closed")

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Zero uses the provider default.
	SampleRate int

	// Channels is the number of interleaved audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 tag for recognition (e.g. "en-US"). Empty uses
	// the provider default.
	Language string

	// Keyterms are words and short phrases the recognizer should favour,
	// such as the trigger vocabulary.
	Keyterms []string
}

// Transcript is a single recognition result.
type Transcript struct {
	// Text is the recognised speech.
	Text string

	// IsFinal is true once the provider has committed to the result.
	IsFinal bool

	// Confidence is in [0, 1]. Zero when not reported.
	Confidence float64
}

// Session is an open streaming recognition session.
type Session interface {
	// SendAudio delivers one chunk of PCM matching the StreamConfig.
	SendAudio(chunk []byte) error

	// Results emits transcripts in arrival order. It is closed when the
	// session ends for any reason.
	Results() <-chan Transcript

	// Err returns the error that ended the session, or nil for a clean end.
	// It is only meaningful after Results has been closed.
	Err() error

	// Close ends the session and releases its resources. Safe to call more
	// than once.
	Close() error
}

// Provider opens recognition sessions.
type Provider interface {
	StartStream(ctx context.Context, cfg StreamConfig) (Session, error)
}
