// Package tts defines the Provider interface for text-to-speech backends.
//
// A provider turns one utterance into a stream of raw PCM: signed 16-bit
// little-endian mono at the rate reported by SampleRate. Announcements are
// short, so the interface is request/response; implementations that can
// stream should return the body before synthesis finishes so playback
// starts early.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"io"
)

// Request describes one utterance.
type Request struct {
	// Text is the sentence to speak.
	Text string

	// Voice is the provider-specific voice identifier. Empty uses the
	// provider default.
	Voice string

	// Speed scales the speaking rate (1.0 = normal). Zero uses the default.
	Speed float64
}

// Provider synthesises speech.
type Provider interface {
	// Synthesize returns a reader over raw PCM for req. The caller must close
	// it. Errors after the stream has started surface as read errors.
	Synthesize(ctx context.Context, req Request) (io.ReadCloser, error)

	// SampleRate is the rate, in Hz, of the PCM returned by Synthesize.
	SampleRate() int
}
