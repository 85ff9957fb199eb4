package resilience

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/MrWong99/lifeline/pkg/audio"
	"github.com/MrWong99/lifeline/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across several speech
// backends. Each backend has its own circuit breaker.
//
// SampleRate reports the primary's rate. Audio from a fallback with a
// different rate is buffered and resampled before it is returned.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
	rate  int
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred
// backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
		rate:  primary.SampleRate(),
	}
}

// AddFallback registers an additional TTS backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) {
	f.group.AddFallback(name, p)
}

// SampleRate implements [tts.Provider].
func (f *TTSFallback) SampleRate() int { return f.rate }

// Synthesize returns speech from the first healthy backend. Only stream
// setup is covered by failover; read errors reach the caller.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (io.ReadCloser, error) {
	var native int
	rc, err := ExecuteWithResult(ctx, f.group, func(p tts.Provider) (io.ReadCloser, error) {
		native = p.SampleRate()
		return p.Synthesize(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if native == f.rate {
		return rc, nil
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("resilience: read fallback speech: %w", err)
	}
	out := audio.Convert(raw,
		audio.Format{SampleRate: native, Channels: 1},
		audio.Format{SampleRate: f.rate, Channels: 1},
	)
	return io.NopCloser(bytes.NewReader(out)), nil
}
