package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/MrWong99/lifeline/pkg/audio"
	"github.com/MrWong99/lifeline/pkg/provider/tts"
)

// SpeechAnnouncer synthesises announcements with a TTS provider and plays
// them on an audio sink. Announcements are played one at a time in call
// order.
type SpeechAnnouncer struct {
	tts   tts.Provider
	sink  audio.Sink
	out   audio.Format
	voice string

	mu sync.Mutex
}

var _ Announcer = (*SpeechAnnouncer)(nil)

// AnnouncerOption configures a SpeechAnnouncer.
type AnnouncerOption func(*SpeechAnnouncer)

// WithVoice selects the TTS voice.
func WithVoice(voice string) AnnouncerOption {
	return func(a *SpeechAnnouncer) { a.voice = voice }
}

// WithOutputFormat sets the format handed to the sink. By default audio is
// played at the provider's native rate in mono.
func WithOutputFormat(f audio.Format) AnnouncerOption {
	return func(a *SpeechAnnouncer) { a.out = f }
}

// NewSpeechAnnouncer creates a SpeechAnnouncer.
func NewSpeechAnnouncer(p tts.Provider, sink audio.Sink, opts ...AnnouncerOption) (*SpeechAnnouncer, error) {
	if p == nil || sink == nil {
		return nil, errors.New("voice: announcer needs a TTS provider and a sink")
	}
	a := &SpeechAnnouncer{tts: p, sink: sink}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Announce implements [Announcer].
func (a *SpeechAnnouncer) Announce(ctx context.Context, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rc, err := a.tts.Synthesize(ctx, tts.Request{Text: message, Voice: a.voice})
	if err != nil {
		return fmt.Errorf("voice: synthesize: %w", err)
	}
	defer rc.Close()

	native := audio.Format{SampleRate: a.tts.SampleRate(), Channels: 1}
	out := a.out
	if out.SampleRate == 0 {
		out = native
	}

	var pcm io.Reader = rc
	if out != native {
		raw, err := io.ReadAll(rc)
		if err != nil {
			return fmt.Errorf("voice: read speech: %w", err)
		}
		pcm = bytes.NewReader(audio.Convert(raw, native, out))
	}
	if err := a.sink.Play(ctx, pcm, out); err != nil {
		return fmt.Errorf("voice: play: %w", err)
	}
	return nil
}
