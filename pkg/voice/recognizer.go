package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/lifeline/pkg/audio"
	"github.com/MrWong99/lifeline/pkg/provider/stt"
)

const chunkSize = 3200 // 100 ms of 16 kHz mono

// StreamRecognizer feeds microphone audio into a streaming STT provider and
// reports committed transcripts.
type StreamRecognizer struct {
	stt      stt.Provider
	source   audio.Source
	language string
	keyterms []string
	single   bool
}

var _ Recognizer = (*StreamRecognizer)(nil)

// RecognizerOption configures a StreamRecognizer.
type RecognizerOption func(*StreamRecognizer)

// WithLanguage sets the recognition language.
func WithLanguage(lang string) RecognizerOption {
	return func(r *StreamRecognizer) { r.language = lang }
}

// WithKeyterms biases recognition towards the given phrases.
func WithKeyterms(terms []string) RecognizerOption {
	return func(r *StreamRecognizer) { r.keyterms = append([]string(nil), terms...) }
}

// WithSingleUtterance ends each Listen after the first committed result, the
// way platform speech recognisers behave.
func WithSingleUtterance(on bool) RecognizerOption {
	return func(r *StreamRecognizer) { r.single = on }
}

// NewStreamRecognizer creates a StreamRecognizer.
func NewStreamRecognizer(p stt.Provider, source audio.Source, opts ...RecognizerOption) (*StreamRecognizer, error) {
	if p == nil || source == nil {
		return nil, errors.New("voice: recognizer needs an STT provider and an audio source")
	}
	r := &StreamRecognizer{stt: p, source: source}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Listen implements [Recognizer]. Only final transcripts reach onResult.
func (r *StreamRecognizer) Listen(ctx context.Context, onResult func(text string)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	f := r.source.Format()
	mic, err := r.source.Open(ctx)
	if err != nil {
		return fmt.Errorf("voice: open audio source: %w", err)
	}
	defer mic.Close()

	sess, err := r.stt.StartStream(ctx, stt.StreamConfig{
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		Language:   r.language,
		Keyterms:   r.keyterms,
	})
	if err != nil {
		return fmt.Errorf("voice: start recognition: %w", err)
	}
	defer sess.Close()

	pumpErr := make(chan error, 1)
	go func() {
		pumpErr <- pump(mic, sess)
	}()

	for {
		select {
		case tr, ok := <-sess.Results():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				if err := sess.Err(); err != nil {
					return fmt.Errorf("voice: recognition: %w", err)
				}
				return nil
			}
			if !tr.IsFinal || tr.Text == "" {
				continue
			}
			slog.Debug("voice: recognised", "text", tr.Text, "confidence", tr.Confidence)
			onResult(tr.Text)
			if r.single {
				return nil
			}
		case err := <-pumpErr:
			pumpErr = nil
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("voice: audio capture: %w", err)
			}
			// Capture ended cleanly; let the recogniser flush.
			_ = sess.Close()
		case <-ctx.Done():
			return nil
		}
	}
}

// pump copies microphone audio into the session until the microphone ends.
func pump(mic io.Reader, sess stt.Session) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := mic.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if serr := sess.SendAudio(chunk); serr != nil {
				if errors.Is(serr, stt.ErrSessionClosed) {
					return nil
				}
				return serr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
