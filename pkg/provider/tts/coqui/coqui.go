// Package coqui provides a TTS provider for a local Coqui TTS server
// (ghcr.io/coqui-ai/tts). It keeps voice feedback working on installations
// without internet access.
//
// Synthesis calls GET /api/tts and strips the WAV container from the
// response. The server's model decides the sample rate; configure it with
// WithSampleRate so callers can resample correctly.
package coqui

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/lifeline/pkg/provider/tts"
)

const (
	defaultSampleRate = 22050
	defaultTimeout    = 30 * time.Second
	apiTTSEndpoint    = "/api/tts"
)

// Option is a functional option for the Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language_id parameter for multilingual models.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSampleRate declares the output rate of the server's model.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

// WithTimeout sets the HTTP timeout for one synthesis request.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// Provider implements tts.Provider against a Coqui TTS server.
type Provider struct {
	serverURL  string
	language   string
	sampleRate int
	httpClient *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New creates a Coqui Provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// SampleRate implements [tts.Provider].
func (p *Provider) SampleRate() int { return p.sampleRate }

// Synthesize implements [tts.Provider]. The whole WAV is buffered because
// the data chunk offset is only known once the header has been read.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (io.ReadCloser, error) {
	if req.Text == "" {
		return nil, errors.New("coqui: empty text")
	}
	q := url.Values{"text": {req.Text}}
	if req.Voice != "" {
		q.Set("speaker_id", req.Voice)
	}
	if p.language != "" {
		q.Set("language_id", p.language)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: synthesize: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("coqui: synthesize HTTP: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: synthesize: unexpected status %d", resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	offset, err := dataOffset(wav)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(wav[offset:])), nil
}

// dataOffset walks the RIFF chunks of a WAV file and returns the offset of
// the PCM payload.
func dataOffset(wav []byte) (int, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return 0, errors.New("coqui: response is not a RIFF/WAVE file")
	}
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		if id == "data" {
			return offset + 8, nil
		}
		// Chunks are word aligned.
		offset += 8 + size + size%2
	}
	return 0, errors.New("coqui: WAV response missing data chunk")
}
