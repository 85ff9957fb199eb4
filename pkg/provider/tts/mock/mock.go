// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{PCM: []byte{0, 0, 1, 0}, Rate: 16000}
//	rc, _ := p.Synthesize(ctx, tts.Request{Text: "hello"})
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/MrWong99/lifeline/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// PCM is returned by every Synthesize call.
	PCM []byte

	// Rate is returned by SampleRate. Zero reports 16000.
	Rate int

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// --- Call records ---

	// Requests records every Synthesize call in order.
	Requests []tts.Request
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize records the request and returns PCM or Err.
func (p *Provider) Synthesize(_ context.Context, req tts.Request) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
	if p.Err != nil {
		return nil, p.Err
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), p.PCM...))), nil
}

// SampleRate returns Rate.
func (p *Provider) SampleRate() int {
	if p.Rate == 0 {
		return 16000
	}
	return p.Rate
}

// Texts returns the text of every recorded request. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Requests))
	for i, r := range p.Requests {
		out[i] = r.Text
	}
	return out
}
