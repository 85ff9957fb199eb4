package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/lifeline/pkg/audio"
	"github.com/MrWong99/lifeline/pkg/channel"
	"github.com/MrWong99/lifeline/pkg/location"
	"github.com/MrWong99/lifeline/pkg/provider/stt"
	"github.com/MrWong99/lifeline/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	location map[string]func(ProviderEntry) (location.Provider, error)
	channel  map[string]func(ProviderEntry) (channel.Channel, error)
	stt      map[string]func(ProviderEntry) (stt.Provider, error)
	tts      map[string]func(ProviderEntry) (tts.Provider, error)
	audioIn  map[string]func(ProviderEntry) (audio.Source, error)
	audioOut map[string]func(ProviderEntry) (audio.Sink, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		location: make(map[string]func(ProviderEntry) (location.Provider, error)),
		channel:  make(map[string]func(ProviderEntry) (channel.Channel, error)),
		stt:      make(map[string]func(ProviderEntry) (stt.Provider, error)),
		tts:      make(map[string]func(ProviderEntry) (tts.Provider, error)),
		audioIn:  make(map[string]func(ProviderEntry) (audio.Source, error)),
		audioOut: make(map[string]func(ProviderEntry) (audio.Sink, error)),
	}
}

// RegisterLocation registers a location provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLocation(name string, factory func(ProviderEntry) (location.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.location[name] = factory
}

// RegisterChannel registers an alert channel factory under name.
func (r *Registry) RegisterChannel(name string, factory func(ProviderEntry) (channel.Channel, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channel[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterAudioIn registers a microphone source factory under name.
func (r *Registry) RegisterAudioIn(name string, factory func(ProviderEntry) (audio.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audioIn[name] = factory
}

// RegisterAudioOut registers a speaker sink factory under name.
func (r *Registry) RegisterAudioOut(name string, factory func(ProviderEntry) (audio.Sink, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audioOut[name] = factory
}

// create looks up entry.Name in m and runs the factory.
func create[T any](r *Registry, m map[string]func(ProviderEntry) (T, error), kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}

// CreateLocation instantiates a location provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateLocation(entry ProviderEntry) (location.Provider, error) {
	return create(r, r.location, "location", entry)
}

// CreateChannel instantiates an alert channel using the factory registered
// under entry.Name.
func (r *Registry) CreateChannel(entry ProviderEntry) (channel.Channel, error) {
	return create(r, r.channel, "channel", entry)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(r, r.stt, "stt", entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, r.tts, "tts", entry)
}

// CreateAudioIn instantiates a microphone source using the factory registered
// under entry.Name.
func (r *Registry) CreateAudioIn(entry ProviderEntry) (audio.Source, error) {
	return create(r, r.audioIn, "audio_in", entry)
}

// CreateAudioOut instantiates a speaker sink using the factory registered
// under entry.Name.
func (r *Registry) CreateAudioOut(entry ProviderEntry) (audio.Sink, error) {
	return create(r, r.audioOut, "audio_out", entry)
}
