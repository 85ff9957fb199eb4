package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/MrWong99/lifeline/internal/sos"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"location":  {"static", "gpsd"},
	"channel":   {"twilio", "intent", "log"},
	"stt":       {"deepgram"},
	"tts":       {"openai", "elevenlabs", "coqui"},
	"audio_in":  {"command"},
	"audio_out": {"command"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Alert
	a := cfg.Alert
	if strings.TrimSpace(a.EmergencyNumber) == "" {
		errs = append(errs, errors.New("alert.emergency_number must not be empty"))
	}
	if !strings.Contains(a.MessageTemplate, sos.LocationPlaceholder) {
		errs = append(errs, fmt.Errorf("alert.message_template must contain %s", sos.LocationPlaceholder))
	}
	if a.CountdownSeconds < 0 {
		errs = append(errs, fmt.Errorf("alert.countdown_seconds %d must not be negative", a.CountdownSeconds))
	}
	if a.MaxParallelDispatch < 0 {
		errs = append(errs, fmt.Errorf("alert.max_parallel_dispatch %d must not be negative", a.MaxParallelDispatch))
	}
	if a.MapBaseURL != "" {
		u, err := url.Parse(a.MapBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("alert.map_base_url %q must be an absolute http(s) URL", a.MapBaseURL))
		}
	}

	// Voice
	v := cfg.Voice
	if v.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("voice.sample_rate %d must not be negative", v.SampleRate))
	}
	if v.MinRestartInterval < 0 || v.RetryBackoff < 0 || v.MaxRetryBackoff < 0 {
		errs = append(errs, errors.New("voice restart intervals must not be negative"))
	}
	if v.RetryBackoff > 0 && v.MaxRetryBackoff > 0 && v.MaxRetryBackoff < v.RetryBackoff {
		errs = append(errs, fmt.Errorf("voice.max_retry_backoff %s is shorter than voice.retry_backoff %s", v.MaxRetryBackoff, v.RetryBackoff))
	}
	if v.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("voice.max_retries %d must not be negative", v.MaxRetries))
	}
	if v.PhoneticThreshold < 0 || v.PhoneticThreshold > 1 {
		errs = append(errs, fmt.Errorf("voice.phonetic_threshold %.2f is out of range [0, 1]", v.PhoneticThreshold))
	}
	if v.ActivationEnabled && cfg.Providers.STT.Name == "" {
		slog.Warn("voice.activation_enabled is set but providers.stt is not configured; voice activation will not be available")
	}

	// Location
	if cfg.Location.TrackInterval < 0 || cfg.Location.MaxFixAge < 0 {
		errs = append(errs, errors.New("location.track_interval and location.max_fix_age must not be negative"))
	}
	if s := cfg.Location.Static; s != nil {
		if s.Latitude < -90 || s.Latitude > 90 {
			errs = append(errs, fmt.Errorf("location.static.latitude %.6f is out of range [-90, 90]", s.Latitude))
		}
		if s.Longitude < -180 || s.Longitude > 180 {
			errs = append(errs, fmt.Errorf("location.static.longitude %.6f is out of range [-180, 180]", s.Longitude))
		}
		if s.Accuracy < 0 {
			errs = append(errs, fmt.Errorf("location.static.accuracy %.2f must not be negative", s.Accuracy))
		}
	}
	if cfg.Providers.Location.Name == "static" && cfg.Location.Static == nil {
		errs = append(errs, errors.New("providers.location \"static\" requires location.static"))
	}

	// Providers — warn for unknown names.
	validateProviderName("location", cfg.Providers.Location.Name)
	validateProviderName("channel", cfg.Providers.Channel.Name)
	for i, fb := range cfg.Providers.ChannelFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.channel_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("channel", fb.Name)
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("tts", fb.Name)
	}
	validateProviderName("audio_in", cfg.Providers.AudioIn.Name)
	validateProviderName("audio_out", cfg.Providers.AudioOut.Name)

	if cfg.Providers.Channel.Name == "" {
		slog.Warn("providers.channel is not configured; alerts will only be logged")
	}
	if len(cfg.Providers.ChannelFallbacks) > 0 && cfg.Providers.Channel.Name == "" {
		errs = append(errs, errors.New("providers.channel_fallbacks requires providers.channel"))
	}
	if len(cfg.Providers.TTSFallbacks) > 0 && cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts_fallbacks requires providers.tts"))
	}

	// MQTT
	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos %d is invalid; valid values: 0, 1, 2", cfg.MQTT.QoS))
		}
		if strings.ContainsAny(cfg.MQTT.TopicPrefix, "#+") {
			errs = append(errs, fmt.Errorf("mqtt.topic_prefix %q must not contain wildcards", cfg.MQTT.TopicPrefix))
		}
	}

	// Discord
	if (cfg.Discord.Token == "") != (cfg.Discord.ChannelID == "") {
		errs = append(errs, errors.New("discord.token and discord.channel_id must be set together"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
