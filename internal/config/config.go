// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for the Lifeline daemon.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/lifeline/internal/sos"
	"github.com/MrWong99/lifeline/pkg/location"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader], which start from [Default] so
// omitted keys keep their defaults.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Alert     AlertConfig     `yaml:"alert"`
	Voice     VoiceConfig     `yaml:"voice"`
	Location  LocationConfig  `yaml:"location"`
	Contacts  ContactsConfig  `yaml:"contacts"`
	Providers ProvidersConfig `yaml:"providers"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Discord   DiscordConfig   `yaml:"discord"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control API (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the control API. When nil, the server runs plain
	// HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AlertConfig holds the settings the SOS engine reads at activation. All
// fields are hot-reloadable.
type AlertConfig struct {
	// EmergencyNumber is dialled when the countdown ends. Must not be empty.
	EmergencyNumber string `yaml:"emergency_number"`

	// MessageTemplate is the alert text. It must contain "{location}".
	MessageTemplate string `yaml:"message_template"`

	// CountdownSeconds is the cancellable delay before the call. Zero
	// selects 5; negative values are rejected.
	CountdownSeconds int `yaml:"countdown_seconds"`

	// MapBaseURL prefixes the map link, e.g. "https://www.google.com/maps".
	MapBaseURL string `yaml:"map_base_url"`

	// UnavailableMarker replaces the map link when no fix was obtained.
	UnavailableMarker string `yaml:"unavailable_marker"`

	ActivatedMessage string `yaml:"activated_message"`
	CancelledMessage string `yaml:"cancelled_message"`

	// MaxParallelDispatch bounds concurrent texts. Zero means unbounded.
	MaxParallelDispatch int `yaml:"max_parallel_dispatch"`
}

// Settings converts the alert section into engine settings.
func (a AlertConfig) Settings() sos.Settings {
	return sos.Settings{
		EmergencyNumber:     a.EmergencyNumber,
		MessageTemplate:     a.MessageTemplate,
		CountdownSeconds:    a.CountdownSeconds,
		MapBaseURL:          a.MapBaseURL,
		UnavailableMarker:   a.UnavailableMarker,
		ActivatedMessage:    a.ActivatedMessage,
		CancelledMessage:    a.CancelledMessage,
		MaxParallelDispatch: a.MaxParallelDispatch,
	}.WithDefaults()
}

// VoiceConfig configures hands-free activation and spoken announcements.
type VoiceConfig struct {
	// ActivationEnabled arms the trigger listener. Hot-reloadable.
	ActivationEnabled bool `yaml:"activation_enabled"`

	// Language is the recognition language, e.g. "en-US".
	Language string `yaml:"language"`

	// SampleRate is the microphone capture rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// TTSVoice selects the announcement voice of the TTS provider.
	TTSVoice string `yaml:"tts_voice"`

	MinRestartInterval time.Duration `yaml:"min_restart_interval"`
	RetryBackoff       time.Duration `yaml:"retry_backoff"`
	MaxRetryBackoff    time.Duration `yaml:"max_retry_backoff"`
	MaxRetries         int           `yaml:"max_retries"`

	// PhoneticMatching enables the sound-alike trigger fallback.
	PhoneticMatching bool `yaml:"phonetic_matching"`

	// PhoneticThreshold is the Jaro-Winkler score a sound-alike needs.
	// Zero selects 0.85.
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`
}

// LocationConfig configures position lookups.
type LocationConfig struct {
	// PermissionGranted gates every lookup. When false, alerts carry the
	// unavailable marker. Defaults to true.
	PermissionGranted bool `yaml:"permission_granted"`

	// TrackInterval enables continuous tracking when positive.
	TrackInterval time.Duration `yaml:"track_interval"`

	// MaxFixAge is how old a tracked fix may be to stand in for a failed
	// one-shot query. Zero disables the fallback.
	MaxFixAge time.Duration `yaml:"max_fix_age"`

	// Static is the fixed position used by the "static" location provider.
	Static *StaticLocation `yaml:"static"`
}

// StaticLocation is a configured fixed position.
type StaticLocation struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Accuracy  float64 `yaml:"accuracy"`
}

// ContactsConfig selects the contact store.
type ContactsConfig struct {
	// OwnerID scopes rows in the Postgres store.
	OwnerID string `yaml:"owner_id"`

	// File is an optional YAML seed file imported on start-up.
	File string `yaml:"file"`

	// PostgresDSN selects the Postgres store. When empty, contacts are kept
	// in memory.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ProvidersConfig declares which provider implementation to use for each
// collaborator. Each entry selects a named provider registered in the
// [Registry]; an empty name disables the collaborator.
type ProvidersConfig struct {
	Location ProviderEntry `yaml:"location"`
	Channel  ProviderEntry `yaml:"channel"`

	// ChannelFallbacks are tried in order when Channel fails.
	ChannelFallbacks []ProviderEntry `yaml:"channel_fallbacks"`

	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`

	// TTSFallbacks are tried in order when TTS fails.
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`

	AudioIn  ProviderEntry `yaml:"audio_in"`
	AudioOut ProviderEntry `yaml:"audio_out"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the
// [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "twilio",
	// "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// MQTTConfig configures the event bridge. An empty Broker disables it.
type MQTTConfig struct {
	// Broker is the broker URL, e.g. "tcp://localhost:1883".
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// TopicPrefix is prepended to every topic. Events go to
	// "<prefix>/events".
	TopicPrefix string `yaml:"topic_prefix"`

	// QoS is the publish quality of service (0, 1 or 2).
	QoS byte `yaml:"qos"`
}

// DiscordConfig configures the alert mirror. An empty Token disables it.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// Default returns the configuration used for every key a file omits.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Alert: AlertConfig{
			EmergencyNumber:   sos.DefaultEmergencyNumber,
			MessageTemplate:   sos.DefaultMessageTemplate,
			CountdownSeconds:  sos.DefaultCountdownSeconds,
			MapBaseURL:        location.DefaultMapBaseURL,
			UnavailableMarker: sos.DefaultUnavailableMarker,
			ActivatedMessage:  sos.DefaultActivatedMessage,
			CancelledMessage:  sos.DefaultCancelledMessage,
		},
		Voice: VoiceConfig{
			Language:           "en-US",
			SampleRate:         16000,
			MinRestartInterval: 500 * time.Millisecond,
			RetryBackoff:       time.Second,
			MaxRetryBackoff:    30 * time.Second,
			MaxRetries:         5,
		},
		Location: LocationConfig{
			PermissionGranted: true,
			MaxFixAge:         2 * time.Minute,
		},
		Contacts: ContactsConfig{
			OwnerID: "default",
		},
		MQTT: MQTTConfig{
			ClientID:    "lifeline",
			TopicPrefix: "lifeline",
		},
	}
}
