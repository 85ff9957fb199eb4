// Command lifeline is the personal-safety SOS daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/lifeline/internal/app"
	"github.com/MrWong99/lifeline/internal/config"
	"github.com/MrWong99/lifeline/internal/observe"
	"github.com/MrWong99/lifeline/pkg/audio"
	"github.com/MrWong99/lifeline/pkg/channel"
	"github.com/MrWong99/lifeline/pkg/channel/intent"
	"github.com/MrWong99/lifeline/pkg/channel/twilio"
	"github.com/MrWong99/lifeline/pkg/location"
	"github.com/MrWong99/lifeline/pkg/location/gpsd"
	"github.com/MrWong99/lifeline/pkg/location/static"
	"github.com/MrWong99/lifeline/pkg/provider/stt"
	"github.com/MrWong99/lifeline/pkg/provider/stt/deepgram"
	"github.com/MrWong99/lifeline/pkg/provider/tts"
	"github.com/MrWong99/lifeline/pkg/provider/tts/coqui"
	"github.com/MrWong99/lifeline/pkg/provider/tts/elevenlabs"
	oaitts "github.com/MrWong99/lifeline/pkg/provider/tts/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "lifeline.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lifeline: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lifeline: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("lifeline starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "lifeline",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithLogLevel(level),
		app.WithMetricsHandler(tel.MetricsHandler),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		application.ApplyConfig(old, new)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("lifeline ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Some factories read sections of cfg outside their own ProviderEntry, such
// as location.static and the voice settings.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── Location ──────────────────────────────────────────────────────────────

	reg.RegisterLocation("static", func(config.ProviderEntry) (location.Provider, error) {
		s := cfg.Location.Static
		if s == nil {
			return nil, errors.New("location.static is required for the static provider")
		}
		return static.New(s.Latitude, s.Longitude, s.Accuracy)
	})

	reg.RegisterLocation("gpsd", func(entry config.ProviderEntry) (location.Provider, error) {
		var opts []gpsd.Option
		if d, err := optDuration(entry.Options, "timeout"); err != nil {
			return nil, err
		} else if d > 0 {
			opts = append(opts, gpsd.WithTimeout(d))
		}
		return gpsd.New(entry.BaseURL, opts...), nil
	})

	// ── Channel ───────────────────────────────────────────────────────────────

	reg.RegisterChannel("twilio", func(entry config.ProviderEntry) (channel.Channel, error) {
		var opts []twilio.Option
		if entry.BaseURL != "" {
			opts = append(opts, twilio.WithBaseURL(entry.BaseURL))
		}
		if twiml := optString(entry.Options, "call_twiml"); twiml != "" {
			opts = append(opts, twilio.WithCallTwiML(twiml))
		}
		return twilio.New(optString(entry.Options, "account_sid"), entry.APIKey, optString(entry.Options, "from"), opts...)
	})

	reg.RegisterChannel("intent", func(entry config.ProviderEntry) (channel.Channel, error) {
		var launcher intent.Launcher
		if cmd := optString(entry.Options, "command"); cmd != "" {
			launcher = intent.CommandLauncher{Command: cmd, Args: optStrings(entry.Options, "args")}
		}
		var opts []intent.Option
		if sep := optString(entry.Options, "body_separator"); sep != "" {
			opts = append(opts, intent.WithBodySeparator(sep))
		}
		return intent.New(launcher, opts...), nil
	})

	reg.RegisterChannel("log", func(config.ProviderEntry) (channel.Channel, error) {
		return channel.LogChannel{}, nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []deepgram.Option{
			deepgram.WithLanguage(cfg.Voice.Language),
			deepgram.WithSampleRate(cfg.Voice.SampleRate),
		}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oaitts.WithModel(entry.Model))
		}
		if v := optString(entry.Options, "voice"); v != "" {
			opts = append(opts, oaitts.WithVoice(v))
		}
		if s := optString(entry.Options, "instructions"); s != "" {
			opts = append(opts, oaitts.WithInstructions(s))
		}
		return oaitts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if v := optString(entry.Options, "voice"); v != "" {
			opts = append(opts, elevenlabs.WithVoice(v))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, elevenlabs.WithSampleRate(rate))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, coqui.WithSampleRate(rate))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudioIn("command", func(entry config.ProviderEntry) (audio.Source, error) {
		f := audio.Format{SampleRate: cfg.Voice.SampleRate, Channels: 1}
		return audio.NewCommandSource(optString(entry.Options, "command"), optStrings(entry.Options, "args"), f), nil
	})

	reg.RegisterAudioOut("command", func(entry config.ProviderEntry) (audio.Sink, error) {
		return audio.NewCommandSink(optString(entry.Options, "command"), optStrings(entry.Options, "args")), nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// create instantiates entry when it names a provider. ok is false for an
// empty entry.
func create[T any](kind string, entry config.ProviderEntry, factory func(config.ProviderEntry) (T, error)) (v T, ok bool, err error) {
	if entry.Name == "" {
		return v, false, nil
	}
	v, err = factory(entry)
	if err != nil {
		return v, false, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return v, true, nil
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	pc := cfg.Providers

	var err error
	if ps.Location, _, err = create("location", pc.Location, reg.CreateLocation); err != nil {
		return nil, err
	}
	if ps.Channel, _, err = create("channel", pc.Channel, reg.CreateChannel); err != nil {
		return nil, err
	}
	for _, entry := range pc.ChannelFallbacks {
		ch, ok, err := create("channel", entry, reg.CreateChannel)
		if err != nil {
			return nil, err
		}
		if ok {
			ps.ChannelFallbacks = append(ps.ChannelFallbacks, app.Named[channel.Channel]{Name: entry.Name, Value: ch})
		}
	}
	if ps.STT, _, err = create("stt", pc.STT, reg.CreateSTT); err != nil {
		return nil, err
	}
	if ps.TTS, _, err = create("tts", pc.TTS, reg.CreateTTS); err != nil {
		return nil, err
	}
	for _, entry := range pc.TTSFallbacks {
		p, ok, err := create("tts", entry, reg.CreateTTS)
		if err != nil {
			return nil, err
		}
		if ok {
			ps.TTSFallbacks = append(ps.TTSFallbacks, app.Named[tts.Provider]{Name: entry.Name, Value: p})
		}
	}
	if ps.AudioIn, _, err = create("audio_in", pc.AudioIn, reg.CreateAudioIn); err != nil {
		return nil, err
	}
	if ps.AudioOut, _, err = create("audio_out", pc.AudioOut, reg.CreateAudioOut); err != nil {
		return nil, err
	}
	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Lifeline startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Location", cfg.Providers.Location.Name, "")
	printProvider("Channel", cfg.Providers.Channel.Name, "")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	fmt.Printf("║  Fallbacks       : %-19d ║\n", len(cfg.Providers.ChannelFallbacks)+len(cfg.Providers.TTSFallbacks))
	fmt.Printf("║  Emergency no.   : %-19s ║\n", cfg.Alert.EmergencyNumber)
	fmt.Printf("║  Voice trigger   : %-19t ║\n", cfg.Voice.ActivationEnabled)
	printEnabled("Discord", cfg.Discord.Token != "")
	printEnabled("MQTT", cfg.MQTT.Broker != "")
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func printEnabled(kind string, on bool) {
	state := "(disabled)"
	if on {
		state = "enabled"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, state)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optStrings extracts a list of strings. Non-string elements are formatted
// with %v so numeric arguments like sample rates survive YAML decoding.
func optStrings(opts map[string]any, key string) []string {
	list, ok := opts[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		} else {
			out = append(out, fmt.Sprint(v))
		}
	}
	return out
}

// optInt extracts an integer. YAML decodes whole numbers as int; floats are
// truncated.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// optDuration parses a Go duration string such as "5s". An absent key yields
// zero.
func optDuration(opts map[string]any, key string) (time.Duration, error) {
	s := optString(opts, key)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("option %s: %w", key, err)
	}
	return d, nil
}
