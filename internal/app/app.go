// Package app wires all Lifeline subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the control API and runs the background loops, and
// Shutdown tears everything down in reverse order.
//
// For testing, inject doubles via functional options (WithContactStore,
// WithNotifiers, WithMQTT, ...). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lifeline/internal/api"
	"github.com/MrWong99/lifeline/internal/config"
	"github.com/MrWong99/lifeline/internal/contact"
	"github.com/MrWong99/lifeline/internal/health"
	"github.com/MrWong99/lifeline/internal/mqttbridge"
	"github.com/MrWong99/lifeline/internal/observe"
	"github.com/MrWong99/lifeline/internal/resilience"
	"github.com/MrWong99/lifeline/internal/sos"
	"github.com/MrWong99/lifeline/internal/trigger"
	"github.com/MrWong99/lifeline/pkg/audio"
	"github.com/MrWong99/lifeline/pkg/channel"
	"github.com/MrWong99/lifeline/pkg/channel/discord"
	"github.com/MrWong99/lifeline/pkg/location"
	"github.com/MrWong99/lifeline/pkg/provider/stt"
	"github.com/MrWong99/lifeline/pkg/provider/tts"
	"github.com/MrWong99/lifeline/pkg/voice"
)

// httpShutdownTimeout bounds the graceful HTTP shutdown inside Run.
const httpShutdownTimeout = 5 * time.Second

// Named pairs a provider with the name it was configured under.
type Named[T any] struct {
	Name  string
	Value T
}

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Location location.Provider

	Channel          channel.Channel
	ChannelFallbacks []Named[channel.Channel]

	STT stt.Provider

	TTS          tts.Provider
	TTSFallbacks []Named[tts.Provider]

	AudioIn  audio.Source
	AudioOut audio.Sink
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics        *observe.Metrics
	metricsHandler http.Handler
	logLevel       *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	contacts  contact.Store
	locator   *location.LastKnown
	tracker   location.Watcher
	channel   channel.Channel
	notifiers []channel.Notifier
	announcer voice.Announcer
	engine    *sos.Engine
	listener  *trigger.Listener
	checkers  []health.Checker
	server    *api.Server

	mqttPub mqttbridge.Publisher
	mqttSub mqttbridge.Subscriber
	bridge  *mqttbridge.Bridge

	// closers run in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithContactStore injects a contact store instead of creating one from config.
func WithContactStore(s contact.Store) Option {
	return func(a *App) { a.contacts = s }
}

// WithNotifiers injects alert mirrors instead of creating the Discord
// notifier from config.
func WithNotifiers(n ...channel.Notifier) Option {
	return func(a *App) { a.notifiers = n }
}

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets hot reload adjust the level of the installed handler.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithMQTT injects the broker client instead of dialling mqtt.broker. sub
// may be nil to disable broker commands.
func WithMQTT(pub mqttbridge.Publisher, sub mqttbridge.Subscriber) Option {
	return func(a *App) {
		a.mqttPub = pub
		a.mqttSub = sub
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Contact store ─────────────────────────────────────────────────
	if err := a.initContacts(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init contacts: %w", err)
	}

	// ── 2. Location ──────────────────────────────────────────────────────
	a.initLocation()

	// ── 3. Channel + mirrors ─────────────────────────────────────────────
	if err := a.initChannel(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init channel: %w", err)
	}

	// ── 4. Announcer ─────────────────────────────────────────────────────
	if err := a.initAnnouncer(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init announcer: %w", err)
	}

	// ── 5. SOS engine ────────────────────────────────────────────────────
	engineOpts := []sos.Option{
		sos.WithMetrics(a.metrics),
		sos.WithSettings(cfg.Alert.Settings()),
	}
	if len(a.notifiers) > 0 {
		engineOpts = append(engineOpts, sos.WithNotifiers(a.notifiers...))
	}
	eng, err := sos.New(a.contacts, a.locator, a.channel, a.announcer, engineOpts...)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init engine: %w", err)
	}
	a.engine = eng
	a.closers = append(a.closers, eng.Close)

	// ── 6. Trigger listener ──────────────────────────────────────────────
	if err := a.initListener(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init trigger listener: %w", err)
	}

	// ── 7. Control API ───────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init api: %w", err)
	}

	// ── 8. MQTT bridge ───────────────────────────────────────────────────
	if err := a.initMQTT(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init mqtt: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initContacts opens the Postgres store or falls back to memory, then imports
// the seed file.
func (a *App) initContacts(ctx context.Context) error {
	if a.contacts == nil {
		if dsn := a.cfg.Contacts.PostgresDSN; dsn != "" {
			pool, err := contact.OpenPostgres(ctx, dsn)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, func() error {
				pool.Close()
				return nil
			})
			store := contact.NewPostgresStore(pool, a.cfg.Contacts.OwnerID)
			if err := store.Migrate(ctx); err != nil {
				return err
			}
			a.contacts = store
			slog.Info("contacts: using postgres store", "owner", a.cfg.Contacts.OwnerID)
		} else {
			a.contacts = contact.NewMemStore()
			slog.Info("contacts: using in-memory store")
		}
	}

	if p, ok := a.contacts.(health.Pinger); ok {
		a.checkers = append(a.checkers, health.PingChecker("contacts", p))
	}

	if path := a.cfg.Contacts.File; path != "" {
		cf, err := contact.LoadFile(path)
		if err != nil {
			return fmt.Errorf("load contacts file %q: %w", path, err)
		}
		n, err := contact.Import(ctx, a.contacts, cf)
		if err != nil {
			return fmt.Errorf("import contacts %q: %w", path, err)
		}
		slog.Info("imported contacts", "path", path, "count", n)
	}
	return nil
}

// initLocation layers the permission gate and the last-known cache over the
// configured provider.
func (a *App) initLocation() {
	var base location.Provider = location.Unavailable{}
	if a.providers.Location != nil {
		base = a.providers.Location
	}
	gated := location.Gated(base, location.Static(a.cfg.Location.PermissionGranted))
	a.locator = location.NewLastKnown(gated, a.cfg.Location.MaxFixAge)

	if a.cfg.Location.TrackInterval > 0 {
		if _, ok := base.(location.Watcher); ok {
			a.tracker = gated
		} else {
			slog.Warn("location: provider cannot be tracked, ignoring track_interval", "provider", a.cfg.Providers.Location.Name)
		}
	}
}

// initChannel builds the alert channel with its failover chain and the
// configured mirrors.
func (a *App) initChannel() error {
	primary := a.providers.Channel
	if primary == nil {
		slog.Warn("no alert channel configured, texts and calls are only logged")
		primary = channel.LogChannel{}
	}

	if len(a.providers.ChannelFallbacks) == 0 {
		a.channel = primary
	} else {
		cf := resilience.NewChannelFallback(primary, a.cfg.Providers.Channel.Name, resilience.FallbackConfig{
			OnError: a.providerError("channel"),
		})
		for _, fb := range a.providers.ChannelFallbacks {
			cf.AddFallback(fb.Name, fb.Value)
		}
		a.channel = cf
		a.checkers = append(a.checkers, health.Checker{
			Name:     "channel",
			Optional: true,
			Check:    func(context.Context) error { return openCircuits(cf.States()) },
		})
	}

	if a.notifiers == nil && a.cfg.Discord.Token != "" {
		n, err := discord.New(a.cfg.Discord.Token, a.cfg.Discord.ChannelID)
		if err != nil {
			return err
		}
		a.notifiers = []channel.Notifier{n}
		slog.Info("discord mirror enabled", "channel_id", a.cfg.Discord.ChannelID)
	}
	return nil
}

// initAnnouncer speaks through TTS when it is configured and logs otherwise.
func (a *App) initAnnouncer() error {
	if a.providers.TTS == nil {
		a.announcer = voice.LogAnnouncer{}
		return nil
	}

	var p tts.Provider = a.providers.TTS
	if len(a.providers.TTSFallbacks) > 0 {
		tf := resilience.NewTTSFallback(p, a.cfg.Providers.TTS.Name, resilience.FallbackConfig{
			OnError: a.providerError("tts"),
		})
		for _, fb := range a.providers.TTSFallbacks {
			tf.AddFallback(fb.Name, fb.Value)
		}
		p = tf
	}

	sink := a.providers.AudioOut
	if sink == nil {
		sink = audio.NewCommandSink("", nil)
	}
	ann, err := voice.NewSpeechAnnouncer(p, sink, voice.WithVoice(a.cfg.Voice.TTSVoice))
	if err != nil {
		return err
	}
	a.announcer = ann
	return nil
}

// initListener builds the voice trigger when an STT provider is configured.
func (a *App) initListener() error {
	if a.providers.STT == nil {
		if a.cfg.Voice.ActivationEnabled {
			slog.Warn("voice activation enabled but no stt provider configured")
		}
		return nil
	}

	src := a.providers.AudioIn
	if src == nil {
		src = audio.NewCommandSource("", nil, audio.Format{SampleRate: a.cfg.Voice.SampleRate, Channels: 1})
	}

	matcherOpts := []trigger.MatcherOption{}
	if a.cfg.Voice.PhoneticMatching {
		matcherOpts = append(matcherOpts, trigger.WithPhonetic(a.cfg.Voice.PhoneticThreshold))
	}
	matcher := trigger.NewMatcher(matcherOpts...)

	rec, err := voice.NewStreamRecognizer(a.providers.STT, src,
		voice.WithLanguage(a.cfg.Voice.Language),
		voice.WithKeyterms(matcher.Phrases()),
	)
	if err != nil {
		return err
	}

	onSTTError, sttName := a.providerError("stt"), a.cfg.Providers.STT.Name
	l, err := trigger.New(trigger.Config{
		Recognizer:         rec,
		Activator:          a.engine,
		Matcher:            matcher,
		Enabled:            a.cfg.Voice.ActivationEnabled,
		Foreground:         true,
		MinRestartInterval: a.cfg.Voice.MinRestartInterval,
		Backoff:            a.cfg.Voice.RetryBackoff,
		MaxBackoff:         a.cfg.Voice.MaxRetryBackoff,
		MaxRetries:         a.cfg.Voice.MaxRetries,
		OnError:            func(err error) { onSTTError(sttName, err) },
		Metrics:            a.metrics,
	})
	if err != nil {
		return err
	}
	a.listener = l
	a.checkers = append(a.checkers, health.Checker{
		Name:     "voice",
		Optional: true,
		Check: func(context.Context) error {
			if l.State().Parked {
				return errors.New("recognizer parked after repeated failures")
			}
			return nil
		},
	})
	return nil
}

// initServer builds the control API.
func (a *App) initServer() error {
	opts := []api.Option{
		api.WithHealth(health.New(a.checkers...)),
		api.WithMetrics(a.metrics),
	}
	if a.listener != nil {
		opts = append(opts, api.WithVoice(a.listener))
	}
	if a.metricsHandler != nil {
		opts = append(opts, api.WithMetricsHandler(a.metricsHandler))
	}
	srv, err := api.New(a.engine, a.contacts, opts...)
	if err != nil {
		return err
	}
	a.server = srv
	return nil
}

// initMQTT connects the event bridge when a broker is configured or injected.
func (a *App) initMQTT() error {
	mc := a.cfg.MQTT
	if a.mqttPub == nil {
		if mc.Broker == "" {
			return nil
		}
		client, err := mqttbridge.Dial(mqttbridge.Config{
			Broker:      mc.Broker,
			ClientID:    mc.ClientID,
			Username:    mc.Username,
			Password:    mc.Password,
			TopicPrefix: mc.TopicPrefix,
			QoS:         mc.QoS,
		})
		if err != nil {
			return err
		}
		a.mqttPub, a.mqttSub = client, client
		a.closers = append(a.closers, client.Close)
	}
	b, err := mqttbridge.NewBridge(a.mqttPub, a.engine, mc.TopicPrefix, mc.QoS)
	if err != nil {
		return err
	}
	a.bridge = b
	return nil
}

// providerError returns an OnError hook that counts failures per provider.
func (a *App) providerError(kind string) func(name string, err error) {
	return func(name string, err error) {
		slog.Debug("provider error", "kind", kind, "provider", name, "err", err)
		a.metrics.RecordProviderError(context.Background(), name, kind)
	}
}

// openCircuits reports an error naming every provider whose breaker is open.
func openCircuits(states map[string]resilience.State) error {
	var errs []error
	for name, st := range states {
		if st == resilience.StateOpen {
			errs = append(errs, fmt.Errorf("%s: circuit open", name))
		}
	}
	return errors.Join(errs...)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Engine returns the SOS engine.
func (a *App) Engine() *sos.Engine { return a.engine }

// Listener returns the voice trigger, or nil when no STT is configured.
func (a *App) Listener() *trigger.Listener { return a.listener }

// Handler returns the control API handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the control API and runs the trigger listener, the location
// tracker and the MQTT bridge until ctx is cancelled. It returns ctx.Err()
// after a clean stop, or the first fatal error.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is [App.Run] on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	httpSrv := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	tlsCfg := a.cfg.Server.TLS
	g.Go(func() error {
		slog.Info("control api listening", "addr", ln.Addr().String(), "tls", tlsCfg != nil)
		var err error
		if tlsCfg != nil {
			httpSrv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			err = httpSrv.ServeTLS(ln, tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			err = httpSrv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if a.listener != nil {
		g.Go(func() error {
			if err := a.listener.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("trigger listener stopped", "err", err)
			}
			return nil
		})
	}

	if a.tracker != nil {
		interval := a.cfg.Location.TrackInterval
		g.Go(func() error {
			a.locator.Track(gctx, a.tracker, interval)
			return nil
		})
	}

	if a.bridge != nil {
		events, unsubscribe := a.engine.Subscribe(64)
		g.Go(func() error {
			defer unsubscribe()
			return a.bridge.Run(gctx, events)
		})
		if a.mqttSub != nil {
			if err := a.bridge.ListenCommands(gctx, a.mqttSub); err != nil {
				slog.Warn("mqtt commands unavailable", "err", err)
			}
		}
	}

	slog.Info("lifeline running",
		"voice", a.listener != nil,
		"mqtt", a.bridge != nil,
		"tracking", a.tracker != nil,
	)

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new:
// alert settings, voice activation and log level. Other changes are logged
// as requiring a restart. The App keeps the config it was built from.
func (a *App) ApplyConfig(old, new *config.Config) config.ConfigDiff {
	d := config.Diff(old, new)

	if d.AlertChanged {
		a.engine.SetSettings(d.NewAlert.Settings())
		slog.Info("config reload: alert settings applied",
			"emergency_number", d.NewAlert.EmergencyNumber,
			"countdown_seconds", d.NewAlert.CountdownSeconds,
		)
	}
	if d.VoiceActivationChanged {
		if a.listener != nil {
			a.listener.SetEnabled(d.VoiceActivationEnabled)
			slog.Info("config reload: voice activation toggled", "enabled", d.VoiceActivationEnabled)
		} else {
			slog.Warn("config reload: voice activation changed but no stt provider is configured")
		}
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Level())
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: changes take effect after restart", "sections", d.RestartRequired)
	}
	return d
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases what a failed New already opened.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}
