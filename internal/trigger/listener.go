package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/lifeline/internal/observe"
	"github.com/MrWong99/lifeline/internal/sos"
	"github.com/MrWong99/lifeline/pkg/voice"
)

// ErrRecognizerExhausted is reported through OnError when recognition failed
// more than MaxRetries times in a row. The listener stays parked until the
// next foreground or enable transition.
var ErrRecognizerExhausted = errors.New("trigger: recognizer retries exhausted")

// Default supervision parameters.
const (
	defaultMinRestartInterval = 500 * time.Millisecond
	defaultBackoff            = 1 * time.Second
	defaultMaxBackoff         = 30 * time.Second
	defaultMaxRetries         = 5
)

// Activator raises an alert. *sos.Engine satisfies it.
type Activator interface {
	Activate(ctx context.Context, source sos.Source) bool
}

// Config configures a [Listener].
type Config struct {
	// Recognizer provides recognition runs. Required.
	Recognizer voice.Recognizer

	// Activator is called on every matched phrase. Required.
	Activator Activator

	// Matcher decides which transcripts are triggers. Defaults to
	// NewMatcher().
	Matcher *Matcher

	// Enabled is the initial voice-activation setting.
	Enabled bool

	// Foreground is the initial app state.
	Foreground bool

	// MinRestartInterval is the minimum time between two recognition starts.
	// Defaults to 500ms.
	MinRestartInterval time.Duration

	// Backoff is the delay after the first failure. Doubles per consecutive
	// failure up to MaxBackoff. Defaults to 1s and 30s.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// MaxRetries is the number of retries after a failure before the
	// listener parks. Defaults to 5.
	MaxRetries int

	// OnError receives every recognizer error and [ErrRecognizerExhausted].
	// May be nil. Called from the supervisor goroutine.
	OnError func(error)

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// State is a point-in-time view of a [Listener].
type State struct {
	Enabled    bool `json:"enabled"`
	Foreground bool `json:"foreground"`
	Listening  bool `json:"listening"`
	Parked     bool `json:"parked"`
	Failures   int  `json:"failures"`

	VocabularyVersion int `json:"vocabulary_version"`
}

// Listener supervises the recognition loop. Recognition runs while the
// listener is enabled and in the foreground. A run that ends on its own is
// restarted at most once per MinRestartInterval; a failed run is retried with
// exponential backoff. All methods are safe for concurrent use.
type Listener struct {
	rec        voice.Recognizer
	activator  Activator
	matcher    *Matcher
	minRestart time.Duration
	backoff    time.Duration
	maxBackoff time.Duration
	maxRetries int
	onError    func(error)
	metrics    *observe.Metrics

	changed chan struct{}

	mu         sync.Mutex
	enabled    bool
	foreground bool
	parked     bool
	failures   int
	stopRun    context.CancelFunc
}

// New creates a Listener. Call [Listener.Run] to start supervising.
func New(cfg Config) (*Listener, error) {
	if cfg.Recognizer == nil || cfg.Activator == nil {
		return nil, errors.New("trigger: recognizer and activator are required")
	}
	l := &Listener{
		rec:        cfg.Recognizer,
		activator:  cfg.Activator,
		matcher:    cfg.Matcher,
		minRestart: cfg.MinRestartInterval,
		backoff:    cfg.Backoff,
		maxBackoff: cfg.MaxBackoff,
		maxRetries: cfg.MaxRetries,
		onError:    cfg.OnError,
		metrics:    cfg.Metrics,
		enabled:    cfg.Enabled,
		foreground: cfg.Foreground,
		changed:    make(chan struct{}, 1),
	}
	if l.matcher == nil {
		l.matcher = NewMatcher()
	}
	if l.minRestart <= 0 {
		l.minRestart = defaultMinRestartInterval
	}
	if l.backoff <= 0 {
		l.backoff = defaultBackoff
	}
	if l.maxBackoff <= 0 {
		l.maxBackoff = defaultMaxBackoff
	}
	if l.maxRetries <= 0 {
		l.maxRetries = defaultMaxRetries
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	return l, nil
}

// ── Lifecycle inputs ─────────────────────────────────────────────────────────

// SetForeground records an app-state change. Going to the background stops
// recognition; returning to the foreground un-parks the listener.
func (l *Listener) SetForeground(fg bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fg == l.foreground {
		return
	}
	l.foreground = fg
	if fg {
		l.unparkLocked()
	}
	l.applyLocked()
}

// SetEnabled toggles voice activation.
func (l *Listener) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if on == l.enabled {
		return
	}
	l.enabled = on
	if on {
		l.unparkLocked()
	}
	l.applyLocked()
}

// State returns the current supervision state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State{
		Enabled:    l.enabled,
		Foreground: l.foreground,
		Listening:  l.stopRun != nil,
		Parked:     l.parked,
		Failures:   l.failures,

		VocabularyVersion: VocabularyVersion,
	}
}

func (l *Listener) unparkLocked() {
	l.parked = false
	l.failures = 0
}

func (l *Listener) armedLocked() bool {
	return l.enabled && l.foreground && !l.parked
}

// applyLocked stops a running recognition that should no longer run and
// wakes the supervisor.
func (l *Listener) applyLocked() {
	if !l.armedLocked() && l.stopRun != nil {
		l.stopRun()
	}
	select {
	case l.changed <- struct{}{}:
	default:
	}
}

func (l *Listener) armed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.armedLocked()
}

// ── Supervisor ───────────────────────────────────────────────────────────────

// Run supervises recognition until ctx is done. It returns nil.
func (l *Listener) Run(ctx context.Context) error {
	var lastStart time.Time
	backoff := l.backoff

	for {
		if !l.waitArmed(ctx) {
			return nil
		}
		if !lastStart.IsZero() {
			if wait := l.minRestart - time.Since(lastStart); wait > 0 {
				if !l.sleep(ctx, wait) {
					if ctx.Err() != nil {
						return nil
					}
					continue
				}
			}
		}

		runCtx, cancel := context.WithCancel(ctx)
		l.mu.Lock()
		if !l.armedLocked() {
			l.mu.Unlock()
			cancel()
			continue
		}
		l.stopRun = cancel
		l.mu.Unlock()

		lastStart = time.Now()
		slog.Debug("trigger: recognition started")
		err := l.rec.Listen(runCtx, func(text string) { l.handle(runCtx, text) })
		stopped := runCtx.Err() != nil
		cancel()

		l.mu.Lock()
		l.stopRun = nil
		l.mu.Unlock()

		if ctx.Err() != nil {
			return nil
		}
		if stopped {
			// Disarmed while listening.
			backoff = l.backoff
			continue
		}
		if err == nil {
			l.mu.Lock()
			l.failures = 0
			l.mu.Unlock()
			backoff = l.backoff
			l.metrics.RecordTriggerRestart(ctx, "natural")
			continue
		}

		failures, parked := l.recordFailure()
		slog.Warn("trigger: recognition failed", "attempt", failures, "max_retries", l.maxRetries, "err", err)
		l.metrics.RecordTriggerRestart(ctx, "error")
		l.report(err)
		if parked {
			slog.Error("trigger: recognition parked after repeated failures", "failures", failures)
			l.metrics.RecordTriggerRestart(ctx, "exhausted")
			l.report(fmt.Errorf("%w: %d consecutive failures: %w", ErrRecognizerExhausted, failures, err))
			backoff = l.backoff
			continue
		}

		if !l.sleep(ctx, backoff) && ctx.Err() != nil {
			return nil
		}
		backoff *= 2
		if backoff > l.maxBackoff {
			backoff = l.maxBackoff
		}
	}
}

// recordFailure counts a failed run and parks the listener once the retry
// budget is spent.
func (l *Listener) recordFailure() (failures int, parked bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures++
	if l.failures > l.maxRetries {
		l.parked = true
	}
	return l.failures, l.parked
}

func (l *Listener) report(err error) {
	if l.onError != nil {
		l.onError(err)
	}
}

// waitArmed blocks until recognition should run. It returns false when ctx
// is done.
func (l *Listener) waitArmed(ctx context.Context) bool {
	for !l.armed() {
		select {
		case <-ctx.Done():
			return false
		case <-l.changed:
		}
	}
	return ctx.Err() == nil
}

// sleep waits for d. It returns false early when ctx ends or the listener is
// disarmed.
func (l *Listener) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-l.changed:
			if !l.armed() {
				return false
			}
		case <-t.C:
			return true
		}
	}
}

// handle checks one committed transcript.
func (l *Listener) handle(ctx context.Context, text string) {
	phrase, ok := l.matcher.Match(text)
	if !ok {
		return
	}
	l.metrics.RecordTriggerMatch(ctx, phrase)
	started := l.activator.Activate(ctx, sos.SourceVoice)
	slog.Info("trigger: phrase detected", "phrase", phrase, "vocabulary_version", VocabularyVersion, "alert_started", started)
}
