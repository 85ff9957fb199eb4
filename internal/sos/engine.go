// Package sos implements the alert state machine.
//
// An [Engine] owns at most one alert at a time. Activation announces the
// alert, snapshots the contact list, resolves the device location, texts
// every contact a map link and then counts down to an emergency call. The
// countdown can be cancelled until the call is committed.
//
// Transitions happen under a single mutex. A goroutine per alert drives the
// phases and makes all collaborator calls outside the lock, on the engine's
// base context, so cancelling an alert never aborts a text or location query
// that is already in flight; its result is discarded instead.
package sos

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lifeline/internal/contact"
	"github.com/MrWong99/lifeline/internal/observe"
	"github.com/MrWong99/lifeline/pkg/channel"
	"github.com/MrWong99/lifeline/pkg/location"
	"github.com/MrWong99/lifeline/pkg/voice"
)

// ContactLister returns the contacts an alert fans out to, in order.
type ContactLister interface {
	List(ctx context.Context) ([]contact.Contact, error)
}

const (
	tickInterval     = time.Second
	defaultEventsBuf = 32
)

// Engine is the alert state machine. All methods are safe for concurrent use.
type Engine struct {
	contacts  ContactLister
	locator   location.Provider
	channel   channel.Channel
	announcer voice.Announcer
	notifiers []channel.Notifier
	clock     Clock
	metrics   *observe.Metrics

	base     context.Context
	stopBase context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.Mutex
	settings Settings
	current  *session
	last     *Outcome
	closed   bool

	subMu sync.Mutex
	subs  map[chan Event]struct{}
}

// session is the engine-private state of one alert. Fields other than id,
// source, startedAt, settings and cancel are guarded by Engine.mu.
type session struct {
	id        string
	source    Source
	startedAt time.Time
	settings  Settings
	cancel    chan struct{}

	status    Status
	remaining int
}

func (s *session) view() Session {
	return Session{
		ID:        s.id,
		Status:    s.status,
		Remaining: s.remaining,
		StartedAt: s.startedAt,
		Source:    s.source,
	}
}

func (s *session) cancelled() bool {
	select {
	case <-s.cancel:
		return true
	default:
		return false
	}
}

// Option configures an [Engine].
type Option func(*Engine)

// WithClock replaces the wall clock used for timestamps and the countdown.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithNotifiers adds broadcast mirrors that receive every alert text and the
// call notice alongside the contacts.
func WithNotifiers(n ...channel.Notifier) Option {
	return func(e *Engine) { e.notifiers = append(e.notifiers, n...) }
}

// WithSettings sets the initial settings.
func WithSettings(s Settings) Option {
	return func(e *Engine) { e.settings = s }
}

// New creates an Engine. A nil announcer is replaced by [voice.LogAnnouncer].
func New(contacts ContactLister, locator location.Provider, ch channel.Channel, announcer voice.Announcer, opts ...Option) (*Engine, error) {
	if contacts == nil || locator == nil || ch == nil {
		return nil, fmt.Errorf("sos: contacts, location provider and channel are required")
	}
	if announcer == nil {
		announcer = voice.LogAnnouncer{}
	}
	e := &Engine{
		contacts:  contacts,
		locator:   locator,
		channel:   ch,
		announcer: announcer,
		clock:     realClock{},
		subs:      make(map[chan Event]struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	e.settings = e.settings.WithDefaults()
	e.base, e.stopBase = context.WithCancel(context.Background())
	return e, nil
}

// ── Settings ─────────────────────────────────────────────────────────────────

// SetSettings replaces the settings used by the next activation. A live
// alert keeps the settings it started with.
func (e *Engine) SetSettings(s Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = s.WithDefaults()
}

// Settings returns the effective settings.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// ── Reads ────────────────────────────────────────────────────────────────────

// IsActive reports whether an alert is in flight.
func (e *Engine) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// Remaining returns the countdown seconds left, or 0 outside CountingDown.
func (e *Engine) Remaining() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return 0
	}
	return e.current.remaining
}

// Snapshot returns the live session, or an idle Session when none is live.
func (e *Engine) Snapshot() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return Session{Status: StatusIdle}
	}
	return e.current.view()
}

// LastOutcome returns the summary of the most recently finished alert.
func (e *Engine) LastOutcome() (Outcome, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return Outcome{}, false
	}
	return *e.last, true
}

// ── Events ───────────────────────────────────────────────────────────────────

// Subscribe returns a channel receiving every engine event and a function
// that unsubscribes and closes it. Events are dropped for a subscriber whose
// buffer is full. buf <= 0 selects a default size.
func (e *Engine) Subscribe(buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = defaultEventsBuf
	}
	ch := make(chan Event, buf)

	e.subMu.Lock()
	if e.subs == nil {
		close(ch)
		e.subMu.Unlock()
		return ch, func() {}
	}
	e.subs[ch] = struct{}{}
	e.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subMu.Lock()
			defer e.subMu.Unlock()
			if _, ok := e.subs[ch]; ok {
				delete(e.subs, ch)
				close(ch)
			}
		})
	}
}

func (e *Engine) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = e.clock.Now()
	}
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for ch := range e.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("sos: subscriber full, event dropped", "type", ev.Type)
		}
	}
}

// setStatus transitions s and publishes the change. Caller holds e.mu.
func (e *Engine) setStatus(s *session, st Status) {
	s.status = st
	e.publish(Event{Type: EventStatus, SessionID: s.id, Status: st, Remaining: s.remaining})
}

// ── Activation ───────────────────────────────────────────────────────────────

// Activate starts an alert. It returns false without side effects when an
// alert is already in flight or the engine is closed. ctx scopes tracing
// only; the alert outlives it.
func (e *Engine) Activate(ctx context.Context, source Source) bool {
	e.mu.Lock()
	if e.current != nil || e.closed {
		e.mu.Unlock()
		slog.Debug("sos: activation ignored, alert in flight", "source", source)
		return false
	}
	s := &session{
		id:        uuid.NewString(),
		source:    source,
		startedAt: e.clock.Now(),
		settings:  e.settings,
		cancel:    make(chan struct{}),
	}
	e.current = s
	e.publish(Event{Type: EventActivated, SessionID: s.id, Status: StatusAnnouncing})
	e.setStatus(s, StatusAnnouncing)
	e.announce(s.settings.ActivatedMessage)
	e.setStatus(s, StatusDispatching)
	e.wg.Add(1)
	e.mu.Unlock()

	e.metrics.RecordActivation(ctx, string(source))
	slog.Info("sos: alert activated", "session_id", s.id, "source", source)

	// Link the alert span to the caller's trace without inheriting its
	// cancellation.
	sctx := trace.ContextWithSpanContext(e.base, trace.SpanContextFromContext(ctx))
	go e.run(sctx, s)
	return true
}

// announce speaks message without blocking the caller.
func (e *Engine) announce(message string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.announcer.Announce(e.base, message); err != nil {
			slog.Warn("sos: announcement failed", "message", message, "err", err)
		}
	}()
}

// live reports whether s is still the engine's current alert. Caller holds
// e.mu.
func (e *Engine) live(s *session) bool {
	return e.current == s
}

func (e *Engine) run(ctx context.Context, s *session) {
	defer e.wg.Done()

	ctx, span := observe.StartSpan(ctx, "sos.session",
		trace.WithAttributes(
			attribute.String("sos.session_id", s.id),
			attribute.String("sos.source", string(s.source)),
		),
	)
	defer span.End()

	out := Outcome{SessionID: s.id, Source: s.source, StartedAt: s.startedAt}

	contacts, err := e.contacts.List(ctx)
	if err != nil {
		slog.Error("sos: list contacts failed, alerting without texts", "session_id", s.id, "err", err)
	}

	fix := e.locate(ctx, s)
	out.LocationAvailable = fix != nil
	if s.cancelled() {
		return
	}

	message := Render(s.settings.MessageTemplate, locationText(s.settings, fix))
	out.TextsSent, out.TextsFailed = e.dispatch(ctx, s, contacts, message)

	e.mu.Lock()
	if !e.live(s) {
		e.mu.Unlock()
		return
	}
	s.remaining = s.settings.CountdownSeconds
	e.setStatus(s, StatusCountingDown)
	e.mu.Unlock()

	if !e.countdown(s) {
		return
	}

	callErr := e.placeCall(ctx, s)
	out.CallPlaced = callErr == nil
	if callErr != nil {
		out.CallError = callErr.Error()
		span.SetStatus(codes.Error, callErr.Error())
	}

	e.mu.Lock()
	out.EndedAt = e.clock.Now()
	e.last = &out
	e.publish(Event{Type: EventCallPlaced, SessionID: s.id, Status: StatusPlacingCall, Err: callErr})
	e.current = nil
	e.publish(Event{Type: EventStatus, SessionID: s.id, Status: StatusIdle})
	e.mu.Unlock()

	e.metrics.RecordSessionEnd(ctx, false)
	slog.Info("sos: alert finished", "session_id", s.id, "texts_sent", out.TextsSent,
		"texts_failed", out.TextsFailed, "call_placed", out.CallPlaced)
}

// locate queries the device position. Any failure yields nil.
func (e *Engine) locate(ctx context.Context, s *session) *location.Coordinates {
	ctx, span := observe.StartSpan(ctx, "sos.locate")
	defer span.End()

	start := time.Now()
	fix, err := e.locator.CurrentLocation(ctx)
	if err != nil {
		fix = nil
		span.RecordError(err)
		slog.Warn("sos: location unavailable", "session_id", s.id, "err", err)
	}
	e.metrics.RecordLocation(ctx, time.Since(start), fix != nil)

	e.mu.Lock()
	if e.live(s) {
		e.publish(Event{Type: EventLocation, SessionID: s.id, Status: s.status, Location: fix})
	}
	e.mu.Unlock()
	return fix
}

// dispatch texts every dispatchable contact and mirrors the message to the
// notifiers. It waits for all sends. Per-recipient failures are logged and
// never stop the fan-out.
func (e *Engine) dispatch(ctx context.Context, s *session, contacts []contact.Contact, message string) (sent, failed int) {
	ctx, span := observe.StartSpan(ctx, "sos.dispatch",
		trace.WithAttributes(attribute.Int("sos.contacts", len(contacts))),
	)
	defer span.End()

	var (
		g     errgroup.Group
		resMu sync.Mutex
	)
	if n := s.settings.MaxParallelDispatch; n > 0 {
		g.SetLimit(n)
	}

	for _, c := range contacts {
		if !c.Dispatchable() {
			slog.Debug("sos: skipping contact without phone", "session_id", s.id, "contact_id", c.ID)
			continue
		}
		g.Go(func() error {
			if s.cancelled() {
				return nil
			}
			err := e.channel.SendText(ctx, c.Phone, message)
			e.metrics.RecordDispatch(ctx, err)
			if err != nil {
				slog.Warn("sos: dispatch failed", "session_id", s.id, "contact_id", c.ID, "err", err)
			}

			resMu.Lock()
			if err != nil {
				failed++
			} else {
				sent++
			}
			resMu.Unlock()

			e.mu.Lock()
			if e.live(s) {
				e.publish(Event{Type: EventTextSent, SessionID: s.id, Status: s.status, ContactID: c.ID, Err: err})
			}
			e.mu.Unlock()
			return nil
		})
	}
	for _, n := range e.notifiers {
		g.Go(func() error {
			if err := n.Notify(ctx, message); err != nil {
				slog.Warn("sos: mirror notify failed", "session_id", s.id, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(attribute.Int("sos.texts_sent", sent), attribute.Int("sos.texts_failed", failed))
	return sent, failed
}

// countdown ticks Remaining down to zero. It returns true once PlacingCall
// has been entered and false if the alert was cancelled or the engine
// closed.
func (e *Engine) countdown(s *session) bool {
	e.mu.Lock()
	if !e.live(s) {
		e.mu.Unlock()
		return false
	}
	if s.remaining <= 0 {
		e.setStatus(s, StatusPlacingCall)
		e.mu.Unlock()
		return true
	}
	e.mu.Unlock()

	tk := e.clock.NewTicker(tickInterval)
	defer tk.Stop()

	for {
		select {
		case <-tk.C():
		case <-s.cancel:
			return false
		case <-e.base.Done():
			return false
		}

		e.mu.Lock()
		if !e.live(s) {
			e.mu.Unlock()
			return false
		}
		s.remaining--
		e.publish(Event{Type: EventTick, SessionID: s.id, Status: s.status, Remaining: s.remaining})
		// Reaching zero commits the call in the same critical section so a
		// concurrent Cancel sees either CountingDown with time left or
		// PlacingCall.
		done := s.remaining <= 0
		if done {
			e.setStatus(s, StatusPlacingCall)
		}
		e.mu.Unlock()
		e.metrics.CountdownTicks.Add(e.base, 1)
		if done {
			return true
		}
	}
}

func (e *Engine) placeCall(ctx context.Context, s *session) error {
	number := s.settings.EmergencyNumber
	ctx, span := observe.StartSpan(ctx, "sos.call")
	defer span.End()

	slog.Info("sos: placing emergency call", "session_id", s.id, "number", number)
	err := e.channel.PlaceCall(ctx, number)
	e.metrics.RecordCall(ctx, err)
	if err != nil {
		span.RecordError(err)
		slog.Error("sos: emergency call failed", "session_id", s.id, "number", number, "err", err)
	}

	notice := fmt.Sprintf("Calling emergency number %s.", number)
	if err != nil {
		notice = fmt.Sprintf("Emergency call to %s failed: %v", number, err)
	}
	for _, n := range e.notifiers {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if nerr := n.Notify(e.base, notice); nerr != nil {
				slog.Warn("sos: mirror notify failed", "session_id", s.id, "err", nerr)
			}
		}()
	}
	if err != nil {
		return fmt.Errorf("sos: place call: %w", err)
	}
	return nil
}

// ── Cancellation ─────────────────────────────────────────────────────────────

// Cancel stops the live alert before its call and reports whether an alert
// was withdrawn. It returns (false, nil) when idle and [ErrCallCommitted]
// once the call has been started.
func (e *Engine) Cancel() (bool, error) {
	e.mu.Lock()
	s := e.current
	if s == nil {
		e.mu.Unlock()
		return false, nil
	}
	if s.status == StatusPlacingCall {
		e.mu.Unlock()
		return false, ErrCallCommitted
	}
	close(s.cancel)
	e.current = nil
	e.last = &Outcome{
		SessionID: s.id,
		Source:    s.source,
		StartedAt: s.startedAt,
		EndedAt:   e.clock.Now(),
		Cancelled: true,
	}
	e.publish(Event{Type: EventCancelled, SessionID: s.id, Status: s.status, Remaining: s.remaining})
	e.publish(Event{Type: EventStatus, SessionID: s.id, Status: StatusIdle})
	if !e.closed {
		e.announce(s.settings.CancelledMessage)
	}
	e.mu.Unlock()

	e.metrics.RecordSessionEnd(e.base, true)
	slog.Info("sos: alert cancelled", "session_id", s.id)
	return true, nil
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

// Close aborts any live alert, waits for background work to finish and
// closes every subscription. A live alert is abandoned without its call.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.stopBase()
	e.wg.Wait()

	e.mu.Lock()
	abandoned := e.current != nil
	e.current = nil
	e.mu.Unlock()
	if abandoned {
		e.metrics.RecordSessionEnd(context.Background(), false)
	}

	e.subMu.Lock()
	for ch := range e.subs {
		close(ch)
	}
	e.subs = nil
	e.subMu.Unlock()
	return nil
}
