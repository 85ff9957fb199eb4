package sos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lifeline/internal/contact"
	"github.com/MrWong99/lifeline/internal/observe"
	"github.com/MrWong99/lifeline/pkg/location"
)

// Quick action texts.
const (
	ShareMessagePrefix           = "My current location: "
	SharedAnnouncement           = "Location sent to emergency contacts"
	ShareFailedAnnouncement      = "Could not get location"
	PermissionDeniedAnnouncement = "Location permission denied"
)

// ShareResult summarises one [Engine.ShareLocation].
type ShareResult struct {
	Location    location.Coordinates `json:"location"`
	Message     string               `json:"message"`
	TextsSent   int                  `json:"texts_sent"`
	TextsFailed int                  `json:"texts_failed"`
}

// ── Quick actions ────────────────────────────────────────────────────────────

// ShareLocation texts the current map link to every contact with a phone
// number and announces the result. It runs outside the alert state machine
// and works whether or not an alert is live.
//
// Without a fix nothing is sent: a permission denial is announced as such
// and the error wraps [location.ErrPermissionDenied]; any other failure
// announces [ShareFailedAnnouncement] and wraps [location.ErrUnavailable].
func (e *Engine) ShareLocation(ctx context.Context) (ShareResult, error) {
	if e.isClosed() {
		return ShareResult{}, ErrClosed
	}
	ctx, span := observe.StartSpan(ctx, "sos.share_location")
	defer span.End()

	st := e.Settings()

	start := time.Now()
	fix, err := e.locator.CurrentLocation(ctx)
	e.metrics.RecordLocation(ctx, time.Since(start), err == nil && fix != nil)
	if err != nil || fix == nil {
		if err == nil {
			err = location.ErrUnavailable
		}
		span.RecordError(err)
		if errors.Is(err, location.ErrPermissionDenied) {
			e.announceAction(PermissionDeniedAnnouncement)
			return ShareResult{}, fmt.Errorf("sos: share location: %w", err)
		}
		slog.Warn("sos: share location failed", "err", err)
		e.announceAction(ShareFailedAnnouncement)
		if !errors.Is(err, location.ErrUnavailable) {
			err = fmt.Errorf("%w: %w", location.ErrUnavailable, err)
		}
		return ShareResult{}, fmt.Errorf("sos: share location: %w", err)
	}

	contacts, err := e.contacts.List(ctx)
	if err != nil {
		return ShareResult{}, fmt.Errorf("sos: share location: list contacts: %w", err)
	}

	res := ShareResult{
		Location: *fix,
		Message:  ShareMessagePrefix + location.MapLink(st.MapBaseURL, *fix),
	}
	res.TextsSent, res.TextsFailed = e.sendAll(ctx, contacts, res.Message, st.MaxParallelDispatch)
	span.SetAttributes(attribute.Int("sos.texts_sent", res.TextsSent), attribute.Int("sos.texts_failed", res.TextsFailed))

	slog.Info("sos: location shared", "texts_sent", res.TextsSent, "texts_failed", res.TextsFailed)
	e.announceAction(SharedAnnouncement)
	return res, nil
}

// CallNow dials the configured emergency number immediately, without a
// countdown. It does not touch the alert state machine.
func (e *Engine) CallNow(ctx context.Context) (string, error) {
	if e.isClosed() {
		return "", ErrClosed
	}
	number := e.Settings().EmergencyNumber
	ctx, span := observe.StartSpan(ctx, "sos.call_now",
		trace.WithAttributes(attribute.String("sos.number", number)),
	)
	defer span.End()

	slog.Info("sos: direct emergency call", "number", number)
	err := e.channel.PlaceCall(ctx, number)
	e.metrics.RecordCall(ctx, err)
	if err != nil {
		span.RecordError(err)
		slog.Error("sos: direct emergency call failed", "number", number, "err", err)
		return number, fmt.Errorf("sos: call now: %w", err)
	}
	return number, nil
}

// sendAll texts message to every dispatchable contact and waits for all
// sends. Failures are logged and counted.
func (e *Engine) sendAll(ctx context.Context, contacts []contact.Contact, message string, limit int) (sent, failed int) {
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, c := range contacts {
		if !c.Dispatchable() {
			continue
		}
		g.Go(func() error {
			err := e.channel.SendText(ctx, c.Phone, message)
			e.metrics.RecordDispatch(ctx, err)
			if err != nil {
				slog.Warn("sos: share text failed", "contact_id", c.ID, "err", err)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
			} else {
				sent++
			}
			return nil
		})
	}
	_ = g.Wait()
	return sent, failed
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// announceAction speaks message unless the engine has been closed.
func (e *Engine) announceAction(message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.announce(message)
	}
}
