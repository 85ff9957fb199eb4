package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/MrWong99/lifeline/internal/sos"
)

// Engine is the part of [sos.Engine] the bridge uses.
type Engine interface {
	Activate(ctx context.Context, source sos.Source) bool
	Cancel() (bool, error)
	ShareLocation(ctx context.Context) (sos.ShareResult, error)
	CallNow(ctx context.Context) (string, error)
	Snapshot() sos.Session
}

var _ Engine = (*sos.Engine)(nil)

// Bridge publishes engine events and executes broker commands.
type Bridge struct {
	pub    Publisher
	engine Engine
	prefix string
	qos    byte
}

// NewBridge creates a Bridge publishing through pub.
func NewBridge(pub Publisher, engine Engine, prefix string, qos byte) (*Bridge, error) {
	if pub == nil || engine == nil {
		return nil, errors.New("mqttbridge: publisher and engine are required")
	}
	return &Bridge{pub: pub, engine: engine, prefix: prefix, qos: qos}, nil
}

// Run publishes every event from events until ctx is done or events is
// closed. Publish failures are logged and never block the engine.
func (b *Bridge) Run(ctx context.Context, events <-chan sos.Event) error {
	b.publishStatus()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.publishEvent(ev)
			if ev.Type == sos.EventStatus || ev.Type == sos.EventTick || ev.Type == sos.EventCancelled {
				b.publishStatus()
			}
		}
	}
}

func (b *Bridge) publishEvent(ev sos.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("mqttbridge: encode event", "type", ev.Type, "err", err)
		return
	}
	if err := b.pub.Publish(Topic(b.prefix, "events"), b.qos, false, payload); err != nil {
		slog.Warn("mqttbridge: publish event failed", "type", ev.Type, "err", err)
	}
}

func (b *Bridge) publishStatus() {
	payload, err := json.Marshal(b.engine.Snapshot())
	if err != nil {
		slog.Warn("mqttbridge: encode status", "err", err)
		return
	}
	if err := b.pub.Publish(Topic(b.prefix, "status"), 1, true, payload); err != nil {
		slog.Warn("mqttbridge: publish status failed", "err", err)
	}
}

// ListenCommands subscribes to "<prefix>/command". "activate" raises a
// manual alert and "cancel" cancels the live one. "share_location" and
// "call" run the quick actions. Other payloads are ignored.
func (b *Bridge) ListenCommands(ctx context.Context, sub Subscriber) error {
	return sub.Subscribe(Topic(b.prefix, "command"), b.qos, func(_ string, payload []byte) {
		b.handleCommand(ctx, string(payload))
	})
}

func (b *Bridge) handleCommand(ctx context.Context, cmd string) {
	switch strings.ToLower(strings.TrimSpace(cmd)) {
	case "activate":
		started := b.engine.Activate(ctx, sos.SourceManual)
		slog.Info("mqttbridge: activate command", "started", started)
	case "cancel":
		cancelled, err := b.engine.Cancel()
		if err != nil {
			slog.Warn("mqttbridge: cancel command rejected", "err", err)
			return
		}
		slog.Info("mqttbridge: cancel command", "cancelled", cancelled)
	case "share_location":
		res, err := b.engine.ShareLocation(ctx)
		if err != nil {
			slog.Warn("mqttbridge: share location failed", "err", err)
			return
		}
		slog.Info("mqttbridge: location shared", "texts_sent", res.TextsSent, "texts_failed", res.TextsFailed)
	case "call":
		number, err := b.engine.CallNow(ctx)
		if err != nil {
			slog.Warn("mqttbridge: call command failed", "number", number, "err", err)
			return
		}
		slog.Info("mqttbridge: call command", "number", number)
	default:
		slog.Debug("mqttbridge: ignoring unknown command", "command", cmd)
	}
}
