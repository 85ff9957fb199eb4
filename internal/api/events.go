package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/lifeline/internal/observe"
	"github.com/MrWong99/lifeline/internal/sos"
)

// handleEvents upgrades to a websocket and streams engine events as JSON
// text frames. The first frame is a status event describing the current
// session. The stream ends when the client goes away or the engine closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept has already written the error response.
		observe.Logger(r.Context()).Debug("api: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer closes.
	ctx := conn.CloseRead(r.Context())

	events, unsubscribe := s.engine.Subscribe(s.eventBuffer)
	defer unsubscribe()

	snap := s.engine.Snapshot()
	first := sos.Event{
		Type:      sos.EventStatus,
		SessionID: snap.ID,
		Status:    snap.Status,
		Remaining: snap.Remaining,
		Time:      time.Now(),
	}
	if err := s.write(ctx, conn, first); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "engine closed")
				return
			}
			if err := s.write(ctx, conn, ev); err != nil {
				observe.Logger(ctx).Debug("api: event stream write failed", "err", err)
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, ev sos.Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
