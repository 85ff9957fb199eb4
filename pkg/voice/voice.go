// Package voice provides the spoken side of an alert: announcements played
// to the user and the continuous recognition that feeds the trigger
// listener.
//
// Both interfaces are deliberately small. Announcer is best-effort; callers
// must not depend on it succeeding. Recognizer runs one recognition session
// per Listen call and is restarted by its caller.
package voice

import (
	"context"
	"log/slog"
)

// Announcer speaks a short message to the user.
type Announcer interface {
	// Announce speaks message and returns when playback has finished.
	Announce(ctx context.Context, message string) error
}

// Recognizer runs continuous speech recognition.
type Recognizer interface {
	// Listen runs one recognition session, calling onResult for every
	// recognised phrase. It returns nil when the session ends on its own
	// and an error when it fails. Cancel ctx to stop it; Listen then returns
	// nil or ctx.Err().
	Listen(ctx context.Context, onResult func(text string)) error
}

// LogAnnouncer writes announcements to the log instead of speaking them.
// It is used when no speech synthesis is configured.
type LogAnnouncer struct{}

var _ Announcer = LogAnnouncer{}

// Announce implements [Announcer].
func (LogAnnouncer) Announce(_ context.Context, message string) error {
	slog.Info("voice: announcement", "message", message)
	return nil
}
