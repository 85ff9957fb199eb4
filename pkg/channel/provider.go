// Package channel defines the interfaces used to hand alerts to the outside
// world: text messages and phone calls to emergency contacts, plus
// broadcast notifiers that mirror an alert somewhere the user's circle is
// watching.
//
// Every operation is fire-and-forget. A nil error means the intent was
// issued (the SMS request accepted, the dialer launched); it never means the
// message was delivered or the call answered.
//
// Implementations must be safe for concurrent use.
package channel

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// ErrNoPhone is returned when a dispatch is attempted with an empty phone
// number.
var ErrNoPhone = errors.New("channel: empty phone number")

// Channel sends texts and places calls.
type Channel interface {
	// SendText issues an SMS (or equivalent) to phone. The message body is
	// passed through verbatim.
	SendText(ctx context.Context, phone, message string) error

	// PlaceCall starts a voice call to phone. The number is passed through
	// opaquely; it may be a short code such as "112".
	PlaceCall(ctx context.Context, phone string) error
}

// Notifier broadcasts a message to a fixed audience, such as a group chat.
// Notifiers do not receive phone numbers.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// NormalizePhone strips the visual separators people type into phone
// numbers (spaces, dashes, dots, parentheses). A leading '+' is kept.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case r >= '0' && r <= '9', r == '*', r == '#':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// LogChannel writes texts and calls to the log instead of dispatching them.
// It is used when no channel is configured.
type LogChannel struct{}

var _ Channel = LogChannel{}

// SendText implements [Channel].
func (LogChannel) SendText(_ context.Context, phone, message string) error {
	if phone == "" {
		return ErrNoPhone
	}
	slog.Warn("channel: no channel configured, text not sent", "phone", phone, "message", message)
	return nil
}

// PlaceCall implements [Channel].
func (LogChannel) PlaceCall(_ context.Context, phone string) error {
	if phone == "" {
		return ErrNoPhone
	}
	slog.Warn("channel: no channel configured, call not placed", "phone", phone)
	return nil
}
