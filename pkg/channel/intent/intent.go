// Package intent provides a channel.Channel that hands sms: and tel: URIs to
// the host's URI handler, the way a phone app opens the messaging and dialer
// apps. It is the fallback when no network gateway is reachable: the user
// still gets a pre-filled message and a dialer screen.
package intent

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"

	"github.com/MrWong99/lifeline/pkg/channel"
)

// Launcher opens a URI with whatever handler the platform has registered.
type Launcher interface {
	Open(ctx context.Context, uri string) error
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context, uri string) error

// Open implements [Launcher].
func (f LauncherFunc) Open(ctx context.Context, uri string) error { return f(ctx, uri) }

// CommandLauncher opens URIs by running an external command with the URI as
// its last argument, e.g. "xdg-open" or "termux-open-url".
type CommandLauncher struct {
	Command string
	Args    []string
}

// Open implements [Launcher]. It waits for the opener to exit, not for the
// opened application.
func (l CommandLauncher) Open(ctx context.Context, uri string) error {
	args := append(append([]string(nil), l.Args...), uri)
	out, err := exec.CommandContext(ctx, l.Command, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("intent: %s: %w: %s", l.Command, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Option is a functional option for the intent Channel.
type Option func(*Channel)

// WithBodySeparator sets the character between the number and the body
// parameter of sms: URIs. Most handlers expect "?"; some older iOS builds
// only accept "&".
func WithBodySeparator(sep string) Option {
	return func(c *Channel) {
		c.bodySep = sep
	}
}

// Channel implements channel.Channel by launching sms: and tel: URIs.
type Channel struct {
	launcher Launcher
	bodySep  string
}

var _ channel.Channel = (*Channel)(nil)

// New creates an intent Channel. A nil launcher uses xdg-open.
func New(launcher Launcher, opts ...Option) *Channel {
	if launcher == nil {
		launcher = CommandLauncher{Command: "xdg-open"}
	}
	c := &Channel{launcher: launcher, bodySep: "?"}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SendText implements [channel.Channel].
func (c *Channel) SendText(ctx context.Context, phone, message string) error {
	uri, err := SMSURI(phone, message, c.bodySep)
	if err != nil {
		return err
	}
	return c.launcher.Open(ctx, uri)
}

// PlaceCall implements [channel.Channel].
func (c *Channel) PlaceCall(ctx context.Context, phone string) error {
	uri, err := TelURI(phone)
	if err != nil {
		return err
	}
	return c.launcher.Open(ctx, uri)
}

// SMSURI builds sms:<phone><sep>body=<encoded message>.
func SMSURI(phone, message, sep string) (string, error) {
	p := channel.NormalizePhone(phone)
	if p == "" {
		return "", channel.ErrNoPhone
	}
	if sep == "" {
		sep = "?"
	}
	return "sms:" + p + sep + "body=" + encodeComponent(message), nil
}

// TelURI builds tel:<phone>.
func TelURI(phone string) (string, error) {
	p := channel.NormalizePhone(phone)
	if p == "" {
		return "", channel.ErrNoPhone
	}
	return "tel:" + p, nil
}

// encodeComponent percent-encodes s for use in a URI query value, with
// spaces as %20 rather than '+'.
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
