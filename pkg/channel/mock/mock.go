// Package mock provides test doubles for the channel.Channel and
// channel.Notifier interfaces.
//
// Channel records every text and call. Per-phone failures are configured
// through TextErrs; Block holds SendText until closed so tests can cancel an
// alert while the fan-out is in flight.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lifeline/pkg/channel"
)

// TextCall records a single invocation of SendText.
type TextCall struct {
	Phone   string
	Message string
}

// Channel is a mock implementation of channel.Channel.
type Channel struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// TextErrs maps a phone number to the error SendText returns for it.
	TextErrs map[string]error

	// CallErr, if non-nil, is returned by PlaceCall.
	CallErr error

	// Block, if non-nil, makes SendText wait until it is closed.
	Block chan struct{}

	// --- Call records ---

	// Texts records every SendText call in completion order.
	Texts []TextCall

	// Calls records the phone number of every PlaceCall in order.
	Calls []string
}

var _ channel.Channel = (*Channel)(nil)

// SendText records the call and returns the configured error for phone.
func (c *Channel) SendText(_ context.Context, phone, message string) error {
	c.mu.Lock()
	block := c.Block
	c.mu.Unlock()
	if block != nil {
		<-block
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Texts = append(c.Texts, TextCall{Phone: phone, Message: message})
	return c.TextErrs[phone]
}

// PlaceCall records the call and returns CallErr.
func (c *Channel) PlaceCall(_ context.Context, phone string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, phone)
	return c.CallErr
}

// TextCalls returns a copy of the recorded texts. Thread-safe.
func (c *Channel) TextCalls() []TextCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TextCall(nil), c.Texts...)
}

// CallCalls returns a copy of the recorded calls. Thread-safe.
func (c *Channel) CallCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.Calls...)
}

// Reset clears all recorded calls. Thread-safe.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Texts = nil
	c.Calls = nil
}

// Notifier is a mock implementation of channel.Notifier.
type Notifier struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by Notify.
	Err error

	// Messages records every Notify call in order.
	Messages []string
}

var _ channel.Notifier = (*Notifier)(nil)

// Notify records the message and returns Err.
func (n *Notifier) Notify(_ context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, message)
	return n.Err
}

// Sent returns a copy of the recorded messages. Thread-safe.
func (n *Notifier) Sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.Messages...)
}
