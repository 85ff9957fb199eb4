package resilience

import (
	"context"
	"strings"

	"github.com/MrWong99/lifeline/pkg/channel"
)

// ChannelFallback implements [channel.Channel] with failover across several
// gateways, e.g. a Twilio account backed by the local dialer. Each gateway
// has its own circuit breaker.
type ChannelFallback struct {
	group *FallbackGroup[channel.Channel]
}

var _ channel.Channel = (*ChannelFallback)(nil)

// NewChannelFallback creates a [ChannelFallback] with primary as the
// preferred gateway.
func NewChannelFallback(primary channel.Channel, primaryName string, cfg FallbackConfig) *ChannelFallback {
	return &ChannelFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional gateway.
func (f *ChannelFallback) AddFallback(name string, ch channel.Channel) {
	f.group.AddFallback(name, ch)
}

// States returns the breaker state of every gateway.
func (f *ChannelFallback) States() map[string]State { return f.group.States() }

// SendText issues the text through the first gateway that accepts it. An
// empty phone is rejected without touching any gateway.
func (f *ChannelFallback) SendText(ctx context.Context, phone, message string) error {
	if strings.TrimSpace(phone) == "" {
		return channel.ErrNoPhone
	}
	return f.group.Execute(ctx, func(ch channel.Channel) error {
		return ch.SendText(ctx, phone, message)
	})
}

// PlaceCall starts the call through the first gateway that accepts it.
func (f *ChannelFallback) PlaceCall(ctx context.Context, phone string) error {
	if strings.TrimSpace(phone) == "" {
		return channel.ErrNoPhone
	}
	return f.group.Execute(ctx, func(ch channel.Channel) error {
		return ch.PlaceCall(ctx, phone)
	})
}
