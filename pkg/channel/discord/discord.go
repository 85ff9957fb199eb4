// Package discord provides a channel.Notifier that mirrors alerts into a
// Discord text channel, so a family or care-team server sees the alert the
// moment the texts go out.
//
// Only the REST API is used; no gateway connection is opened.
package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/lifeline/pkg/channel"
)

// embedColorRed is the embed sidebar color for alert posts.
const embedColorRed = 0xE74C3C

// maxDescription is Discord's limit for an embed description.
const maxDescription = 4096

// Sender is the subset of *discordgo.Session the notifier needs.
type Sender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier posts alert messages to a single Discord channel.
type Notifier struct {
	sender    Sender
	channelID string
	title     string
}

var _ channel.Notifier = (*Notifier)(nil)

// Option is a functional option for the Notifier.
type Option func(*Notifier)

// WithTitle sets the embed title. Default: "SOS alert".
func WithTitle(title string) Option {
	return func(n *Notifier) {
		n.title = title
	}
}

// New creates a Notifier authenticated with a bot token.
func New(token, channelID string, opts ...Option) (*Notifier, error) {
	if token == "" {
		return nil, errors.New("discord: token must not be empty")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return NewWithSender(session, channelID, opts...)
}

// NewWithSender creates a Notifier around an existing sender.
func NewWithSender(sender Sender, channelID string, opts ...Option) (*Notifier, error) {
	if channelID == "" {
		return nil, errors.New("discord: channel ID must not be empty")
	}
	n := &Notifier{sender: sender, channelID: channelID, title: "SOS alert"}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Notify implements [channel.Notifier].
func (n *Notifier) Notify(ctx context.Context, message string) error {
	if len(message) > maxDescription {
		message = message[:maxDescription]
	}
	embed := &discordgo.MessageEmbed{
		Title:       n.title,
		Description: message,
		Color:       embedColorRed,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := n.sender.ChannelMessageSendEmbed(n.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: post to %s: %w", n.channelID, err)
	}
	return nil
}
