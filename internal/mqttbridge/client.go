// Package mqttbridge mirrors SOS engine events onto an MQTT broker so home
// automation and companion devices can react to an alert, and accepts
// commands from the same broker.
//
// Topics, relative to the configured prefix:
//
//	<prefix>/events   every engine event as JSON (QoS from config)
//	<prefix>/status   retained JSON snapshot of the current session
//	<prefix>/online   retained "online"/"offline" (last will)
//	<prefix>/command  "activate", "cancel", "share_location" or "call"
package mqttbridge

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Default timeouts for broker operations.
const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Config configures the broker connection.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// TopicPrefix is prepended to every topic.
	TopicPrefix string

	// QoS is used for events and commands.
	QoS byte
}

// Publisher publishes one message. *Client satisfies it.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Subscriber delivers messages on one topic to handler. *Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
}

// Client wraps a paho client with timeouts and error wrapping.
type Client struct {
	client mqtt.Client
}

var (
	_ Publisher  = (*Client)(nil)
	_ Subscriber = (*Client)(nil)
)

// Dial connects to the broker. The client reconnects automatically and
// publishes a retained "online" marker on every connect; the broker
// publishes "offline" when the connection is lost.
func Dial(cfg Config) (*Client, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqttbridge: broker is required")
	}
	onlineTopic := Topic(cfg.TopicPrefix, "online")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetWill(onlineTopic, "offline", 1, true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		slog.Info("mqttbridge: connected", "broker", cfg.Broker)
		c.Publish(onlineTopic, 1, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("mqttbridge: connection lost", "broker", cfg.Broker, "err", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqttbridge: connect to %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqttbridge: connect to %s: %w", cfg.Broker, err)
	}
	return &Client{client: client}, nil
}

// Publish implements [Publisher].
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqttbridge: publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqttbridge: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe implements [Subscriber].
func (c *Client) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqttbridge: subscribe %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqttbridge: subscribe %s: %w", topic, err)
	}
	return nil
}

// Close disconnects, waiting briefly for in-flight work.
func (c *Client) Close() error {
	c.client.Disconnect(250)
	return nil
}

// Topic joins prefix and name with a slash. An empty prefix yields name.
func Topic(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
