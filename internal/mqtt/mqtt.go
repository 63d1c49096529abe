// Package mqtt publishes messages to an MQTT broker.
package mqtt

import (
	"context"
	"time"
)

// Client defines the MQTT operations the notifiers use.
type Client interface {
	// Connect resolves the broker host and connects. Paho keeps the
	// connection alive and reconnects on its own afterwards.
	Connect(ctx context.Context) error

	// Publish sends payload to topic. It fails when not connected.
	Publish(ctx context.Context, topic string, payload string) error

	IsConnected() bool

	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	ReconnectCooldown time.Duration // minimum gap between Connect calls
}

// DefaultConfig returns the timeouts used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		ClientID:          "leafscan",
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		ReconnectCooldown: 5 * time.Second,
	}
}
