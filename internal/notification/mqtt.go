package notification

import (
	"context"
	"encoding/json"

	"github.com/leafscan/leafscan/internal/mqtt"
)

// MQTTProvider publishes notifications as JSON on one topic. It connects
// lazily on the first send.
type MQTTProvider struct {
	client mqtt.Client
	topic  string
}

func NewMQTTProvider(client mqtt.Client, topic string) *MQTTProvider {
	return &MQTTProvider{client: client, topic: topic}
}

func (p *MQTTProvider) Name() string { return "mqtt" }

func (p *MQTTProvider) Send(ctx context.Context, n *Notification) error {
	if !p.client.IsConnected() {
		if err := p.client.Connect(ctx); err != nil {
			return err
		}
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.topic, string(payload))
}

// Close disconnects from the broker.
func (p *MQTTProvider) Close() {
	p.client.Disconnect()
}
