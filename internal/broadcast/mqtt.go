package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// mqttQoS is "at least once" between us and the broker; end to end the
// broadcast is still at most once since a failed publish is never retried.
const mqttQoS byte = 1

// MQTTConfig configures an MQTTBroadcaster.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Timeout  time.Duration
}

// MQTTBroadcaster publishes broadcasts to an MQTT broker on "<topic>/<event>".
type MQTTBroadcaster struct {
	client  mqtt.Client
	timeout time.Duration
}

// NewMQTTBroadcaster connects to the configured broker.
func NewMQTTBroadcaster(cfg MQTTConfig) (*MQTTBroadcaster, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "synk"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetConnectTimeout(timeout).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("connect to mqtt broker %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", cfg.Broker, err)
	}

	return newMQTTBroadcaster(client, timeout), nil
}

func newMQTTBroadcaster(client mqtt.Client, timeout time.Duration) *MQTTBroadcaster {
	return &MQTTBroadcaster{client: client, timeout: timeout}
}

func mqttTopic(topic, event string) string {
	return topic + "/" + event
}

// Publish sends the envelope and waits for the broker acknowledgement.
func (b *MQTTBroadcaster) Publish(ctx context.Context, topic, event string, payload Payload) (DeliveryStatus, error) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		return StatusError, fmt.Errorf("marshal broadcast payload: %w", err)
	}

	token := b.client.Publish(mqttTopic(topic, event), mqttQoS, false, data)

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		return StatusTimedOut, nil
	case <-ctx.Done():
		return StatusError, ctx.Err()
	}

	if err := token.Error(); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			return StatusError, err
		}
		return StatusError, nil
	}
	return StatusOK, nil
}

// Close disconnects from the broker, allowing in-flight work 250ms to finish.
func (b *MQTTBroadcaster) Close() error {
	b.client.Disconnect(250)
	return nil
}

var _ Broadcaster = (*MQTTBroadcaster)(nil)
