// Package broadcast publishes one-shot code update notifications to the other
// agents listening on a topic. Delivery is at most once: nothing here retries.
package broadcast

import (
	"context"
	"encoding/json"
)

// DeliveryStatus is the acknowledgement reported by a channel for one publish.
type DeliveryStatus string

// Delivery statuses
const (
	StatusOK       DeliveryStatus = "ok"
	StatusError    DeliveryStatus = "error"
	StatusTimedOut DeliveryStatus = "timed out"
)

// Payload is the body of a code update broadcast.
type Payload struct {
	Event     string `json:"event"`
	Filename  string `json:"filename"`
	Delta     string `json:"delta"`
	Summary   string `json:"summary"`
	Timestamp int64  `json:"timestamp"`
}

// Message is one published broadcast as seen by subscribers.
type Message struct {
	Topic   string  `json:"topic"`
	Event   string  `json:"event"`
	Payload Payload `json:"payload"`
}

// Broadcaster publishes payloads to a topic under an event tag.
type Broadcaster interface {
	// Publish sends payload once. A non-nil error means the channel could not
	// be reached at all; a reachable channel that rejects or does not
	// acknowledge the message reports it through the status.
	Publish(ctx context.Context, topic, event string, payload Payload) (DeliveryStatus, error)

	// Close releases the underlying connection.
	Close() error
}

// envelope is the wire body used by the NATS and MQTT backends. It mirrors
// the shape Supabase Realtime delivers to its subscribers.
type envelope struct {
	Type    string  `json:"type"`
	Event   string  `json:"event"`
	Payload Payload `json:"payload"`
}

func encodeEnvelope(event string, payload Payload) ([]byte, error) {
	return json.Marshal(envelope{Type: "broadcast", Event: event, Payload: payload})
}
