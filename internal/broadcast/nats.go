package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBroadcaster publishes broadcasts as NATS messages on "<topic>.<event>".
type NATSBroadcaster struct {
	conn    *nats.Conn
	timeout time.Duration
}

// NewNATSBroadcaster connects to the NATS server at url.
func NewNATSBroadcaster(url string, timeout time.Duration, opts ...nats.Option) (*NATSBroadcaster, error) {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	opts = append([]nats.Option{nats.Name("synk"), nats.Timeout(timeout)}, opts...)

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSBroadcaster{conn: conn, timeout: timeout}, nil
}

// natsSubject joins topic and event into a NATS subject.
func natsSubject(topic, event string) string {
	return topic + "." + event
}

// Publish sends the envelope and waits for the server to acknowledge the
// flush. No acknowledgement within the timeout reports StatusTimedOut.
func (b *NATSBroadcaster) Publish(ctx context.Context, topic, event string, payload Payload) (DeliveryStatus, error) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		return StatusError, fmt.Errorf("marshal broadcast payload: %w", err)
	}

	if err := b.conn.Publish(natsSubject(topic, event), data); err != nil {
		return StatusError, err
	}

	flushCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.conn.FlushWithContext(flushCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return StatusTimedOut, nil
		}
		return StatusError, err
	}
	return StatusOK, nil
}

// Close drains and closes the connection.
func (b *NATSBroadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Drain()
}

var _ Broadcaster = (*NATSBroadcaster)(nil)
