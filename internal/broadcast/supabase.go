package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultPublishTimeout = 10 * time.Second

// SupabaseConfig configures a SupabaseBroadcaster.
type SupabaseConfig struct {
	URL        string
	ServiceKey string
	// Timeout is how long to wait for the broadcast to be accepted.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// SupabaseBroadcaster sends broadcasts through the Supabase Realtime REST endpoint.
type SupabaseBroadcaster struct {
	endpoint   string
	serviceKey string
	timeout    time.Duration
	client     *http.Client
}

// NewSupabaseBroadcaster creates a SupabaseBroadcaster.
func NewSupabaseBroadcaster(cfg SupabaseConfig) (*SupabaseBroadcaster, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, errors.New("supabase broadcast: url is required")
	}
	if strings.TrimSpace(cfg.ServiceKey) == "" {
		return nil, errors.New("supabase broadcast: service key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &SupabaseBroadcaster{
		endpoint:   base + "/realtime/v1/api/broadcast",
		serviceKey: cfg.ServiceKey,
		timeout:    timeout,
		client:     client,
	}, nil
}

type realtimeMessage struct {
	Topic   string  `json:"topic"`
	Event   string  `json:"event"`
	Payload Payload `json:"payload"`
}

type realtimeRequest struct {
	Messages []realtimeMessage `json:"messages"`
}

// Publish posts one broadcast message. A response outside 2xx yields
// StatusError; no acknowledgement within the timeout yields StatusTimedOut.
func (b *SupabaseBroadcaster) Publish(ctx context.Context, topic, event string, payload Payload) (DeliveryStatus, error) {
	body, err := json.Marshal(realtimeRequest{
		Messages: []realtimeMessage{{Topic: topic, Event: event, Payload: payload}},
	})
	if err != nil {
		return StatusError, fmt.Errorf("marshal broadcast payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return StatusError, fmt.Errorf("build broadcast request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", b.serviceKey)
	req.Header.Set("Authorization", "Bearer "+b.serviceKey)

	resp, err := b.client.Do(req)
	if err != nil {
		if isTimeout(err) && ctx.Err() == nil {
			return StatusTimedOut, nil
		}
		return StatusError, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return StatusError, nil
	}
	return StatusOK, nil
}

// Close is a no-op for the REST transport.
func (b *SupabaseBroadcaster) Close() error {
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var _ Broadcaster = (*SupabaseBroadcaster)(nil)
