package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/localrivet/synk/internal/broadcast"
)

// HeartbeatInterval is the interval between SSE heartbeat comments.
const HeartbeatInterval = 15 * time.Second

// streamState tracks the lifecycle of one server-sent event response.
type streamState int

const (
	streamIdle streamState = iota
	streamStreaming
	streamClosed
)

func (s streamState) String() string {
	switch s {
	case streamIdle:
		return "idle"
	case streamStreaming:
		return "streaming"
	case streamClosed:
		return "closed"
	default:
		return fmt.Sprintf("streamState(%d)", int(s))
	}
}

var (
	errStreamingUnsupported = errors.New("streaming not supported")
	errStreamNotOpen        = errors.New("event stream is not open")
)

// eventStream writes server-sent events to one response. It is owned by the
// goroutine serving the request.
type eventStream struct {
	w     http.ResponseWriter
	rc    *http.ResponseController
	state streamState
}

func newEventStream(w http.ResponseWriter) (*eventStream, error) {
	if !canFlush(w) {
		return nil, errStreamingUnsupported
	}
	return &eventStream{w: w, rc: http.NewResponseController(w), state: streamIdle}, nil
}

// canFlush reports whether w, or a writer it wraps, implements http.Flusher.
func canFlush(w http.ResponseWriter) bool {
	for {
		if _, ok := w.(http.Flusher); ok {
			return true
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return false
		}
		w = u.Unwrap()
	}
}

// open sends the stream headers. Intermediaries must not buffer or cache
// the response.
func (s *eventStream) open() {
	if s.state != streamIdle {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.state = streamStreaming
	if err := s.rc.Flush(); err != nil {
		s.state = streamClosed
	}
}

// send writes one event and flushes it. A failed write closes the stream.
func (s *eventStream) send(event string, data []byte) error {
	if s.state != streamStreaming {
		return errStreamNotOpen
	}
	var b strings.Builder
	if event != "" {
		fmt.Fprintf(&b, "event: %s\n", event)
	}
	for _, line := range strings.Split(string(data), "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	return s.write(b.String())
}

// sendJSON marshals v and sends it as a "message" event.
func (s *eventStream) sendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.send("message", data)
}

// comment writes an SSE comment line, used for heartbeats.
func (s *eventStream) comment(text string) error {
	if s.state != streamStreaming {
		return errStreamNotOpen
	}
	return s.write(": " + text + "\n\n")
}

func (s *eventStream) write(chunk string) error {
	if _, err := fmt.Fprint(s.w, chunk); err != nil {
		s.state = streamClosed
		return err
	}
	if err := s.rc.Flush(); err != nil {
		s.state = streamClosed
		return err
	}
	return nil
}

func (s *eventStream) close() {
	s.state = streamClosed
}

// Subscriber is implemented by broadcast channels that can feed broadcasts
// back to listening clients.
type Subscriber interface {
	Subscribe(topic string) broadcast.Subscription
}

type logMessageParams struct {
	Level  string            `json:"level"`
	Logger string            `json:"logger"`
	Data   broadcast.Message `json:"data"`
}

// serveListen holds a GET stream open, forwarding broadcasts as MCP log
// notifications when a Subscriber is configured and sending heartbeats
// until the client disconnects or CloseStreams is called.
func (e *Endpoint) serveListen(w http.ResponseWriter, r *http.Request) {
	stream, err := newEventStream(w)
	if err != nil {
		writeErrorResponse(w, e.logger, http.StatusInternalServerError, err)
		return
	}

	var messages <-chan broadcast.Message
	if e.events != nil {
		sub := e.events.Subscribe(e.eventTopic)
		defer sub.Close()
		messages = sub.Messages()
	}

	stream.open()
	defer stream.close()
	e.logger.Debug("Event stream opened", "remote", r.RemoteAddr)

	heartbeat := time.NewTicker(e.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			e.logger.Debug("Event stream closed by client", "remote", r.RemoteAddr)
			return

		case <-e.streamsDone:
			e.logger.Debug("Event stream closed by server", "remote", r.RemoteAddr)
			return

		case msg, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			err := stream.sendJSON(rpcNotification{
				JSONRPC: jsonRPCVersion,
				Method:  methodLogNotification,
				Params:  logMessageParams{Level: "info", Logger: "synk", Data: msg},
			})
			if err != nil {
				return
			}

		case <-heartbeat.C:
			if err := stream.comment("ping"); err != nil {
				return
			}
		}
	}
}
