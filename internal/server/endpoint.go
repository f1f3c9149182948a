package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/localrivet/synk/internal/errortypes"
	"github.com/localrivet/synk/internal/registry"
)

// HealthSuffix is the path suffix answered by the health check.
const HealthSuffix = "/health"

// SessionHeader carries the MCP session id assigned at initialize.
const SessionHeader = "Mcp-Session-Id"

const maxBodyBytes = 4 << 20

// CORS header values sent on every response.
const (
	corsAllowOrigin   = "*"
	corsAllowMethods  = "GET, POST, OPTIONS"
	corsAllowHeaders  = "Content-Type, Authorization, Mcp-Protocol-Version, Mcp-Session-Id, Last-Event-ID"
	corsExposeHeaders = "Mcp-Session-Id"
	corsMaxAge        = "86400"
)

var errMethodNotAllowed = errors.New("method not allowed")

// Endpoint serves the MCP streamable HTTP transport for one tool registry.
type Endpoint struct {
	registry   *registry.Registry
	logger     *slog.Logger
	info       implementation
	heartbeat  time.Duration
	events     Subscriber
	eventTopic string
	now        func() time.Time

	streamsDone chan struct{}
	closeOnce   sync.Once
}

// EndpointOption configures an Endpoint.
type EndpointOption func(*Endpoint)

// WithEndpointLogger sets the endpoint logger.
func WithEndpointLogger(l *slog.Logger) EndpointOption {
	return func(e *Endpoint) {
		e.logger = l
	}
}

// WithServerInfo sets the name and version reported at initialize.
func WithServerInfo(name, version string) EndpointOption {
	return func(e *Endpoint) {
		e.info = implementation{Name: name, Version: version}
	}
}

// WithHeartbeat sets the heartbeat interval of GET event streams.
func WithHeartbeat(d time.Duration) EndpointOption {
	return func(e *Endpoint) {
		if d > 0 {
			e.heartbeat = d
		}
	}
}

// WithEventSource forwards broadcasts on topic to clients holding a GET stream.
func WithEventSource(sub Subscriber, topic string) EndpointOption {
	return func(e *Endpoint) {
		e.events = sub
		e.eventTopic = topic
	}
}

// NewEndpoint creates an Endpoint dispatching tool calls to reg.
func NewEndpoint(reg *registry.Registry, opts ...EndpointOption) *Endpoint {
	e := &Endpoint{
		registry:  reg,
		info:      implementation{Name: "synk", Version: "dev"},
		heartbeat:   HeartbeatInterval,
		now:         time.Now,
		streamsDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// CloseStreams ends every open GET event stream and makes new ones return at
// once. POST requests are not affected.
func (e *Endpoint) CloseStreams() {
	e.closeOnce.Do(func() { close(e.streamsDone) })
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", corsAllowOrigin)
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
}

// trackingWriter records whether the response has started so a recovered
// panic can still be answered.
type trackingWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (t *trackingWriter) WriteHeader(status int) {
	t.wroteHeader = true
	t.ResponseWriter.WriteHeader(status)
}

func (t *trackingWriter) Write(b []byte) (int, error) {
	t.wroteHeader = true
	return t.ResponseWriter.Write(b)
}

func (t *trackingWriter) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}

// ServeHTTP applies CORS, answers preflight and health checks and forwards
// everything else to the MCP transport.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w.Header())
	tw := &trackingWriter{ResponseWriter: w}

	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			err := errortypes.TransportError(fmt.Errorf("%v", rec), "request handling failed").
				WithField("method", r.Method).
				WithField("path", r.URL.Path)
			if tw.wroteHeader {
				errortypes.LogError(e.logger, err)
				return
			}
			setCORSHeaders(w.Header())
			writeErrorResponse(w, e.logger, http.StatusInternalServerError, err)
		}
	}()

	switch {
	case r.Method == http.MethodOptions:
		tw.Header().Set("Access-Control-Max-Age", corsMaxAge)
		tw.WriteHeader(http.StatusNoContent)

	case strings.HasSuffix(r.URL.Path, HealthSuffix):
		writeJSON(tw, http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"timestamp": e.now().UnixMilli(),
		})

	case r.Method == http.MethodPost:
		e.servePost(tw, r)

	case r.Method == http.MethodGet:
		if !acceptsEventStream(r) {
			writeErrorResponse(tw, e.logger, http.StatusMethodNotAllowed, errors.New("GET requires Accept: text/event-stream"))
			return
		}
		e.serveListen(tw, r)

	default:
		tw.Header().Set("Allow", corsAllowMethods)
		writeErrorResponse(tw, e.logger, http.StatusMethodNotAllowed, errMethodNotAllowed)
	}
}

func acceptsEventStream(r *http.Request) bool {
	for _, v := range r.Header.Values("Accept") {
		if strings.Contains(v, "text/event-stream") {
			return true
		}
	}
	return false
}

// servePost handles one JSON-RPC message or batch. Every message is handled
// before anything is written, so a failure can still become a 500.
func (e *Endpoint) servePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorResponse(w, e.logger, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
			return
		}
		writeErrorResponse(w, e.logger, http.StatusBadRequest, fmt.Errorf("read request body: %w", err))
		return
	}

	msgs, responses, batch, err := parseMessages(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, newError(nil, codeParseError, "Parse error", nil))
		return
	}

	session := ""
	for _, msg := range msgs {
		resp, newSession := e.dispatch(r.Context(), msg)
		if newSession != "" {
			session = newSession
		}
		if resp != nil {
			responses = append(responses, resp)
		}
	}

	if session != "" {
		w.Header().Set(SessionHeader, session)
	}
	if len(responses) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var payload interface{} = responses[0]
	if batch {
		payload = responses
	}

	if !acceptsEventStream(r) {
		writeJSON(w, http.StatusOK, payload)
		return
	}

	stream, err := newEventStream(w)
	if err != nil {
		writeJSON(w, http.StatusOK, payload)
		return
	}
	stream.open()
	defer stream.close()
	if err := stream.sendJSON(payload); err != nil {
		e.logger.Debug("Client went away before the response was written", "error", err)
	}
}
