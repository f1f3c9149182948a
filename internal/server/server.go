// Package server exposes the synk tools over MCP: the tool handlers, the
// streamable HTTP endpoint and the stdio transport.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/localrivet/synk/internal/broadcast"
	"github.com/localrivet/synk/internal/errortypes"
	"github.com/localrivet/synk/internal/registry"
	"github.com/localrivet/synk/internal/syncstore"
	"github.com/localrivet/synk/internal/tools"
)

// Common server error types
var (
	ErrMissingDependencies = errors.New("one or more required dependencies are nil")
)

// SyncToolServer owns the collaborators and the tool registry built on them.
type SyncToolServer struct {
	store       syncstore.LogStore
	broadcaster broadcast.Broadcaster
	registry    *registry.Registry
	observer    registry.Observer
	logger      *slog.Logger
	topic       string
	event       string
	now         func() time.Time
}

// Option configures a SyncToolServer.
type Option func(*SyncToolServer)

// WithLogger sets the logger used by the server and its registry.
func WithLogger(l *slog.Logger) Option {
	return func(s *SyncToolServer) {
		s.logger = l
	}
}

// WithObserver reports every tool invocation to o.
func WithObserver(o registry.Observer) Option {
	return func(s *SyncToolServer) {
		s.observer = o
	}
}

// WithBroadcastTarget overrides the topic and event tag used by trigger_broadcast.
// Empty values keep the defaults.
func WithBroadcastTarget(topic, event string) Option {
	return func(s *SyncToolServer) {
		if topic != "" {
			s.topic = topic
		}
		if event != "" {
			s.event = event
		}
	}
}

// WithClock sets the time source used for broadcast timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SyncToolServer) {
		s.now = now
	}
}

// NewSyncToolServer builds the tool registry on top of store and broadcaster.
func NewSyncToolServer(store syncstore.LogStore, broadcaster broadcast.Broadcaster, opts ...Option) (*SyncToolServer, error) {
	if store == nil || broadcaster == nil {
		return nil, errortypes.ConfigError(ErrMissingDependencies, "server initialization failed")
	}

	s := &SyncToolServer{
		store:       store,
		broadcaster: broadcaster,
		topic:       tools.BroadcastTopic,
		event:       tools.BroadcastEvent,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	regOpts := []registry.Option{registry.WithLogger(s.logger)}
	if s.observer != nil {
		regOpts = append(regOpts, registry.WithObserver(s.observer))
	}
	s.registry = registry.New(regOpts...)
	s.registry.MustRegister(s.toolDefinitions()...)

	s.logger.Info("Sync tool server initialized", "tool_count", len(s.registry.List()), "topic", s.topic)
	return s, nil
}

// Registry returns the tool registry served by this server.
func (s *SyncToolServer) Registry() *registry.Registry {
	return s.registry
}

// Topic returns the topic broadcasts are published to.
func (s *SyncToolServer) Topic() string {
	return s.topic
}

// Close releases both collaborators.
func (s *SyncToolServer) Close() error {
	return errors.Join(s.store.Close(), s.broadcaster.Close())
}

// ToolCatalog describes the tools a SyncToolServer registers without
// connecting to any backend.
func ToolCatalog() []registry.ToolInfo {
	defs := (&SyncToolServer{}).toolDefinitions()
	infos := make([]registry.ToolInfo, 0, len(defs))
	for _, def := range defs {
		infos = append(infos, def.Info)
	}
	return infos
}

func (s *SyncToolServer) toolDefinitions() []registry.ToolDefinition {
	return []registry.ToolDefinition{
		registry.NewTool(tools.ToolReadSyncState, tools.ReadSyncStateDescription,
			tools.ReadSyncStateSchema(), tools.ValidateReadSyncState, s.handleReadSyncState),
		registry.NewTool(tools.ToolTriggerBroadcast, tools.TriggerBroadcastDescription,
			tools.TriggerBroadcastSchema(), tools.ValidateTriggerBroadcast, s.handleTriggerBroadcast),
	}
}

// handleReadSyncState runs one store query and renders the records, in the
// order the store returned them, as indented JSON.
func (s *SyncToolServer) handleReadSyncState(ctx context.Context, req tools.ReadSyncStateRequest) (registry.ToolResult, error) {
	filename := ""
	if req.Filename != nil {
		filename = *req.Filename
	}
	s.logger.Info("Processing read_sync_state request", "limit", req.Limit, "filename", filename)

	records, err := s.store.Query(ctx, syncstore.RecentQuery(req.Limit, req.Filename))
	if err != nil {
		return registry.ToolResult{}, err
	}
	if records == nil {
		records = []syncstore.SyncLogRecord{}
	}

	text, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return registry.ToolResult{}, errortypes.InternalError(err, "failed to encode sync records")
	}

	s.logger.Debug("Read sync state", "count", len(records))
	return registry.TextResult(string(text)), nil
}

// handleTriggerBroadcast publishes one manual update. Failed publishes are not retried.
func (s *SyncToolServer) handleTriggerBroadcast(ctx context.Context, req tools.TriggerBroadcastRequest) (registry.ToolResult, error) {
	s.logger.Info("Processing trigger_broadcast request", "filename", req.Filename, "delta_length", len(req.Content))

	payload := broadcast.Payload{
		Event:     tools.ManualUpdateEvent,
		Filename:  req.Filename,
		Delta:     req.Content,
		Summary:   req.Summary,
		Timestamp: s.now().UnixMilli(),
	}

	status, err := s.broadcaster.Publish(ctx, s.topic, s.event, payload)
	if err != nil {
		return registry.ToolResult{}, err
	}

	s.logger.Info("Broadcast published", "filename", req.Filename, "status", status)
	return registry.TextResult(fmt.Sprintf("Broadcast Status: %s", status)), nil
}
