package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	gomcp "github.com/localrivet/gomcp/server"

	"github.com/localrivet/synk/internal/errortypes"
	"github.com/localrivet/synk/internal/registry"
	"github.com/localrivet/synk/internal/tools"
)

// ReadSyncStateArgs is the argument shape gomcp binds for read_sync_state.
type ReadSyncStateArgs struct {
	Limit    *int    `json:"limit,omitempty"`
	Filename *string `json:"filename,omitempty"`
}

// TriggerBroadcastArgs is the argument shape gomcp binds for trigger_broadcast.
type TriggerBroadcastArgs struct {
	Filename *string `json:"filename"`
	Content  *string `json:"content"`
	Summary  *string `json:"summary"`
}

// StdioServer exposes a registry over MCP stdio.
type StdioServer struct {
	registry  *registry.Registry
	logger    *slog.Logger
	mcpServer gomcp.Server
}

// NewStdioServer registers every tool of reg with a gomcp server. Arguments
// bound by gomcp are re-encoded and go through the registry, so validation
// and defaults match the HTTP endpoint.
func NewStdioServer(name string, reg *registry.Registry, logger *slog.Logger) *StdioServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &StdioServer{registry: reg, logger: logger}

	srv := gomcp.NewServer(name)
	for _, info := range reg.List() {
		switch info.Name {
		case tools.ToolReadSyncState:
			srv = srv.Tool(info.Name, info.Description,
				func(ctx *gomcp.Context, args ReadSyncStateArgs) (string, error) {
					return s.invoke(tools.ToolReadSyncState, args)
				})
		case tools.ToolTriggerBroadcast:
			srv = srv.Tool(info.Name, info.Description,
				func(ctx *gomcp.Context, args TriggerBroadcastArgs) (string, error) {
					return s.invoke(tools.ToolTriggerBroadcast, args)
				})
		default:
			logger.Warn("Tool has no stdio binding", "tool", info.Name)
		}
	}
	s.mcpServer = srv
	return s
}

// invoke re-encodes gomcp-bound arguments and runs them through the registry.
func (s *StdioServer) invoke(name string, args interface{}) (string, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return "", errortypes.InternalError(err, "failed to encode tool arguments")
	}

	res, err := s.registry.Invoke(context.Background(), name, raw)
	if err != nil {
		return "", err
	}
	return resultText(res), nil
}

func resultText(res registry.ToolResult) string {
	if len(res.Content) == 0 {
		return ""
	}
	text := res.Content[0].Text
	for _, block := range res.Content[1:] {
		text += "\n" + block.Text
	}
	return text
}

// Run serves MCP on stdin/stdout until stdin is closed.
func (s *StdioServer) Run() error {
	if s.mcpServer == nil {
		return errortypes.ConfigError(errors.New("server not initialized"), "cannot start stdio server")
	}
	s.logger.Info("Starting MCP stdio server", "tools", len(s.registry.List()))
	return s.mcpServer.AsStdio().Run()
}
