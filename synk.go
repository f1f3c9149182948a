// Package synk serves the sync log and broadcast tools to AI assistants over
// MCP, either as a streamable HTTP endpoint or on stdio.
package synk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/localrivet/synk/internal/broadcast"
	"github.com/localrivet/synk/internal/config"
	"github.com/localrivet/synk/internal/errortypes"
	"github.com/localrivet/synk/internal/registry"
	"github.com/localrivet/synk/internal/server"
	"github.com/localrivet/synk/internal/syncstore"
	"github.com/localrivet/synk/internal/telemetry"
)

// Version is reported to clients at initialize.
const Version = "0.1.0"

// Config represents the configuration for the synk service.
type Config = config.Config

// ToolInfo describes one registered tool.
type ToolInfo = registry.ToolInfo

// Server represents the synk service.
type Server struct {
	config      *config.Config
	store       syncstore.LogStore
	broadcaster broadcast.Broadcaster
	toolServer  *server.SyncToolServer
	logger      *slog.Logger

	shutdownTelemetry telemetry.ShutdownFunc
}

// ServerOptions defines the options for creating a new Server.
type ServerOptions struct {
	Config     *Config      // Pre-filled config. If nil, ConfigPath is used.
	ConfigPath string       // Path to config file. If both are empty, DefaultConfig() is used.
	Logger     *slog.Logger // External logger. If nil, slog.Default() is used.

	// Store and Broadcaster replace the configured backends when set.
	Store       syncstore.LogStore
	Broadcaster broadcast.Broadcaster

	// MetricReader collects tool metrics. If nil, they go to whatever
	// global meter provider the embedding application installed.
	MetricReader sdkmetric.Reader
}

// NewServer creates a new synk Server with the given options.
func NewServer(opts ServerOptions) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var cfg *Config
	var err error

	if opts.Config != nil {
		cfg = opts.Config
		logger.Info("Using provided Config object for server initialization")
	} else if opts.ConfigPath != "" {
		logger.Info("Loading configuration for server initialization", "path", opts.ConfigPath)
		cfg, err = config.LoadConfigWithPath(opts.ConfigPath)
		if err != nil {
			return nil, errortypes.ConfigError(err, "Failed to load configuration from path: "+opts.ConfigPath)
		}
	} else {
		logger.Warn("No Config object or ConfigPath provided, using default configuration")
		cfg = DefaultConfig()
	}

	store, bc := opts.Store, opts.Broadcaster
	if store == nil || bc == nil {
		if err := cfg.Validate(); err != nil {
			return nil, errortypes.ConfigError(err, "invalid configuration")
		}
		createdStore, createdBC, err := createMissing(cfg, logger, store, bc)
		if err != nil {
			logger.Error("Failed to create components during server initialization", "error", err)
			return nil, err
		}
		store, bc = createdStore, createdBC
	}

	shutdown, err := telemetry.Setup(context.Background(), telemetry.Config{
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
		MetricReader: opts.MetricReader,
	}, logger)
	if err != nil {
		logger.Warn("Telemetry disabled", "error", err)
		shutdown = func(context.Context) error { return nil }
	}

	toolOpts := []server.Option{
		server.WithLogger(logger),
		server.WithBroadcastTarget(cfg.Broadcast.Topic, cfg.Broadcast.Event),
	}
	if observer, err := telemetry.NewObserver(); err != nil {
		logger.Warn("Tool metrics disabled", "error", err)
	} else {
		toolOpts = append(toolOpts, server.WithObserver(observer))
	}

	toolServer, err := server.NewSyncToolServer(store, bc, toolOpts...)
	if err != nil {
		_ = shutdown(context.Background())
		return nil, err
	}

	logger.Info("Synk server successfully initialized",
		"store", cfg.Store.Backend, "broadcast", cfg.Broadcast.Backend)
	return &Server{
		config:            cfg,
		store:             store,
		broadcaster:       bc,
		toolServer:        toolServer,
		logger:            logger,
		shutdownTelemetry: shutdown,
	}, nil
}

// DefaultConfig returns the default configuration for the synk service.
func DefaultConfig() *Config {
	return config.NewConfig()
}

// Handler returns the HTTP handler serving the MCP endpoint under the
// configured base path.
func (s *Server) Handler() http.Handler {
	return server.NewRouter(s.newEndpoint(), s.config.HTTP.BasePath, s.logger)
}

func (s *Server) newEndpoint() *server.Endpoint {
	opts := []server.EndpointOption{
		server.WithEndpointLogger(s.logger),
		server.WithServerInfo("synk", Version),
	}
	if sub, ok := s.broadcaster.(server.Subscriber); ok {
		opts = append(opts, server.WithEventSource(sub, s.toolServer.Topic()))
	}
	return server.NewEndpoint(s.toolServer.Registry(), opts...)
}

// ListenAndServe serves HTTP on the configured address until ctx is done,
// then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.HTTP.Addr)
	if err != nil {
		return errortypes.TransportError(err, "HTTP server failed")
	}
	return s.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is done. Open event streams are closed
// at shutdown; tool calls in flight run to completion within the shutdown
// timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	endpoint := s.newEndpoint()
	httpServer := &http.Server{
		Handler:           server.NewRouter(endpoint, s.config.HTTP.BasePath, s.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(endpoint.CloseStreams)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "addr", ln.Addr().String(), "base_path", s.config.HTTP.BasePath)
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errortypes.TransportError(err, "HTTP server failed")
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout())
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		_ = httpServer.Close()
		return errortypes.TransportError(err, "HTTP server shutdown failed")
	}
	return nil
}

// ServeStdio serves MCP on stdin/stdout until stdin is closed.
func (s *Server) ServeStdio() error {
	return server.NewStdioServer("synk", s.toolServer.Registry(), s.logger).Run()
}

// CallTool invokes a tool by name and returns its text output. A tool that
// fails returns its message as the error.
func (s *Server) CallTool(ctx context.Context, name string, args any) (string, error) {
	var raw json.RawMessage
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return "", errortypes.ValidationError(err, "failed to encode tool arguments")
		}
		raw = b
	}

	res, err := s.toolServer.Registry().Invoke(ctx, name, raw)
	if err != nil {
		return "", err
	}
	text := ""
	for i, block := range res.Content {
		if i > 0 {
			text += "\n"
		}
		text += block.Text
	}
	return text, nil
}

// RecentLogs returns up to limit records, newest first, optionally for one file.
func (s *Server) RecentLogs(ctx context.Context, limit int, filename string) ([]syncstore.SyncLogRecord, error) {
	var filter *string
	if filename != "" {
		filter = &filename
	}
	records, err := s.store.Query(ctx, syncstore.RecentQuery(limit, filter))
	if err != nil {
		return nil, errortypes.DatabaseError(err, "failed to read sync log")
	}
	return records, nil
}

// AppendLog adds a record to stores that accept local writes.
func (s *Server) AppendLog(ctx context.Context, rec syncstore.SyncLogRecord) (syncstore.SyncLogRecord, error) {
	writer, ok := s.store.(syncstore.LogWriter)
	if !ok {
		return syncstore.SyncLogRecord{}, errortypes.ConfigError(
			fmt.Errorf("store backend %q does not accept appends", s.config.Store.Backend),
			"cannot append to sync log")
	}
	saved, err := writer.Append(ctx, rec)
	if err != nil {
		return syncstore.SyncLogRecord{}, errortypes.DatabaseError(err, "failed to append to sync log")
	}
	return saved, nil
}

// Tools lists the registered tools.
func (s *Server) Tools() []ToolInfo {
	return s.toolServer.Registry().List()
}

// GetStore returns the log store used by the server.
func (s *Server) GetStore() syncstore.LogStore {
	return s.store
}

// GetBroadcaster returns the broadcast channel used by the server.
func (s *Server) GetBroadcaster() broadcast.Broadcaster {
	return s.broadcaster
}

// Close releases the store, the broadcast channel and telemetry exporters.
func (s *Server) Close() error {
	s.logger.Info("Stopping synk service")
	err := s.toolServer.Close()
	if err != nil {
		s.logger.Error("Failed to close collaborators", "error", err)
	}
	if s.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = errors.Join(err, s.shutdownTelemetry(ctx))
	}
	return err
}

// CreateComponents builds the configured log store and broadcast channel
// without creating a server.
func CreateComponents(cfg *Config, logger *slog.Logger) (syncstore.LogStore, broadcast.Broadcaster, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return createMissing(cfg, logger, nil, nil)
}

func createMissing(cfg *Config, logger *slog.Logger, store syncstore.LogStore, bc broadcast.Broadcaster) (syncstore.LogStore, broadcast.Broadcaster, error) {
	created := false
	if store == nil {
		var err error
		store, err = newStore(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		created = true
	}

	if bc == nil {
		var err error
		bc, err = newBroadcaster(cfg, logger)
		if err != nil {
			if created {
				_ = store.Close()
			}
			return nil, nil, err
		}
	}
	return store, bc, nil
}

func newStore(cfg *Config, logger *slog.Logger) (syncstore.LogStore, error) {
	logger.Info("Initializing log store", "backend", cfg.Store.Backend, "table", cfg.Store.Table)

	switch cfg.Store.Backend {
	case config.BackendSupabase:
		store, err := syncstore.NewSupabaseStore(syncstore.SupabaseConfig{
			URL:        cfg.Store.URL,
			ServiceKey: cfg.Store.ServiceKey,
			Table:      cfg.Store.Table,
			Timeout:    cfg.StoreTimeout(),
		})
		if err != nil {
			return nil, errortypes.ConfigError(err, "Failed to create Supabase log store")
		}
		return store, nil

	case config.BackendSQLite:
		store := syncstore.NewSQLiteStore(cfg.Store.Table)
		if err := store.Initialize(cfg.Store.SQLitePath); err != nil {
			return nil, errortypes.DatabaseError(err, "Failed to initialize SQLite log store").
				WithField("path", cfg.Store.SQLitePath)
		}
		return store, nil

	default:
		return nil, errortypes.ConfigError(
			fmt.Errorf("unknown store backend %q", cfg.Store.Backend), "cannot create log store")
	}
}

func newBroadcaster(cfg *Config, logger *slog.Logger) (broadcast.Broadcaster, error) {
	logger.Info("Initializing broadcast channel", "backend", cfg.Broadcast.Backend, "topic", cfg.Broadcast.Topic)
	timeout := cfg.BroadcastTimeout()

	switch cfg.Broadcast.Backend {
	case config.BackendSupabase:
		bc, err := broadcast.NewSupabaseBroadcaster(broadcast.SupabaseConfig{
			URL:        cfg.Store.URL,
			ServiceKey: cfg.Store.ServiceKey,
			Timeout:    timeout,
		})
		if err != nil {
			return nil, errortypes.ConfigError(err, "Failed to create Supabase broadcaster")
		}
		return bc, nil

	case config.BackendNATS:
		bc, err := broadcast.NewNATSBroadcaster(cfg.Broadcast.NATSURL, timeout)
		if err != nil {
			return nil, errortypes.NetworkError(err, "Failed to connect to NATS").
				WithField("url", cfg.Broadcast.NATSURL)
		}
		return bc, nil

	case config.BackendMQTT:
		bc, err := broadcast.NewMQTTBroadcaster(broadcast.MQTTConfig{
			Broker:   cfg.Broadcast.MQTTBroker,
			ClientID: cfg.Broadcast.MQTTClientID,
			Timeout:  timeout,
		})
		if err != nil {
			return nil, errortypes.NetworkError(err, "Failed to connect to MQTT broker").
				WithField("broker", cfg.Broadcast.MQTTBroker)
		}
		return bc, nil

	case config.BackendMemory:
		return broadcast.NewMemoryBroadcaster(0), nil

	default:
		return nil, errortypes.ConfigError(
			fmt.Errorf("unknown broadcast backend %q", cfg.Broadcast.Backend), "cannot create broadcaster")
	}
}
