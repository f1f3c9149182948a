package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/localrivet/configurator"
)

// Config represents the synk configuration
type Config struct {
	// Store selects and configures the sync log store.
	Store struct {
		// Backend is "supabase" (remote PostgREST) or "sqlite" (local file).
		Backend string `json:"backend" env:"STORE_BACKEND" validate:"required"`

		// URL is the Supabase project URL.
		URL string `json:"url" env:"STORE_URL"`

		// ServiceKey is the Supabase service credential.
		ServiceKey string `json:"service_key" env:"STORE_SERVICE_KEY"`

		// Table is the sync log table name.
		Table string `json:"table" env:"STORE_TABLE" validate:"required"`

		// SQLitePath is the path to the SQLite database file.
		SQLitePath string `json:"sqlite_path" env:"SQLITE_PATH"`

		// TimeoutSeconds bounds each HTTP request made by the remote client.
		TimeoutSeconds int `json:"timeout_seconds" env:"STORE_TIMEOUT_SECONDS" validate:"min:1"`
	} `json:"store"`

	// Broadcast selects and configures the broadcast channel.
	Broadcast struct {
		// Backend is "supabase", "nats", "mqtt" or "memory".
		Backend string `json:"backend" env:"BROADCAST_BACKEND" validate:"required"`

		Topic string `json:"topic" env:"BROADCAST_TOPIC" validate:"required"`
		Event string `json:"event" env:"BROADCAST_EVENT" validate:"required"`

		NATSURL      string `json:"nats_url" env:"NATS_URL"`
		MQTTBroker   string `json:"mqtt_broker" env:"MQTT_BROKER"`
		MQTTClientID string `json:"mqtt_client_id" env:"MQTT_CLIENT_ID"`

		// TimeoutSeconds is how long a publish waits for an acknowledgement
		// before reporting "timed out".
		TimeoutSeconds int `json:"timeout_seconds" env:"BROADCAST_TIMEOUT_SECONDS" validate:"min:1"`
	} `json:"broadcast"`

	HTTP struct {
		Addr                   string `json:"addr" env:"HTTP_ADDR" validate:"required"`
		BasePath               string `json:"base_path" env:"HTTP_BASE_PATH" validate:"required"`
		ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" env:"HTTP_SHUTDOWN_TIMEOUT_SECONDS" validate:"min:1"`
	} `json:"http"`

	Telemetry struct {
		// OTLPEndpoint enables OTLP/HTTP trace export when set (full traces URL).
		OTLPEndpoint string `json:"otlp_endpoint" env:"OTLP_ENDPOINT"`
		ServiceName  string `json:"service_name" env:"SERVICE_NAME"`
	} `json:"telemetry"`

	// Logging contains logging-related configuration.
	Logging struct {
		// Level is the minimum log level to display ("debug", "info", "warn", "error").
		Level string `json:"level" env:"LOG_LEVEL" validate:"required"`

		// Format is the log format to use ("text", "json").
		Format string `json:"format" env:"LOG_FORMAT"`
	} `json:"logging"`

	// Internal state (not saved to config file)
	configPath     string       `json:"-"`
	mutex          sync.RWMutex `json:"-"`
	lastModifiedAt time.Time    `json:"-"`
}

// Default configuration values
const (
	DefaultConfigFilename = ".synkconfig"
	DefaultSQLitePath     = ".synk.db"
	DefaultTable          = "sync_logs"
	DefaultTopic          = "synk-stream"
	DefaultEvent          = "code_update"
	DefaultAddr           = ":8080"
	DefaultBasePath       = "/api/mcp"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultServiceName    = "synk"

	// EnvPrefix prefixes every variable read by the env provider.
	EnvPrefix = "SYNK"

	// Variables set by the hosting platform for the web deployment.
	LegacyURLEnv        = "NEXT_PUBLIC_SUPABASE_URL"
	LegacyServiceKeyEnv = "SUPABASE_SERVICE_ROLE_KEY"
)

// Backend names
const (
	BackendSupabase = "supabase"
	BackendSQLite   = "sqlite"
	BackendNATS     = "nats"
	BackendMQTT     = "mqtt"
	BackendMemory   = "memory"
)

// NewConfig creates a new Config instance with default values
func NewConfig() *Config {
	config := &Config{}
	config.Store.Backend = BackendSupabase
	config.Store.Table = DefaultTable
	config.Store.SQLitePath = DefaultSQLitePath
	config.Store.TimeoutSeconds = 30
	config.Broadcast.Backend = BackendSupabase
	config.Broadcast.Topic = DefaultTopic
	config.Broadcast.Event = DefaultEvent
	config.Broadcast.MQTTClientID = "synk"
	config.Broadcast.TimeoutSeconds = 10
	config.HTTP.Addr = DefaultAddr
	config.HTTP.BasePath = DefaultBasePath
	config.HTTP.ShutdownTimeoutSeconds = 30
	config.Telemetry.ServiceName = DefaultServiceName
	config.Logging.Level = DefaultLogLevel
	config.Logging.Format = DefaultLogFormat
	return config
}

// LoadConfigWithPath loads defaults, then the config file when it exists, then
// SYNK_* environment variables. Logs go to stderr so the stdio transport is
// never polluted.
func LoadConfigWithPath(configPath string) (*Config, error) {
	stdLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg := NewConfig()

	if configPath == "" {
		configPath = DefaultConfigFilename
	}
	if configPath == DefaultConfigFilename {
		foundPath, err := configurator.FindConfigFile(configPath)
		if err == nil {
			configPath = foundPath
			stdLogger.Debug("Found config file at " + foundPath)
		}
	}

	loader := configurator.New(stdLogger).
		WithProvider(configurator.NewDefaultProvider())

	if _, err := os.Stat(configPath); err == nil {
		stdLogger.Info("Loading configuration", "path", configPath)
		loader = loader.WithProvider(configurator.NewFileProvider(configPath))
	} else {
		stdLogger.Info("Config file not found, using defaults and environment", "path", configPath)
	}

	loader = loader.
		WithProvider(configurator.NewEnvProvider(EnvPrefix)).
		WithValidator(configurator.NewDefaultValidator())

	if err := loader.Load(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg.applyLegacyEnv()

	cfg.configPath = configPath
	cfg.lastModifiedAt = time.Now()

	return cfg, nil
}

// applyLegacyEnv fills the store endpoint and credential from the variables
// the web deployment uses, when the SYNK_* ones are absent.
func (c *Config) applyLegacyEnv() {
	if strings.TrimSpace(c.Store.URL) == "" {
		c.Store.URL = strings.TrimSpace(os.Getenv(LegacyURLEnv))
	}
	if strings.TrimSpace(c.Store.ServiceKey) == "" {
		c.Store.ServiceKey = strings.TrimSpace(os.Getenv(LegacyServiceKeyEnv))
	}
}

// Validate checks the backend-specific settings that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	needsSupabase := false
	switch c.Store.Backend {
	case BackendSupabase:
		needsSupabase = true
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}

	switch c.Broadcast.Backend {
	case BackendSupabase:
		needsSupabase = true
	case BackendNATS:
		if c.Broadcast.NATSURL == "" {
			errs = append(errs, errors.New("broadcast.nats_url is required for the nats backend"))
		}
	case BackendMQTT:
		if c.Broadcast.MQTTBroker == "" {
			errs = append(errs, errors.New("broadcast.mqtt_broker is required for the mqtt backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown broadcast backend %q", c.Broadcast.Backend))
	}

	if needsSupabase {
		if c.Store.URL == "" {
			errs = append(errs, fmt.Errorf("store.url is required (set %s_STORE_URL or %s)", EnvPrefix, LegacyURLEnv))
		}
		if c.Store.ServiceKey == "" {
			errs = append(errs, fmt.Errorf("store.service_key is required (set %s_STORE_SERVICE_KEY or %s)", EnvPrefix, LegacyServiceKeyEnv))
		}
	}

	if !strings.HasPrefix(c.HTTP.BasePath, "/") {
		errs = append(errs, fmt.Errorf("http.base_path must start with '/': %q", c.HTTP.BasePath))
	}

	return errors.Join(errs...)
}

// StoreTimeout returns the remote store request timeout.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.Store.TimeoutSeconds) * time.Second
}

// BroadcastTimeout returns the publish acknowledgement timeout.
func (c *Config) BroadcastTimeout() time.Duration {
	return time.Duration(c.Broadcast.TimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the HTTP drain timeout.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.HTTP.ShutdownTimeoutSeconds) * time.Second
}

// SaveToFile saves the configuration to the specified file
func (c *Config) SaveToFile(path string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := configurator.SaveToFile(c, path, configurator.FormatJSON); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	c.configPath = path
	c.lastModifiedAt = time.Now()

	return nil
}

// GetConfigPath returns the path of the currently loaded configuration file
func (c *Config) GetConfigPath() string {
	return c.configPath
}
