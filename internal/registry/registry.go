// Package registry holds the catalog of callable tools and runs one
// invocation at a time: look up by name, validate, then call the handler.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/localrivet/synk/internal/errortypes"
)

// ContentBlock is one item of a tool result. Only the "text" kind is produced.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is what a successful invocation returns to the caller.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// TextResult builds a ToolResult holding a single text block.
func TextResult(text string) ToolResult {
	return ToolResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

// ErrorResult builds an in-band error result carrying msg as its text.
func ErrorResult(msg string) ToolResult {
	res := TextResult(msg)
	res.IsError = true
	return res
}

// ToolInfo describes a tool the way tools/list advertises it.
type ToolInfo struct {
	Name        string                 `json:"name" yaml:"name"`
	Description string                 `json:"description" yaml:"description"`
	InputSchema map[string]interface{} `json:"inputSchema" yaml:"inputSchema"`
}

// ToolDefinition binds a name and schema to a typed validator and handler.
// Build one with NewTool.
type ToolDefinition struct {
	Info     ToolInfo
	validate func(json.RawMessage) (any, error)
	handle   func(context.Context, any) (ToolResult, error)
}

// NewTool creates a ToolDefinition whose handler receives the value produced
// by validate.
func NewTool[In any](
	name, description string,
	schema map[string]interface{},
	validate func(json.RawMessage) (In, error),
	handler func(context.Context, In) (ToolResult, error),
) ToolDefinition {
	return ToolDefinition{
		Info: ToolInfo{Name: name, Description: description, InputSchema: schema},
		validate: func(raw json.RawMessage) (any, error) {
			return validate(raw)
		},
		handle: func(ctx context.Context, in any) (ToolResult, error) {
			return handler(ctx, in.(In))
		},
	}
}

// Outcome classifies how an invocation ended.
type Outcome string

// Invocation outcomes
const (
	OutcomeOK           Outcome = "ok"
	OutcomeUnknownTool  Outcome = "unknown_tool"
	OutcomeInvalidInput Outcome = "invalid_input"
	OutcomeHandlerError Outcome = "handler_error"
)

// Observation is reported to the Observer after every invocation.
type Observation struct {
	Tool     string
	Outcome  Outcome
	Start    time.Time
	Duration time.Duration
}

// Observer receives one Observation per invocation.
type Observer interface {
	ObserveInvoke(ctx context.Context, obs Observation)
}

// Option configures a Registry.
type Option func(*Registry)

// WithObserver reports every invocation to o.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observer = o
	}
}

// WithLogger sets the logger used for invocation logging.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// ErrEmptyName is returned when registering a tool without a name.
var ErrEmptyName = errors.New("tool name must not be empty")

// Registry maps tool names to definitions. Tools are registered at startup;
// after that the catalog is only read.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]ToolDefinition
	order    []string
	observer Observer
	logger   *slog.Logger
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{tools: make(map[string]ToolDefinition)}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Register adds def to the catalog. Registering a name twice replaces the
// earlier definition.
func (r *Registry) Register(def ToolDefinition) error {
	if def.Info.Name == "" {
		return errortypes.ValidationError(ErrEmptyName, "cannot register tool")
	}
	if def.validate == nil || def.handle == nil {
		return errortypes.InternalError(errors.New("tool definition was not built with NewTool"), "cannot register tool").
			WithField("tool", def.Info.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Info.Name]; !exists {
		r.order = append(r.order, def.Info.Name)
	} else {
		r.logger.Warn("Replacing registered tool", "tool", def.Info.Name)
	}
	r.tools[def.Info.Name] = def
	return nil
}

// MustRegister is Register for definitions known to be valid at startup.
func (r *Registry) MustRegister(defs ...ToolDefinition) {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
}

// List returns the registered tools in registration order.
func (r *Registry) List() []ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		infos = append(infos, r.tools[name].Info)
	}
	return infos
}

// Lookup reports whether name is registered.
func (r *Registry) Lookup(name string) (ToolInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.tools[name]
	return def.Info, ok
}

// Invoke runs the named tool on raw arguments. It returns exactly one of a
// result or an error:
//   - an unknown_tool error when name is not registered,
//   - a validation error carrying field messages when raw does not match the schema,
//   - a collaborator error carrying the handler's message verbatim when the handler fails.
//
// Nothing is retried.
func (r *Registry) Invoke(ctx context.Context, name string, raw json.RawMessage) (result ToolResult, err error) {
	start := time.Now()
	outcome := OutcomeOK
	defer func() {
		if r.observer != nil {
			r.observer.ObserveInvoke(ctx, Observation{
				Tool:     name,
				Outcome:  outcome,
				Start:    start,
				Duration: time.Since(start),
			})
		}
	}()

	r.mu.RLock()
	def, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		outcome = OutcomeUnknownTool
		r.logger.Warn("Call to unknown tool", "tool", name)
		return ToolResult{}, errortypes.UnknownToolError(name)
	}

	in, err := def.validate(raw)
	if err != nil {
		outcome = OutcomeInvalidInput
		if !errortypes.IsValidationError(err) {
			err = errortypes.ValidationError(err, "invalid arguments for tool "+name)
		}
		r.logger.Info("Rejected tool call", "tool", name, "error", err)
		return ToolResult{}, err
	}

	result, err = def.handle(ctx, in)
	if err != nil {
		outcome = OutcomeHandlerError
		if !errortypes.IsCollaboratorError(err) {
			err = errortypes.CollaboratorError(err).WithField("tool", name)
		}
		errortypes.LogError(r.logger, err)
		return ToolResult{}, err
	}

	r.logger.Debug("Tool call completed", "tool", name, "duration", time.Since(start))
	return result, nil
}
