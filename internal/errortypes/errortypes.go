// Package errortypes provides error types and handling for synk.
package errortypes

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
)

// ErrorType represents the type of error that occurred
type ErrorType string

// Error types
const (
	// ErrorTypeValidation marks tool input that failed schema validation.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeUnknownTool marks a call to a tool name that is not registered.
	ErrorTypeUnknownTool ErrorType = "unknown_tool"
	// ErrorTypeCollaborator marks a failure reported by the log store or broadcast channel.
	ErrorTypeCollaborator ErrorType = "collaborator"
	// ErrorTypeTransport marks an uncaught failure while handling an inbound request.
	ErrorTypeTransport ErrorType = "transport"

	ErrorTypeDatabase ErrorType = "database"
	ErrorTypeNetwork  ErrorType = "network"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeInternal ErrorType = "internal"
)

// AppError represents an application error with context
type AppError struct {
	Err       error
	Type      ErrorType
	Message   string
	StackInfo string
	Fields    map[string]interface{}
}

// Error implements the error interface. An AppError without a message reports
// the wrapped error verbatim.
func (e *AppError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Err.Error()
}

// Unwrap unwraps the error to support errors.Is and errors.As
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithField adds a field to the error for additional context
func (e *AppError) WithField(key string, value interface{}) *AppError {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// WithFields adds multiple fields to the error for additional context
func (e *AppError) WithFields(fields map[string]interface{}) *AppError {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	for k, v := range fields {
		e.Fields[k] = v
	}
	return e
}

// captureStack captures the stack trace at the call site
func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var builder strings.Builder
	for {
		frame, more := frames.Next()
		// Skip testing and standard library frames
		if !strings.Contains(frame.File, "testing/") && !strings.Contains(frame.File, "/go/src/") {
			fmt.Fprintf(&builder, "%s:%d %s\n", frame.File, frame.Line, frame.Function)
		}
		if !more {
			break
		}
	}
	return builder.String()
}

func newAppError(errType ErrorType, err error, message string) *AppError {
	if err == nil {
		err = errors.New("unknown error")
	}

	return &AppError{
		Err:       err,
		Type:      errType,
		Message:   message,
		StackInfo: captureStack(),
		Fields:    make(map[string]interface{}),
	}
}

// ValidationError creates a new validation error
func ValidationError(err error, message string) *AppError {
	return newAppError(ErrorTypeValidation, err, message)
}

// UnknownToolError creates an error for a tool name missing from the registry.
func UnknownToolError(name string) *AppError {
	return newAppError(ErrorTypeUnknownTool, fmt.Errorf("Unknown tool: %s", name), "").
		WithField("tool", name)
}

// CollaboratorError wraps a failure returned by an external collaborator.
// The collaborator's message is kept as the error text.
func CollaboratorError(err error) *AppError {
	return newAppError(ErrorTypeCollaborator, err, "")
}

// TransportError creates a new transport error
func TransportError(err error, message string) *AppError {
	return newAppError(ErrorTypeTransport, err, message)
}

// DatabaseError creates a new database error
func DatabaseError(err error, message string) *AppError {
	return newAppError(ErrorTypeDatabase, err, message)
}

// NetworkError creates a new network error
func NetworkError(err error, message string) *AppError {
	return newAppError(ErrorTypeNetwork, err, message)
}

// ConfigError creates a new configuration error
func ConfigError(err error, message string) *AppError {
	return newAppError(ErrorTypeConfig, err, message)
}

// InternalError creates a new internal error
func InternalError(err error, message string) *AppError {
	return newAppError(ErrorTypeInternal, err, message)
}

// LogError logs an AppError using the provided slog.Logger or the default slog logger.
// It logs the error message, type, stack trace, and any associated fields.
func LogError(logger *slog.Logger, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		args := []any{
			"type", string(appErr.Type),
			"original_error", appErr.Err.Error(),
		}
		if appErr.StackInfo != "" {
			args = append(args, "stack", appErr.StackInfo)
		}
		for k, v := range appErr.Fields {
			args = append(args, k, v)
		}
		msg := appErr.Message
		if msg == "" {
			msg = appErr.Err.Error()
		}
		logger.Error(msg, args...)
	} else {
		logger.Error(err.Error(), "error", err)
	}
}

// TypeOf returns the ErrorType of err, or the empty string for non-AppErrors.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return TypeOf(err) == ErrorTypeValidation
}

// IsUnknownToolError checks if an error reports an unregistered tool
func IsUnknownToolError(err error) bool {
	return TypeOf(err) == ErrorTypeUnknownTool
}

// IsCollaboratorError checks if an error came from the store or the broadcast channel
func IsCollaboratorError(err error) bool {
	return TypeOf(err) == ErrorTypeCollaborator
}

// IsDatabaseError checks if an error is a database error
func IsDatabaseError(err error) bool {
	return TypeOf(err) == ErrorTypeDatabase
}

// IsNetworkError checks if an error is a network error
func IsNetworkError(err error) bool {
	return TypeOf(err) == ErrorTypeNetwork
}

// FieldMessages returns the string-valued fields of a validation error, keyed by field name.
func FieldMessages(err error) map[string]string {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return nil
	}
	out := make(map[string]string, len(appErr.Fields))
	for k, v := range appErr.Fields {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
