// Package tools defines the tool contracts exposed by synk: names,
// input schemas and the typed validators that turn raw arguments
// into requests.
package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/localrivet/synk/internal/errortypes"
)

const (
	// ToolReadSyncState is the name of the read_sync_state tool
	ToolReadSyncState = "read_sync_state"

	// ToolTriggerBroadcast is the name of the trigger_broadcast tool
	ToolTriggerBroadcast = "trigger_broadcast"

	// DefaultReadLimit is the number of records returned when a
	// read_sync_state request does not specify a limit
	DefaultReadLimit = 10

	// BroadcastTopic is the channel every code update is published to
	BroadcastTopic = "synk-stream"

	// BroadcastEvent is the event tag code updates are published under
	BroadcastEvent = "code_update"

	// ManualUpdateEvent is the payload event of broadcasts triggered by a tool call
	ManualUpdateEvent = "manual_update"
)

// Tool descriptions as advertised in tools/list.
const (
	ReadSyncStateDescription    = "Read the most recent code synchronization events, newest first, optionally for a single file"
	TriggerBroadcastDescription = "Broadcast a code update to every agent listening on the sync stream"
)

// ReadSyncStateRequest is the validated input of read_sync_state
type ReadSyncStateRequest struct {
	// Limit is the maximum number of records to return
	Limit int `json:"limit"`

	// Filename restricts the result to one file when set
	Filename *string `json:"filename,omitempty"`
}

// TriggerBroadcastRequest is the validated input of trigger_broadcast
type TriggerBroadcastRequest struct {
	// Filename is the file the update applies to
	Filename string `json:"filename"`

	// Content is the change itself; it is published as the payload delta
	Content string `json:"content"`

	// Summary is a short human readable description of the change
	Summary string `json:"summary"`
}

// ReadSyncStateSchema returns the JSON schema of read_sync_state's input.
func ReadSyncStateSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":        "integer",
				"minimum":     0,
				"default":     DefaultReadLimit,
				"description": "Maximum number of records to return",
			},
			"filename": map[string]interface{}{
				"type":        "string",
				"description": "Only return records for this file",
			},
		},
	}
}

// TriggerBroadcastSchema returns the JSON schema of trigger_broadcast's input.
func TriggerBroadcastSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filename": map[string]interface{}{
				"type":        "string",
				"description": "File the update applies to",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The code change to broadcast",
			},
			"summary": map[string]interface{}{
				"type":        "string",
				"description": "Short description of the change",
			},
		},
		"required": []string{"filename", "content", "summary"},
	}
}

// fieldErrors collects field-level validation messages.
type fieldErrors map[string]string

func (f fieldErrors) err(tool string) error {
	if len(f) == 0 {
		return nil
	}

	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	fields := make(map[string]interface{}, len(f))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, f[name]))
		fields[name] = f[name]
	}

	return errortypes.ValidationError(errors.New(strings.Join(parts, "; ")),
		fmt.Sprintf("invalid arguments for tool %s", tool)).WithFields(fields)
}

// decodeArguments splits raw arguments into fields. Empty input and JSON null
// are treated as an empty object.
func decodeArguments(tool string, raw json.RawMessage) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]json.RawMessage{}, nil
	}

	var args map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &args); err != nil {
		return nil, fieldErrors{"arguments": "expected an object"}.err(tool)
	}
	if args == nil {
		args = map[string]json.RawMessage{}
	}
	return args, nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodeString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// decodeLimit accepts a non-negative JSON number with no fractional part.
func decodeLimit(raw json.RawMessage) (int, string) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return 0, "expected number"
	}
	num, ok := v.(json.Number)
	if !ok {
		return 0, "expected number"
	}
	f, err := num.Float64()
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, "expected number"
	}
	if f != math.Trunc(f) {
		return 0, "expected integer"
	}
	if f < 0 {
		return 0, "must be greater than or equal to 0"
	}
	if f > math.MaxInt32 {
		return 0, "too large"
	}
	return int(f), ""
}

// ValidateReadSyncState validates read_sync_state arguments and applies defaults.
// An empty filename is treated as no filter.
func ValidateReadSyncState(raw json.RawMessage) (ReadSyncStateRequest, error) {
	args, err := decodeArguments(ToolReadSyncState, raw)
	if err != nil {
		return ReadSyncStateRequest{}, err
	}

	req := ReadSyncStateRequest{Limit: DefaultReadLimit}
	problems := fieldErrors{}

	if v, ok := args["limit"]; ok && !isAbsent(v) {
		limit, msg := decodeLimit(v)
		if msg != "" {
			problems["limit"] = msg
		} else {
			req.Limit = limit
		}
	}

	if v, ok := args["filename"]; ok && !isAbsent(v) {
		s, ok := decodeString(v)
		if !ok {
			problems["filename"] = "expected string"
		} else if s != "" {
			req.Filename = &s
		}
	}

	if err := problems.err(ToolReadSyncState); err != nil {
		return ReadSyncStateRequest{}, err
	}
	return req, nil
}

// ValidateTriggerBroadcast validates trigger_broadcast arguments. All three
// fields are required strings; empty strings are allowed.
func ValidateTriggerBroadcast(raw json.RawMessage) (TriggerBroadcastRequest, error) {
	args, err := decodeArguments(ToolTriggerBroadcast, raw)
	if err != nil {
		return TriggerBroadcastRequest{}, err
	}

	var req TriggerBroadcastRequest
	problems := fieldErrors{}

	for _, field := range []struct {
		name string
		dst  *string
	}{
		{"filename", &req.Filename},
		{"content", &req.Content},
		{"summary", &req.Summary},
	} {
		v, ok := args[field.name]
		if !ok || isAbsent(v) {
			problems[field.name] = "required"
			continue
		}
		s, ok := decodeString(v)
		if !ok {
			problems[field.name] = "expected string"
			continue
		}
		*field.dst = s
	}

	if err := problems.err(ToolTriggerBroadcast); err != nil {
		return TriggerBroadcastRequest{}, err
	}
	return req, nil
}
