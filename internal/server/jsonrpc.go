package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/localrivet/synk/internal/errortypes"
	"github.com/localrivet/synk/internal/registry"
)

const jsonRPCVersion = "2.0"

// JSON-RPC error codes
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// MCP protocol revisions this server speaks, newest first.
var supportedProtocolVersions = []string{"2025-06-18", "2025-03-26", "2024-11-05"}

// LatestProtocolVersion is answered when a client asks for a revision we do not know.
const LatestProtocolVersion = "2025-06-18"

// MCP methods
const (
	methodInitialize = "initialize"
	methodPing       = "ping"
	methodToolsList  = "tools/list"
	methodToolsCall  = "tools/call"

	methodLogNotification = "notifications/message"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// hasID reports whether the message expects a response.
func (r rpcRequest) hasID() bool {
	id := bytes.TrimSpace(r.ID)
	return len(id) > 0 && !bytes.Equal(id, []byte("null"))
}

// isClientResponse reports whether the message answers a server request.
func (r rpcRequest) isClientResponse() bool {
	return r.Method == "" && (len(r.Result) > 0 || len(r.Error) > 0)
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

var nullID = json.RawMessage("null")

func newResult(id json.RawMessage, result interface{}) *rpcResponse {
	return &rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
}

func newError(id json.RawMessage, code int, msg string, data interface{}) *rpcResponse {
	if len(id) == 0 {
		id = nullID
	}
	return &rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Error: &rpcError{Code: code, Message: msg, Data: data}}
}

type implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ClientInfo      implementation `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      implementation         `json:"serverInfo"`
}

type toolsListResult struct {
	Tools []registry.ToolInfo `json:"tools"`
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// errParse marks a body that is not JSON at all.
var errParse = errors.New("parse error")

// parseMessages decodes a single message or a batch. batch reports whether
// the body was an array. A nil response slot means the element decoded.
func parseMessages(body []byte) (msgs []rpcRequest, invalid []*rpcResponse, batch bool, err error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, nil, false, errParse
	}

	if trimmed[0] != '[' {
		var msg rpcRequest
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			return nil, []*rpcResponse{newError(nil, codeInvalidRequest, "Invalid Request", nil)}, false, nil
		}
		return []rpcRequest{msg}, nil, false, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(trimmed, &raws); err != nil {
		return nil, nil, true, errParse
	}
	if len(raws) == 0 {
		return nil, []*rpcResponse{newError(nil, codeInvalidRequest, "Invalid Request", "empty batch")}, true, nil
	}
	for _, raw := range raws {
		var msg rpcRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			invalid = append(invalid, newError(nil, codeInvalidRequest, "Invalid Request", nil))
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, invalid, true, nil
}

// negotiateVersion answers the client's revision when we support it.
func negotiateVersion(requested string) string {
	for _, v := range supportedProtocolVersions {
		if v == requested {
			return v
		}
	}
	return LatestProtocolVersion
}

// dispatch handles one message. It returns nil for notifications and client
// responses. newSession is set when the message opened a session.
func (e *Endpoint) dispatch(ctx context.Context, msg rpcRequest) (resp *rpcResponse, newSession string) {
	if msg.isClientResponse() {
		return nil, ""
	}
	if msg.JSONRPC != jsonRPCVersion || msg.Method == "" {
		if !msg.hasID() {
			return nil, ""
		}
		return newError(msg.ID, codeInvalidRequest, "Invalid Request", nil), ""
	}
	if !msg.hasID() {
		e.logger.Debug("Received notification", "method", msg.Method)
		return nil, ""
	}

	switch msg.Method {
	case methodInitialize:
		var params initializeParams
		if len(msg.Params) > 0 {
			if err := json.Unmarshal(msg.Params, &params); err != nil {
				return newError(msg.ID, codeInvalidParams, "Invalid params", err.Error()), ""
			}
		}
		session := uuid.NewString()
		e.logger.Info("Client initialized",
			"client", params.ClientInfo.Name,
			"client_version", params.ClientInfo.Version,
			"protocol_version", params.ProtocolVersion,
			"session_id", session)
		return newResult(msg.ID, initializeResult{
			ProtocolVersion: negotiateVersion(params.ProtocolVersion),
			Capabilities: map[string]interface{}{
				"tools":   map[string]interface{}{"listChanged": false},
				"logging": map[string]interface{}{},
			},
			ServerInfo: e.info,
		}), session

	case methodPing:
		return newResult(msg.ID, struct{}{}), ""

	case methodToolsList:
		return newResult(msg.ID, toolsListResult{Tools: e.registry.List()}), ""

	case methodToolsCall:
		var params toolsCallParams
		if err := json.Unmarshal(msg.Params, &params); err != nil || params.Name == "" {
			return newError(msg.ID, codeInvalidParams, "Invalid params", "tools/call requires a tool name"), ""
		}
		return e.callTool(ctx, msg.ID, params), ""

	default:
		return newError(msg.ID, codeMethodNotFound, "Method not found: "+msg.Method, nil), ""
	}
}

// callTool maps one tools/call to exactly one registry invocation.
// Unknown tools and invalid arguments are protocol errors; handler failures
// are reported in-band as an error result carrying the collaborator's message.
func (e *Endpoint) callTool(ctx context.Context, id json.RawMessage, params toolsCallParams) *rpcResponse {
	result, err := e.registry.Invoke(ctx, params.Name, params.Arguments)
	switch {
	case err == nil:
		return newResult(id, result)
	case errortypes.IsUnknownToolError(err):
		return newError(id, codeInvalidParams, err.Error(), nil)
	case errortypes.IsValidationError(err):
		return newError(id, codeInvalidParams, err.Error(), errortypes.FieldMessages(err))
	default:
		return newResult(id, registry.ErrorResult(err.Error()))
	}
}
