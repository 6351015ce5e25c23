// Package protocol defines the JSON-RPC 2.0 message types spoken on the
// stdio channel. One JSON object per line; requests carry an opaque id that
// is echoed back verbatim on the matching response.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC protocol version accepted and emitted.
const Version = "2.0"

// Standard JSON-RPC 2.0 error codes, plus the server-defined tool error code.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeToolError covers failures inside a tool handler (sandbox setup,
	// file I/O, spawn errors). The taxonomy kind travels in ErrorData.Kind.
	CodeToolError = -32000
)

// Request is an incoming JSON-RPC call. ID is kept raw so that number and
// string identifiers round-trip byte-for-byte.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id and therefore
// expects no response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response is the reply to a single request. Exactly one of Result or Error
// is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the JSON-RPC error member.
type ErrorObject struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData carries the machine-readable error classification alongside the
// human-readable message.
type ErrorData struct {
	// Kind is the taxonomy kind (e.g. "UnknownTool", "NamespaceSetupFailed").
	Kind string `json:"kind"`
	// Field names the offending argument for "InvalidArguments" errors.
	Field string `json:"field,omitempty"`
}

// NewResponse builds a success response echoing the given id.
func NewResponse(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: Version, ID: normalizeID(id), Result: result}
}

// NewErrorResponse builds an error response echoing the given id.
func NewErrorResponse(id json.RawMessage, code int, message string, data *ErrorData) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      normalizeID(id),
		Error:   &ErrorObject{Code: code, Message: message, Data: data},
	}
}

// normalizeID maps a missing id to explicit JSON null so that error responses
// for unparseable requests still serialize a valid id member.
func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// ParseError marks a line that could not be decoded as a Request. The serve
// loop answers it with CodeParseError and keeps reading.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
