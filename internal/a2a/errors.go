package a2a

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 error codes used by the protocol surface.
const (
	CodeInvalidRequest       = -32600
	CodeMethodNotFound       = -32601
	CodeInvalidParams        = -32602
	CodeInternal             = -32603
	CodeUnsupportedOperation = -32004
)

// Error is a protocol-level failure carrying a JSON-RPC error code. It
// doubles as the error member of a Response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("a2a error %d: %s", e.Code, e.Message)
}

// ErrInvalidParams builds an InvalidParams error.
func ErrInvalidParams(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// ErrUnsupportedOperation builds an error naming the unsupported method.
func ErrUnsupportedOperation(method string) *Error {
	return &Error{Code: CodeUnsupportedOperation, Message: fmt.Sprintf("unsupported operation: %s", method)}
}

// ErrMethodNotFound builds a MethodNotFound error.
func ErrMethodNotFound(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
}

// ErrInternal wraps an internal failure.
func ErrInternal(err error) *Error {
	return &Error{Code: CodeInternal, Message: err.Error()}
}

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResponse builds a success response for the given request id.
func NewResponse(id json.RawMessage, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

// NewErrorResponse builds an error response for the given request id.
// Non-protocol errors are wrapped as Internal.
func NewErrorResponse(id json.RawMessage, err error) Response {
	if rpcErr, ok := err.(*Error); ok {
		return Response{JSONRPC: "2.0", ID: id, Error: rpcErr}
	}
	return Response{JSONRPC: "2.0", ID: id, Error: ErrInternal(err)}
}
