package mcp

import (
	"encoding/json"
	"fmt"
)

// JSONRPCVersion is the only protocol version tag emitted.
const JSONRPCVersion = "2.0"

// JSON-RPC 2.0 error codes
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternal       = -32603
)

// Request represents a JSON-RPC request message. A nil ID marks a
// notification.
type Request struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id"`
	Method  string           `json:"method"`
	Params  json.RawMessage  `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Response represents a JSON-RPC response message. Exactly one of Result
// and Error is set.
type Response struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id"`
	Result  interface{}      `json:"result,omitempty"`
	Error   *Error           `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewResponse creates a successful response. A nil result is sent as an
// empty object so the result member is never dropped.
func NewResponse(id *json.RawMessage, result interface{}) *Response {
	if result == nil {
		result = struct{}{}
	}
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id *json.RawMessage, err *Error) *Response {
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   err,
	}
}

func NewParseError() *Error {
	return &Error{Code: ErrorCodeParseError, Message: "Parse error"}
}

func NewInvalidRequestError() *Error {
	return &Error{Code: ErrorCodeInvalidRequest, Message: "Invalid Request"}
}

func NewMethodNotFoundError(format string, args ...interface{}) *Error {
	return &Error{Code: ErrorCodeMethodNotFound, Message: fmt.Sprintf(format, args...)}
}

func NewInternalError(format string, args ...interface{}) *Error {
	return &Error{Code: ErrorCodeInternal, Message: fmt.Sprintf(format, args...)}
}
