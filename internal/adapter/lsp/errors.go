package lsp

import (
	"errors"
	"fmt"
)

// Sentinel errors for session operations.
var (
	// ErrStartup indicates the server could not be spawned or did not
	// complete the initialize handshake.
	ErrStartup = errors.New("lsp startup failed")

	// ErrTimeout indicates a request exceeded its deadline. The session stays usable.
	ErrTimeout = errors.New("lsp request timeout")

	// ErrProtocol indicates malformed framing or an undecodable message.
	// The session is terminated when this occurs on the read side.
	ErrProtocol = errors.New("lsp protocol error")

	// ErrServerNotRunning indicates the session is not in the ready state.
	ErrServerNotRunning = errors.New("lsp server not running")

	// ErrUnsupported indicates the server did not advertise the capability.
	ErrUnsupported = errors.New("capability not supported by server")
)

// JSON-RPC and LSP error codes.
const (
	CodeParseError           = -32700
	CodeInvalidRequest       = -32600
	CodeMethodNotFound       = -32601
	CodeInvalidParams        = -32602
	CodeInternalError        = -32603
	CodeServerNotInitialized = -32002
	CodeContentModified      = -32801
	CodeRequestCancelled     = -32800
)

// ResponseError is a JSON-RPC error object returned by the server.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("jsonrpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// IsMethodNotFound returns true if the method is not supported by the server.
func (e *ResponseError) IsMethodNotFound() bool {
	return e.Code == CodeMethodNotFound
}

// IsRequestCancelled returns true if the request was cancelled.
func (e *ResponseError) IsRequestCancelled() bool {
	return e.Code == CodeRequestCancelled
}

// IsContentModified returns true if the document changed while the server
// computed the answer.
func (e *ResponseError) IsContentModified() bool {
	return e.Code == CodeContentModified
}
