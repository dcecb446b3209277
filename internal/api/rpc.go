package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/quarryd/quarry/internal/domain"
	"github.com/quarryd/quarry/internal/handler"
	"github.com/quarryd/quarry/internal/queue"
	"github.com/quarryd/quarry/internal/storage"
)

// JSON-RPC 2.0 protocol codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

// rpcRequest is a JSON-RPC 2.0 call envelope.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// rpcError carries the error kind in Message so callers can branch on a
// stable prefix.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcResponse is a JSON-RPC 2.0 reply envelope.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

func resultResponse(id json.RawMessage, result any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", Result: result, ID: id}
}

func errorResponse(id json.RawMessage, code int, message string) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: code, Message: message}, ID: id}
}

// kindOf maps an error to its stable taxonomy tag.
func kindOf(err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return "NotFound"
	case errors.Is(err, storage.ErrReadOnly):
		return "ReadOnly"
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidSchedule),
		errors.Is(err, handler.ErrUnknownHandler):
		return "ValidationError"
	case errors.Is(err, queue.ErrTaskActive):
		return "TaskHasActiveRun"
	case errors.Is(err, queue.ErrTaskFinished):
		return "TaskFinished"
	case errors.Is(err, storage.ErrUnavailable):
		return "StorageUnavailable"
	default:
		return "InternalError"
	}
}

func methodError(id json.RawMessage, err error) rpcResponse {
	return errorResponse(id, codeServerError, fmt.Sprintf("%s: %v", kindOf(err), err))
}
