package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the adapter layer.
var (
	ErrInvalidURL      = fmt.Errorf("invalid url")
	ErrInvalidResponse = fmt.Errorf("invalid response")
	ErrDecoding        = fmt.Errorf("decoding failed")
	ErrEncoding        = fmt.Errorf("encoding failed")
	ErrNetwork         = fmt.Errorf("network failure")
)

// Sentinel errors for the MCP layer.
var (
	ErrInvalidConfiguration = fmt.Errorf("invalid mcp configuration")
	ErrTransportUnavailable = fmt.Errorf("transport unavailable")
	ErrProtocolViolation    = fmt.Errorf("protocol violation")
	ErrDisconnected         = fmt.Errorf("disconnected")
	ErrNotImplemented       = fmt.Errorf("not implemented")
)

// Sentinel errors shared across services.
var (
	ErrNotFound          = fmt.Errorf("not found")
	ErrDisabled          = fmt.Errorf("disabled")
	ErrToolNotFound      = fmt.Errorf("tool not found")
	ErrStore             = fmt.Errorf("store operation failed")
	ErrMaxToolIterations = fmt.Errorf("tool loop reached max iterations")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "Engine.SendMessage")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeInvalidURL       ErrorCode = "INVALID_URL"
	CodeInvalidResponse  ErrorCode = "INVALID_RESPONSE"
	CodeDecoding         ErrorCode = "DECODING"
	CodeEncoding         ErrorCode = "ENCODING"
	CodeNetwork          ErrorCode = "NETWORK"
	CodeMCPConfig        ErrorCode = "MCP_CONFIG"
	CodeMCPTransport     ErrorCode = "MCP_TRANSPORT"
	CodeMCPProtocol      ErrorCode = "MCP_PROTOCOL"
	CodeMCPDisconnected  ErrorCode = "MCP_DISCONNECTED"
	CodeNotImplemented   ErrorCode = "NOT_IMPLEMENTED"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDisabled         ErrorCode = "DISABLED"
	CodeToolNotFound     ErrorCode = "TOOL_NOT_FOUND"
	CodeStore            ErrorCode = "STORE"
	CodeMaxToolIteration ErrorCode = "MAX_TOOL_ITERATIONS"
)

var errorCodeMap = map[error]ErrorCode{
	ErrInvalidURL:           CodeInvalidURL,
	ErrInvalidResponse:      CodeInvalidResponse,
	ErrDecoding:             CodeDecoding,
	ErrEncoding:             CodeEncoding,
	ErrNetwork:              CodeNetwork,
	ErrInvalidConfiguration: CodeMCPConfig,
	ErrTransportUnavailable: CodeMCPTransport,
	ErrProtocolViolation:    CodeMCPProtocol,
	ErrDisconnected:         CodeMCPDisconnected,
	ErrNotImplemented:       CodeNotImplemented,
	ErrNotFound:             CodeNotFound,
	ErrDisabled:             CodeDisabled,
	ErrToolNotFound:         CodeToolNotFound,
	ErrStore:                CodeStore,
	ErrMaxToolIterations:    CodeMaxToolIteration,
}

// ErrorCodeOf returns the machine-parseable code for the given error.
// It unwraps DomainError and walks the chain with errors.Is.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}
