// Package errors provides structured error types for gopm.
//
// Errors are categorized by subsystem (process, daemon, network, ...)
// and carry a stable code that maps directly onto protocol error
// responses, so the daemon can answer IPC requests with the same
// classification the CLI prints.
package errors

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"syscall"
	"time"

	"github.com/gopm-io/gopm/internal/protocol"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeProcess    ErrorType = "process"
	ErrorTypeDaemon     ErrorType = "daemon"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeFile       ErrorType = "file"
	ErrorTypeProtocol   ErrorType = "protocol"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeInternal   ErrorType = "internal"
)

// GopmError is the base error type for all gopm errors
type GopmError struct {
	Type       ErrorType
	Code       string
	Message    string
	Underlying error
	Details    map[string]interface{}
	StackTrace []string
	Timestamp  time.Time
}

// Error implements the error interface
func (e *GopmError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Type, e.Code, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *GopmError) Unwrap() error {
	return e.Underlying
}

// Is checks if the error matches another error by type and code
func (e *GopmError) Is(target error) bool {
	if t, ok := target.(*GopmError); ok {
		return e.Type == t.Type && e.Code == t.Code
	}
	return false
}

// ToResponse converts the error to a protocol error response
func (e *GopmError) ToResponse(requestID string) *protocol.ResponseMessage {
	return protocol.NewErrorResponse(requestID, e.Code, e.Message)
}

// WithDetails returns a copy of the error with a detail entry added.
// The copy keeps the predefined error instances immutable.
func (e *GopmError) WithDetails(key string, value interface{}) *GopmError {
	c := *e
	c.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		c.Details[k] = v
	}
	c.Details[key] = value
	return &c
}

// WithProcess tags the error with the process name it concerns
func (e *GopmError) WithProcess(name string) *GopmError {
	return e.WithDetails("process", name)
}

// Common error constructors

// ProcessError creates a process-related error
func ProcessError(code, message string, underlying error) *GopmError {
	return &GopmError{
		Type:       ErrorTypeProcess,
		Code:       code,
		Message:    message,
		Underlying: underlying,
	}
}

// DaemonError creates a daemon-related error
func DaemonError(code, message string, underlying error) *GopmError {
	return &GopmError{
		Type:       ErrorTypeDaemon,
		Code:       code,
		Message:    message,
		Underlying: underlying,
	}
}

// NetworkError creates a network-related error
func NetworkError(code, message string, underlying error) *GopmError {
	return &GopmError{
		Type:       ErrorTypeNetwork,
		Code:       code,
		Message:    message,
		Underlying: underlying,
	}
}

// ValidationError creates a validation error
func ValidationError(code, message string, underlying error) *GopmError {
	return &GopmError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		Underlying: underlying,
	}
}

// FileError creates a file-related error
func FileError(code, message string, underlying error) *GopmError {
	return &GopmError{
		Type:       ErrorTypeFile,
		Code:       code,
		Message:    message,
		Underlying: underlying,
	}
}

// ProtocolError creates a protocol-related error
func ProtocolError(code, message string, underlying error) *GopmError {
	return &GopmError{
		Type:       ErrorTypeProtocol,
		Code:       code,
		Message:    message,
		Underlying: underlying,
	}
}

// ConfigError creates a configuration error
func ConfigError(code, message string, underlying error) *GopmError {
	return &GopmError{
		Type:       ErrorTypeConfig,
		Code:       code,
		Message:    message,
		Underlying: underlying,
	}
}

// TimeoutError creates a timeout error
func TimeoutError(code, message string, underlying error) *GopmError {
	return &GopmError{
		Type:       ErrorTypeTimeout,
		Code:       code,
		Message:    message,
		Underlying: underlying,
	}
}

// InternalError creates an internal error
func InternalError(code, message string, underlying error) *GopmError {
	return &GopmError{
		Type:       ErrorTypeInternal,
		Code:       code,
		Message:    message,
		Underlying: underlying,
	}
}

// Predefined error instances

var (
	// Process errors
	ErrProcessNotFound   = ProcessError(protocol.ErrorCodeProcessNotFound, "Process not found", nil)
	ErrProcessExists     = ProcessError(protocol.ErrorCodeProcessExists, "Process already exists", nil)
	ErrProcessNotRunning = ProcessError(protocol.ErrorCodeProcessNotRunning, "Process is not running", nil)
	ErrSpawnFailed       = ProcessError(protocol.ErrorCodeSpawnFailed, "Failed to spawn process", nil)
	ErrMaxProcesses      = ProcessError(protocol.ErrorCodeMaxProcesses, "Process limit reached", nil)

	// Daemon errors
	ErrDaemonNotRunning     = DaemonError("DAEMON_NOT_RUNNING", "Daemon is not running", nil)
	ErrDaemonAlreadyRunning = DaemonError("DAEMON_ALREADY_RUNNING", "Daemon is already running", nil)
	ErrDaemonShuttingDown   = DaemonError("DAEMON_SHUTTING_DOWN", "Daemon is shutting down", nil)

	// Network errors
	ErrConnectionLost    = NetworkError(protocol.ErrorCodeConnectionLost, "Connection lost", nil)
	ErrConnectionRefused = NetworkError("CONNECTION_REFUSED", "Connection refused", nil)
	ErrRequestTimeout    = TimeoutError(protocol.ErrorCodeTimeout, "Request timed out", nil)

	// Protocol errors
	ErrInvalidMessage = ProtocolError(protocol.ErrorCodeInvalidMessage, "Invalid message format", nil)
	ErrInvalidAction  = ProtocolError(protocol.ErrorCodeInvalidAction, "Invalid action", nil)

	// Validation errors
	ErrInvalidSpec = ValidationError(protocol.ErrorCodeInvalidSpec, "Invalid process spec", nil)

	// File errors
	ErrSnapshotNotFound = FileError(protocol.ErrorCodeSnapshotNotFound, "No saved process snapshot", nil)

	// Internal errors
	ErrInternal = InternalError(protocol.ErrorCodeInternalError, "Internal error", nil)
)

// Helper functions to classify standard Go errors

// ClassifyError attempts to classify a standard Go error into a gopm error
func ClassifyError(err error) *GopmError {
	if err == nil {
		return nil
	}

	if gopmErr, ok := err.(*GopmError); ok {
		return gopmErr
	}

	switch {
	case os.IsNotExist(err):
		return FileError("FILE_NOT_FOUND", "File not found", err)
	case os.IsPermission(err):
		return FileError("PERMISSION_DENIED", "Permission denied", err)
	case os.IsTimeout(err):
		return TimeoutError(protocol.ErrorCodeTimeout, "Operation timeout", err)
	case isProcessError(err):
		return ProcessError("PROCESS_ERROR", "Process error", err)
	case isNetworkError(err):
		return NetworkError("NETWORK_ERROR", "Network error", err)
	default:
		return InternalError("UNKNOWN_ERROR", "Unknown error", err)
	}
}

// isNetworkError checks if the error is network-related
func isNetworkError(err error) bool {
	if _, ok := err.(net.Error); ok {
		return true
	}
	if _, ok := err.(*net.OpError); ok {
		return true
	}
	return false
}

// isProcessError checks if the error is process-related
func isProcessError(err error) bool {
	if errno, ok := err.(syscall.Errno); ok {
		switch errno {
		case syscall.ESRCH, syscall.ECHILD, syscall.EPERM:
			return true
		}
	}
	return false
}

// WrapError wraps an existing error with additional context
func WrapError(err error, message string) *GopmError {
	if err == nil {
		return nil
	}

	classified := ClassifyError(err)
	if classified != nil {
		classified.Message = message + ": " + classified.Message
		return classified
	}

	return InternalError("WRAPPED_ERROR", message, err)
}

// NewErrorf creates a new gopm error with a formatted message
func NewErrorf(errorType ErrorType, code, format string, args ...interface{}) *GopmError {
	return &GopmError{
		Type:    errorType,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	if gopmErr, ok := err.(*GopmError); ok {
		return gopmErr.Type == errorType
	}
	return false
}

// IsCode checks if an error has a specific code
func IsCode(err error, code string) bool {
	if gopmErr, ok := err.(*GopmError); ok {
		return gopmErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error
func GetCode(err error) string {
	if gopmErr, ok := err.(*GopmError); ok {
		return gopmErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetType extracts the error type from an error
func GetType(err error) ErrorType {
	if gopmErr, ok := err.(*GopmError); ok {
		return gopmErr.Type
	}
	return ErrorTypeInternal
}

// newTracedError creates a gopm error with timestamp and stack trace
func newTracedError(errorType ErrorType, code, message string, underlying error) *GopmError {
	err := &GopmError{
		Type:       errorType,
		Code:       code,
		Message:    message,
		Underlying: underlying,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
	}

	err.StackTrace = captureStackTrace(2)

	return err
}

// captureStackTrace captures the current stack trace
func captureStackTrace(skip int) []string {
	var stack []string
	pc := make([]uintptr, 16)
	n := runtime.Callers(skip+1, pc)

	frames := runtime.CallersFrames(pc[:n])
	for {
		frame, more := frames.Next()
		stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		if !more {
			break
		}
	}

	return stack
}

// Traced creates an error of the given type with a captured stack trace.
// Used at daemon boundaries where the failure site matters.
func Traced(errorType ErrorType, code, message string, underlying error) *GopmError {
	return newTracedError(errorType, code, message, underlying)
}

// Logging integration

// LogAttrs returns slog attributes for the error
func (e *GopmError) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("error_type", string(e.Type)),
		slog.String("error_code", e.Code),
		slog.String("error_message", e.Message),
	}

	if !e.Timestamp.IsZero() {
		attrs = append(attrs, slog.Time("error_timestamp", e.Timestamp))
	}

	if e.Underlying != nil {
		attrs = append(attrs, slog.String("underlying_error", e.Underlying.Error()))
	}

	for key, value := range e.Details {
		attrs = append(attrs, slog.Any(fmt.Sprintf("error_detail_%s", key), value))
	}

	if len(e.StackTrace) > 0 {
		maxFrames := 3
		if len(e.StackTrace) < maxFrames {
			maxFrames = len(e.StackTrace)
		}
		attrs = append(attrs, slog.Any("error_stack", e.StackTrace[:maxFrames]))
	}

	return attrs
}

// Recovery helpers for goroutines

// RecoverError recovers from a panic and converts it to a gopm error
func RecoverError() *GopmError {
	if r := recover(); r != nil {
		var err error
		if e, ok := r.(error); ok {
			err = e
		} else {
			err = fmt.Errorf("panic: %v", r)
		}

		return newTracedError(ErrorTypeInternal, "PANIC_RECOVERED",
			"Recovered from panic", err)
	}
	return nil
}

// WithRecover wraps a function call with panic recovery
func WithRecover(fn func() error) (err error) {
	defer func() {
		if recovered := RecoverError(); recovered != nil {
			err = recovered
		}
	}()

	return fn()
}
