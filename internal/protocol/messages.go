// Package protocol defines the message types exchanged between the gopm
// CLI and the gopm daemon.
//
// All IPC runs over a single WebSocket connection carrying JSON text
// frames. Three message kinds exist:
//
// Client to Daemon:
// - Request - one management operation (start, stop, list, logs, ...)
//
// Daemon to Client:
// - Response - the reply to a request, correlated by request id
// - Log - a live log line streamed to clients with an active follow
//
// Every request carries a client-generated request id; the daemon echoes
// it on the response so clients can multiplex requests over one
// connection.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of a message frame.
type MessageType string

const (
	MessageTypeRequest  MessageType = "request"
	MessageTypeResponse MessageType = "response"
	MessageTypeLog      MessageType = "log"
)

// Action identifies the management operation a request asks for.
type Action string

const (
	ActionStart     Action = "start"
	ActionStop      Action = "stop"
	ActionRestart   Action = "restart"
	ActionDelete    Action = "delete"
	ActionList      Action = "list"
	ActionInfo      Action = "info"
	ActionLogs      Action = "logs"
	ActionFollow    Action = "follow"
	ActionUnfollow  Action = "unfollow"
	ActionSave      Action = "save"
	ActionResurrect Action = "resurrect"
	ActionStatus    Action = "status"
	ActionShutdown  Action = "shutdown"
)

// ProcessStatus represents the lifecycle state of a managed process.
type ProcessStatus string

const (
	StatusRunning    ProcessStatus = "running"
	StatusStopped    ProcessStatus = "stopped"
	StatusErrored    ProcessStatus = "errored"
	StatusRestarting ProcessStatus = "restarting"
)

// StreamType identifies which output stream a log line came from.
type StreamType string

const (
	StreamStdout StreamType = "stdout"
	StreamStderr StreamType = "stderr"
	StreamBoth   StreamType = "both"
)

// Error codes used in error responses.
const (
	ErrorCodeProcessNotFound   = "PROCESS_NOT_FOUND"
	ErrorCodeProcessExists     = "PROCESS_EXISTS"
	ErrorCodeProcessNotRunning = "PROCESS_NOT_RUNNING"
	ErrorCodeSpawnFailed       = "SPAWN_FAILED"
	ErrorCodeMaxProcesses      = "MAX_PROCESSES"
	ErrorCodeInvalidMessage    = "INVALID_MESSAGE"
	ErrorCodeInvalidAction     = "INVALID_ACTION"
	ErrorCodeInvalidSpec       = "INVALID_SPEC"
	ErrorCodeSnapshotNotFound  = "SNAPSHOT_NOT_FOUND"
	ErrorCodeConnectionLost    = "CONNECTION_LOST"
	ErrorCodeTimeout           = "TIMEOUT"
	ErrorCodeInternalError     = "INTERNAL_ERROR"
)

// BaseMessage contains fields common to all message types.
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// ProcessSpec describes how to launch and supervise a process.
type ProcessSpec struct {
	Name        string            `json:"name"`
	Command     string            `json:"command"`
	Cwd         string            `json:"cwd,omitempty"`
	Instances   int               `json:"instances,omitempty"`
	Autorestart bool              `json:"autorestart"`
	MaxMemory   int64             `json:"max_memory,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
}

// ProcessInfo is a point-in-time snapshot of a managed process.
type ProcessInfo struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Status      ProcessStatus     `json:"status"`
	PID         int               `json:"pid,omitempty"`
	CPU         float64           `json:"cpu"`
	Memory      uint64            `json:"memory"`
	UptimeSecs  int64             `json:"uptime_secs"`
	Restarts    int               `json:"restarts"`
	Command     string            `json:"command"`
	Cwd         string            `json:"cwd,omitempty"`
	Autorestart bool              `json:"autorestart"`
	MaxMemory   int64             `json:"max_memory,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	LogFile     string            `json:"log_file,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	StoppedAt   *time.Time        `json:"stopped_at,omitempty"`
	ExitCode    *int              `json:"exit_code,omitempty"`
}

// LogEntry is one captured output line of a managed process.
type LogEntry struct {
	Name      string     `json:"name"`
	Line      string     `json:"line"`
	Stream    StreamType `json:"stream"`
	Timestamp time.Time  `json:"timestamp"`
}

// ProcessCounts breaks down the registry by status.
type ProcessCounts struct {
	Total      int `json:"total"`
	Running    int `json:"running"`
	Stopped    int `json:"stopped"`
	Errored    int `json:"errored"`
	Restarting int `json:"restarting"`
}

// DaemonStatus reports daemon-level health.
type DaemonStatus struct {
	Version         string        `json:"version"`
	PID             int           `json:"pid"`
	StartedAt       time.Time     `json:"started_at"`
	UptimeSecs      int64         `json:"uptime_secs"`
	Processes       ProcessCounts `json:"processes"`
	Connections     int           `json:"connections"`
	BufferedLines   int           `json:"buffered_lines"`
	BufferedBytes   int64         `json:"buffered_bytes"`
	RequestsHandled int64         `json:"requests_handled"`
	RequestErrors   int64         `json:"request_errors"`
}

// LogQuery narrows a logs request.
type LogQuery struct {
	Lines   int        `json:"lines,omitempty"`
	Stream  StreamType `json:"stream,omitempty"`
	Pattern string     `json:"pattern,omitempty"`
	Since   *time.Time `json:"since,omitempty"`
}

// RequestMessage asks the daemon to perform one operation.
type RequestMessage struct {
	BaseMessage
	RequestID string       `json:"request_id"`
	Action    Action       `json:"action"`
	Name      string       `json:"name,omitempty"`
	Spec      *ProcessSpec `json:"spec,omitempty"`
	Query     *LogQuery    `json:"query,omitempty"`
}

// ResponseMessage is the daemon's reply to a request.
type ResponseMessage struct {
	BaseMessage
	RequestID string        `json:"request_id"`
	Success   bool          `json:"success"`
	ErrorCode string        `json:"error_code,omitempty"`
	Error     string        `json:"error,omitempty"`
	Message   string        `json:"message,omitempty"`
	Processes []ProcessInfo `json:"processes,omitempty"`
	Process   *ProcessInfo  `json:"process,omitempty"`
	Logs      []LogEntry    `json:"logs,omitempty"`
	Daemon    *DaemonStatus `json:"daemon,omitempty"`
}

// LogMessage streams one live log line to a following client.
type LogMessage struct {
	BaseMessage
	Name   string     `json:"name"`
	Line   string     `json:"line"`
	Stream StreamType `json:"stream"`
}

// NewRequest creates a request for an action on a named process. The
// request id is generated here so callers can correlate the response.
func NewRequest(action Action, name string) *RequestMessage {
	return &RequestMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeRequest,
			Timestamp: time.Now(),
		},
		RequestID: uuid.New().String(),
		Action:    action,
		Name:      name,
	}
}

// NewStartRequest creates a start request carrying the process spec.
func NewStartRequest(spec ProcessSpec) *RequestMessage {
	req := NewRequest(ActionStart, spec.Name)
	req.Spec = &spec
	return req
}

// NewLogsRequest creates a logs request with query options.
func NewLogsRequest(name string, query LogQuery) *RequestMessage {
	req := NewRequest(ActionLogs, name)
	req.Query = &query
	return req
}

// NewFollowRequest creates a follow request for live log streaming.
func NewFollowRequest(name string, stream StreamType) *RequestMessage {
	req := NewRequest(ActionFollow, name)
	req.Query = &LogQuery{Stream: stream}
	return req
}

func newResponse(requestID string) *ResponseMessage {
	return &ResponseMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeResponse,
			Timestamp: time.Now(),
		},
		RequestID: requestID,
	}
}

// NewSuccessResponse creates a success response with a human message.
func NewSuccessResponse(requestID, message string) *ResponseMessage {
	resp := newResponse(requestID)
	resp.Success = true
	resp.Message = message
	return resp
}

// NewErrorResponse creates an error response with a code and message.
func NewErrorResponse(requestID, code, message string) *ResponseMessage {
	resp := newResponse(requestID)
	resp.ErrorCode = code
	resp.Error = message
	return resp
}

// NewListResponse creates a response carrying process snapshots.
func NewListResponse(requestID string, processes []ProcessInfo) *ResponseMessage {
	resp := newResponse(requestID)
	resp.Success = true
	resp.Processes = processes
	return resp
}

// NewInfoResponse creates a response carrying one process snapshot.
func NewInfoResponse(requestID string, info ProcessInfo) *ResponseMessage {
	resp := newResponse(requestID)
	resp.Success = true
	resp.Process = &info
	return resp
}

// NewLogsResponse creates a response carrying buffered log entries.
func NewLogsResponse(requestID string, logs []LogEntry) *ResponseMessage {
	resp := newResponse(requestID)
	resp.Success = true
	resp.Logs = logs
	return resp
}

// NewStatusResponse creates a response carrying daemon status.
func NewStatusResponse(requestID string, status DaemonStatus) *ResponseMessage {
	resp := newResponse(requestID)
	resp.Success = true
	resp.Daemon = &status
	return resp
}

// NewLogMessage creates a streamed log line message.
func NewLogMessage(name string, stream StreamType, line string, ts time.Time) *LogMessage {
	return &LogMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeLog,
			Timestamp: ts,
		},
		Name:   name,
		Line:   line,
		Stream: stream,
	}
}

// ParseMessage parses a JSON message frame into its concrete type.
func ParseMessage(data []byte) (interface{}, error) {
	var peek struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	switch peek.Type {
	case MessageTypeRequest:
		var msg RequestMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse request message: %w", err)
		}
		return &msg, nil
	case MessageTypeResponse:
		var msg ResponseMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse response message: %w", err)
		}
		return &msg, nil
	case MessageTypeLog:
		var msg LogMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse log message: %w", err)
		}
		return &msg, nil
	default:
		return nil, fmt.Errorf("unknown message type: %s", peek.Type)
	}
}

// SerializeMessage validates and then marshals a message to JSON.
func SerializeMessage(msg interface{}) ([]byte, error) {
	if err := ValidateMessage(msg); err != nil {
		return nil, fmt.Errorf("message validation failed: %w", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}
	return data, nil
}

// validActions is the set of actions the daemon dispatches on.
var validActions = map[Action]bool{
	ActionStart:     true,
	ActionStop:      true,
	ActionRestart:   true,
	ActionDelete:    true,
	ActionList:      true,
	ActionInfo:      true,
	ActionLogs:      true,
	ActionFollow:    true,
	ActionUnfollow:  true,
	ActionSave:      true,
	ActionResurrect: true,
	ActionStatus:    true,
	ActionShutdown:  true,
}

// actionsNeedingName lists per-process actions that require a name.
var actionsNeedingName = map[Action]bool{
	ActionStop:     true,
	ActionRestart:  true,
	ActionDelete:   true,
	ActionInfo:     true,
	ActionLogs:     true,
	ActionFollow:   true,
	ActionUnfollow: true,
}

// ValidateMessage checks that a message is well formed.
func ValidateMessage(msg interface{}) error {
	switch m := msg.(type) {
	case *RequestMessage:
		if m.RequestID == "" {
			return fmt.Errorf("request_id is required")
		}
		if !validActions[m.Action] {
			return fmt.Errorf("unknown action: %s", m.Action)
		}
		if m.Action == ActionStart {
			if m.Spec == nil {
				return fmt.Errorf("start request requires a spec")
			}
			return ValidateSpec(m.Spec)
		}
		if actionsNeedingName[m.Action] && m.Name == "" {
			return fmt.Errorf("action %s requires a process name", m.Action)
		}
		return nil
	case *ResponseMessage:
		if m.RequestID == "" {
			return fmt.Errorf("request_id is required")
		}
		if !m.Success && m.Error == "" {
			return fmt.Errorf("error responses require an error message")
		}
		return nil
	case *LogMessage:
		if m.Name == "" {
			return fmt.Errorf("name is required")
		}
		if m.Stream != StreamStdout && m.Stream != StreamStderr {
			return fmt.Errorf("invalid stream: %s", m.Stream)
		}
		return nil
	default:
		return fmt.Errorf("unknown message type: %T", msg)
	}
}

// ValidateSpec checks that a process spec can be started.
func ValidateSpec(spec *ProcessSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("spec requires a name")
	}
	if spec.Command == "" {
		return fmt.Errorf("spec requires a command")
	}
	if spec.Instances < 0 {
		return fmt.Errorf("instances cannot be negative")
	}
	if spec.MaxMemory < 0 {
		return fmt.Errorf("max_memory cannot be negative")
	}
	return nil
}

// ValidStatus reports whether s is a known process status.
func ValidStatus(s ProcessStatus) bool {
	switch s {
	case StatusRunning, StatusStopped, StatusErrored, StatusRestarting:
		return true
	}
	return false
}
