// Package mcpserver exposes gopm to language models over the Model
// Context Protocol. Tools proxy through the IPC client to the daemon
// and return JSON text content.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gopm-io/gopm/internal/config"
	"github.com/gopm-io/gopm/internal/protocol"
)

// Backend is the slice of the IPC client the tools call.
type Backend interface {
	Start(spec protocol.ProcessSpec) ([]protocol.ProcessInfo, error)
	Stop(name string) (string, error)
	Restart(name string) (*protocol.ProcessInfo, error)
	Delete(name string) (string, error)
	List() ([]protocol.ProcessInfo, error)
	Logs(name string, query protocol.LogQuery) ([]protocol.LogEntry, error)
	Status() (*protocol.DaemonStatus, error)
}

// MCPServer wires gopm tools into an mcp-go stdio server.
type MCPServer struct {
	backend   Backend
	mcpServer *server.MCPServer
}

// New creates an MCP server with all gopm tools registered.
func New(backend Backend, version string) *MCPServer {
	srv := server.NewMCPServer(
		"gopm",
		version,
		server.WithToolCapabilities(true),
	)

	s := &MCPServer{
		backend:   backend,
		mcpServer: srv,
	}
	s.registerTools()
	return s
}

func (s *MCPServer) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("list_processes",
			mcp.WithDescription("List all managed processes with status, CPU, memory, and restart counts"),
		),
		s.handleListProcesses,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_logs",
			mcp.WithDescription("Fetch buffered log lines for a process"),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Process name"),
			),
			mcp.WithNumber("lines",
				mcp.Description("Number of most recent lines to return"),
			),
			mcp.WithString("stream",
				mcp.Description("Stream filter"),
				mcp.Enum("stdout", "stderr", "both"),
			),
			mcp.WithString("pattern",
				mcp.Description("Regex pattern to filter lines"),
			),
		),
		s.handleGetLogs,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("start_process",
			mcp.WithDescription("Launch a new managed process"),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Unique process name"),
			),
			mcp.WithString("command",
				mcp.Required(),
				mcp.Description("Shell command to run"),
			),
			mcp.WithString("cwd",
				mcp.Description("Working directory"),
			),
			mcp.WithBoolean("autorestart",
				mcp.Description("Restart the process automatically when it exits"),
			),
			mcp.WithString("max_memory",
				mcp.Description("Memory limit that triggers a restart, e.g. 100MB or 1GB"),
			),
			mcp.WithNumber("instances",
				mcp.Description("Number of instances to launch"),
			),
		),
		s.handleStartProcess,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("control_process",
			mcp.WithDescription("Stop, restart, or delete a managed process"),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Process name"),
			),
			mcp.WithString("action",
				mcp.Required(),
				mcp.Description("Action to perform"),
				mcp.Enum("stop", "restart", "delete"),
			),
		),
		s.handleControlProcess,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("daemon_status",
			mcp.WithDescription("Report daemon version, uptime, process counts, and buffer usage"),
		),
		s.handleDaemonStatus,
	)
}

// Serve runs the MCP server over stdio until the stream closes.
func (s *MCPServer) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *MCPServer) handleListProcesses(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	infos, err := s.backend.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	return jsonResult(map[string]interface{}{
		"processes": infos,
		"count":     len(infos),
	})
}

func (s *MCPServer) handleGetLogs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	name, ok := args["name"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("name parameter is required")
	}

	var query protocol.LogQuery
	if lines, ok := args["lines"].(float64); ok {
		query.Lines = int(lines)
	}
	if stream, ok := args["stream"].(string); ok {
		query.Stream = protocol.StreamType(stream)
	}
	if pattern, ok := args["pattern"].(string); ok {
		query.Pattern = pattern
	}

	logs, err := s.backend.Logs(name, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	return jsonResult(map[string]interface{}{
		"name":  name,
		"logs":  logs,
		"count": len(logs),
	})
}

func (s *MCPServer) handleStartProcess(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	name, ok := args["name"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("name parameter is required")
	}
	command, ok := args["command"].(string)
	if !ok || command == "" {
		return nil, fmt.Errorf("command parameter is required")
	}

	spec := protocol.ProcessSpec{
		Name:    name,
		Command: command,
	}
	if cwd, ok := args["cwd"].(string); ok {
		spec.Cwd = cwd
	}
	if autorestart, ok := args["autorestart"].(bool); ok {
		spec.Autorestart = autorestart
	}
	if maxMemory, ok := args["max_memory"].(string); ok && maxMemory != "" {
		size, err := config.ParseSize(maxMemory)
		if err != nil {
			return nil, fmt.Errorf("invalid max_memory: %w", err)
		}
		spec.MaxMemory = size
	}
	if instances, ok := args["instances"].(float64); ok {
		spec.Instances = int(instances)
	}

	infos, err := s.backend.Start(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}
	return jsonResult(map[string]interface{}{
		"message":   fmt.Sprintf("Started %d process(es)", len(infos)),
		"processes": infos,
	})
}

func (s *MCPServer) handleControlProcess(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	name, ok := args["name"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("name parameter is required")
	}
	action, ok := args["action"].(string)
	if !ok {
		return nil, fmt.Errorf("action parameter is required")
	}

	switch action {
	case "stop":
		msg, err := s.backend.Stop(name)
		if err != nil {
			return nil, fmt.Errorf("failed to stop process: %w", err)
		}
		return jsonResult(map[string]interface{}{"message": msg})
	case "restart":
		info, err := s.backend.Restart(name)
		if err != nil {
			return nil, fmt.Errorf("failed to restart process: %w", err)
		}
		return jsonResult(map[string]interface{}{
			"message": fmt.Sprintf("Restarted '%s'", info.Name),
			"process": info,
		})
	case "delete":
		msg, err := s.backend.Delete(name)
		if err != nil {
			return nil, fmt.Errorf("failed to delete process: %w", err)
		}
		return jsonResult(map[string]interface{}{"message": msg})
	default:
		return nil, fmt.Errorf("unsupported action: %s", action)
	}
}

func (s *MCPServer) handleDaemonStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.backend.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to get daemon status: %w", err)
	}
	return jsonResult(status)
}

// jsonResult wraps a payload as indented JSON text content.
func jsonResult(payload interface{}) (*mcp.CallToolResult, error) {
	resultJSON, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(resultJSON),
			},
		},
	}, nil
}
