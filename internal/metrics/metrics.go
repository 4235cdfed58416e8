// Package metrics collects operational counters for the gopm daemon.
//
// The daemon owns one Monitor and funnels every client action through
// TrackOperation, so `gopm status` and the health endpoint can report
// how the daemon has been used:
// - Per-action counts and timings (start, stop, restart, logs, ...)
// - Error occurrences grouped by type and code
// - Client connection churn
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Monitor accumulates daemon metrics.
type Monitor struct {
	logger *slog.Logger
	mu     sync.RWMutex

	operations  map[string]*OperationMetrics
	errors      map[string]*ErrorMetrics
	connections *ConnectionMetrics
	startedAt   time.Time
}

// OperationMetrics tracks one action's execution history.
type OperationMetrics struct {
	Name            string        `json:"name"`
	Count           int64         `json:"count"`
	TotalDuration   time.Duration `json:"total_duration"`
	AverageDuration time.Duration `json:"average_duration"`
	MinDuration     time.Duration `json:"min_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
	LastExecution   time.Time     `json:"last_execution"`
	Errors          int64         `json:"errors"`
	Successes       int64         `json:"successes"`
}

// ErrorMetrics tracks occurrences of one error type and code.
type ErrorMetrics struct {
	Type         string    `json:"type"`
	Code         string    `json:"code"`
	Count        int64     `json:"count"`
	LastOccurred time.Time `json:"last_occurred"`
	Component    string    `json:"component"`
	Message      string    `json:"message"`
}

// ConnectionMetrics tracks client connection churn.
type ConnectionMetrics struct {
	ActiveConnections  int64         `json:"active_connections"`
	TotalConnections   int64         `json:"total_connections"`
	FailedConnections  int64         `json:"failed_connections"`
	AverageConnectTime time.Duration `json:"average_connect_time"`
	LastConnectTime    time.Time     `json:"last_connect_time"`
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		operations:  make(map[string]*OperationMetrics),
		errors:      make(map[string]*ErrorMetrics),
		connections: &ConnectionMetrics{},
		startedAt:   time.Now(),
	}
}

// SetLogger sets the logger used for metric events and summaries.
func (m *Monitor) SetLogger(logger *slog.Logger) {
	m.logger = logger.With(slog.String("component", "metrics"))
}

// Uptime returns how long this monitor has been collecting.
func (m *Monitor) Uptime() time.Duration {
	return time.Since(m.startedAt)
}

// TrackOperation runs fn and records its outcome under the named
// operation.
func (m *Monitor) TrackOperation(ctx context.Context, operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	duration := time.Since(start)

	m.recordOperation(operation, duration, err == nil)

	if m.logger != nil {
		level := slog.LevelDebug
		status := "success"
		if err != nil {
			level = slog.LevelWarn
			status = "error"
		}

		m.logger.LogAttrs(ctx, level, "operation completed",
			slog.String("operation", operation),
			slog.Duration("duration", duration),
			slog.String("status", status),
		)
	}

	return err
}

func (m *Monitor) recordOperation(name string, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	om, exists := m.operations[name]
	if !exists {
		om = &OperationMetrics{
			Name:        name,
			MinDuration: duration,
			MaxDuration: duration,
		}
		m.operations[name] = om
	}

	om.Count++
	om.TotalDuration += duration
	om.LastExecution = time.Now()

	if duration < om.MinDuration {
		om.MinDuration = duration
	}
	if duration > om.MaxDuration {
		om.MaxDuration = duration
	}

	om.AverageDuration = time.Duration(int64(om.TotalDuration) / om.Count)

	if success {
		om.Successes++
	} else {
		om.Errors++
	}
}

// TrackError records one error occurrence.
func (m *Monitor) TrackError(ctx context.Context, errorType, code, component, message string) {
	key := errorType + ":" + code

	m.mu.Lock()
	em, exists := m.errors[key]
	if !exists {
		em = &ErrorMetrics{
			Type:      errorType,
			Code:      code,
			Component: component,
			Message:   message,
		}
		m.errors[key] = em
	}

	em.Count++
	em.LastOccurred = time.Now()
	count := em.Count
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.WarnContext(ctx, "error tracked",
			slog.String("error_type", errorType),
			slog.String("error_code", code),
			slog.String("component", component),
			slog.Int64("count", count),
		)
	}
}

// Connection event names accepted by TrackConnection.
const (
	EventConnect       = "connect"
	EventDisconnect    = "disconnect"
	EventConnectFailed = "connect_failed"
)

// TrackConnection records a client connection event. The duration is
// meaningful for connect events only.
func (m *Monitor) TrackConnection(event string, duration time.Duration) {
	m.mu.Lock()

	switch event {
	case EventConnect:
		m.connections.TotalConnections++
		m.connections.ActiveConnections++
		m.connections.LastConnectTime = time.Now()

		totalTime := time.Duration(m.connections.AverageConnectTime.Nanoseconds() *
			(m.connections.TotalConnections - 1))
		m.connections.AverageConnectTime = (totalTime + duration) /
			time.Duration(m.connections.TotalConnections)

	case EventDisconnect:
		if m.connections.ActiveConnections > 0 {
			m.connections.ActiveConnections--
		}

	case EventConnectFailed:
		m.connections.FailedConnections++
	}

	active := m.connections.ActiveConnections
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Debug("connection event",
			slog.String("event", event),
			slog.Int64("active_connections", active),
		)
	}
}

// GetOperationMetrics returns a copy of one operation's metrics, or
// nil when the operation has never run.
func (m *Monitor) GetOperationMetrics(operation string) *OperationMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if om, exists := m.operations[operation]; exists {
		c := *om
		return &c
	}
	return nil
}

// GetAllOperationMetrics returns a copy of every operation's metrics.
func (m *Monitor) GetAllOperationMetrics() map[string]*OperationMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*OperationMetrics, len(m.operations))
	for name, om := range m.operations {
		c := *om
		result[name] = &c
	}
	return result
}

// GetErrorMetrics returns a copy of every error's metrics.
func (m *Monitor) GetErrorMetrics() map[string]*ErrorMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*ErrorMetrics, len(m.errors))
	for key, em := range m.errors {
		c := *em
		result[key] = &c
	}
	return result
}

// GetConnectionMetrics returns a copy of the connection metrics.
func (m *Monitor) GetConnectionMetrics() *ConnectionMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := *m.connections
	return &c
}

// Totals returns the request and failure counts across all operations,
// for status reporting.
func (m *Monitor) Totals() (requests, failures int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, om := range m.operations {
		requests += om.Count
		failures += om.Errors
	}
	return requests, failures
}

// LogSummary writes every collected metric to the logger. The daemon
// calls this periodically and once more on shutdown.
func (m *Monitor) LogSummary(ctx context.Context) {
	if m.logger == nil {
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	m.logger.InfoContext(ctx, "metrics summary",
		slog.Duration("uptime", time.Since(m.startedAt)),
		slog.Int("operations", len(m.operations)),
		slog.Int("error_types", len(m.errors)),
		slog.Int64("total_connections", m.connections.TotalConnections),
	)

	for name, om := range m.operations {
		successRate := float64(0)
		if om.Count > 0 {
			successRate = float64(om.Successes) / float64(om.Count) * 100
		}

		m.logger.InfoContext(ctx, "operation metrics",
			slog.String("operation", name),
			slog.Int64("count", om.Count),
			slog.Duration("avg_duration", om.AverageDuration),
			slog.Duration("min_duration", om.MinDuration),
			slog.Duration("max_duration", om.MaxDuration),
			slog.Float64("success_rate", successRate),
		)
	}

	for _, em := range m.errors {
		m.logger.InfoContext(ctx, "error metrics",
			slog.String("error_type", em.Type),
			slog.String("error_code", em.Code),
			slog.String("component", em.Component),
			slog.Int64("count", em.Count),
		)
	}
}

// Reset clears all collected metrics.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.operations = make(map[string]*OperationMetrics)
	m.errors = make(map[string]*ErrorMetrics)
	m.connections = &ConnectionMetrics{}
	m.startedAt = time.Now()
}
