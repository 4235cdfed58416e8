// Package client implements the CLI side of the daemon IPC channel.
//
// A Client owns a single WebSocket connection to the daemon. Requests
// are correlated to responses by request id, so the typed helpers can
// share the connection, and pushed log frames are routed to per-process
// follow handlers without disturbing pending requests.
package client

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/gopm-io/gopm/internal/config"
	"github.com/gopm-io/gopm/internal/errors"
	"github.com/gopm-io/gopm/internal/protocol"
)

// LogHandler receives streamed log lines for a followed process.
type LogHandler func(msg *protocol.LogMessage)

// Client is a WebSocket IPC client for the gopm daemon.
type Client struct {
	cfg    *config.Config
	logger *slog.Logger

	conn      *websocket.Conn
	connected bool
	connMutex sync.RWMutex
	writeMu   sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *protocol.ResponseMessage

	followMu sync.RWMutex
	follows  map[string]LogHandler

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a client for the daemon described by cfg. The client does
// not connect until Connect or ConnectWithRetry is called.
func New(cfg *config.Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[string]chan *protocol.ResponseMessage),
		follows: make(map[string]LogHandler),
		done:    make(chan struct{}),
	}
}

// Connect dials the daemon's WebSocket endpoint once.
func (c *Client) Connect() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		return nil
	}

	serverURL := c.cfg.ServerURL()
	c.logger.Debug("connecting to daemon", "url", serverURL)

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.Client.HandshakeTimeout,
	}

	conn, _, err := dialer.Dial(serverURL, nil)
	if err != nil {
		return errors.NetworkError("CONNECTION_REFUSED",
			fmt.Sprintf("Failed to connect to daemon at %s", serverURL), err)
	}

	c.conn = conn
	c.connected = true

	c.wg.Add(2)
	go c.readLoop(conn)
	go c.pingLoop(conn)

	c.logger.Debug("connected to daemon", "url", serverURL)
	return nil
}

// ConnectWithRetry dials the daemon with exponential backoff, giving up
// early on errors that will never succeed (bad URLs, DNS failures).
func (c *Client) ConnectWithRetry() error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.Client.ReconnectInitialDelay
	bo.MaxInterval = c.cfg.Client.ReconnectMaxDelay
	bo.MaxElapsedTime = 0
	bo.Multiplier = 2.0
	bo.RandomizationFactor = 0.1
	bo.Reset()

	var policy backoff.BackOff = bo
	if c.cfg.Client.ReconnectMaxAttempts > 0 {
		policy = backoff.WithMaxRetries(bo, uint64(c.cfg.Client.ReconnectMaxAttempts))
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := c.Connect()
		if err == nil {
			return nil
		}
		if isPermanentError(err) {
			return backoff.Permanent(err)
		}
		c.logger.Debug("connection attempt failed",
			"attempt", attempt,
			"error", err)
		return err
	}

	return backoff.Retry(operation, policy)
}

// isPermanentError reports whether a connection error cannot be fixed
// by retrying.
func isPermanentError(err error) bool {
	if err == nil {
		return false
	}

	underlying := err
	if gerr, ok := err.(*errors.GopmError); ok && gerr.Underlying != nil {
		underlying = gerr.Underlying
	}
	if _, ok := underlying.(*url.Error); ok {
		return true
	}

	msg := err.Error()
	permanentPatterns := []string{
		"unsupported protocol scheme",
		"malformed ws or wss URL",
		"no such host",
	}
	for _, pattern := range permanentPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsConnected reports whether the client currently holds a live
// connection.
func (c *Client) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// Close tells the daemon the session is over and tears the connection
// down. Safe to call on a client that never connected.
func (c *Client) Close() error {
	c.connMutex.Lock()
	conn := c.conn
	wasConnected := c.connected
	c.connected = false
	c.conn = nil
	c.connMutex.Unlock()

	select {
	case <-c.done:
	default:
		close(c.done)
	}

	if wasConnected && conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}

	c.wg.Wait()
	c.failPending()
	return nil
}

// readLoop reads frames until the connection dies, routing responses to
// their waiting request and log frames to follow handlers.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	defer c.markDisconnected(conn)

	readTimeout := 2 * c.cfg.Daemon.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("connection closed", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			c.logger.Warn("dropping unparseable frame", "error", err)
			continue
		}

		switch m := msg.(type) {
		case *protocol.ResponseMessage:
			c.deliver(m)
		case *protocol.LogMessage:
			c.dispatchLog(m)
		default:
			c.logger.Debug("ignoring unexpected frame type")
		}
	}
}

// pingLoop keeps the connection alive so the daemon's idle timeout does
// not fire during long follows.
func (c *Client) pingLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Daemon.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			deadline := time.Now().Add(c.cfg.Daemon.WriteTimeout)
			err := conn.WriteControl(websocket.PingMessage, nil, deadline)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// markDisconnected flips the connected flag and fails outstanding
// requests once the read loop exits.
func (c *Client) markDisconnected(conn *websocket.Conn) {
	c.connMutex.Lock()
	if c.conn == conn {
		c.connected = false
		c.conn = nil
	}
	c.connMutex.Unlock()

	c.failPending()
}

// failPending closes every waiter channel so blocked requests return a
// connection error instead of hanging until their timeout.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
}

// deliver hands a response to the request waiting on its id. Responses
// nobody is waiting for are dropped.
func (c *Client) deliver(resp *protocol.ResponseMessage) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.pendingMu.Unlock()

	if ok {
		ch <- resp
	}
}

// dispatchLog routes a pushed log line to its follow handler.
func (c *Client) dispatchLog(msg *protocol.LogMessage) {
	c.followMu.RLock()
	handler, ok := c.follows[msg.Name]
	c.followMu.RUnlock()

	if ok && handler != nil {
		handler(msg)
	}
}

// send serializes and writes a single frame under the write lock.
func (c *Client) send(msg interface{}) error {
	c.connMutex.RLock()
	conn := c.conn
	connected := c.connected
	c.connMutex.RUnlock()

	if !connected || conn == nil {
		return errors.ErrDaemonNotRunning
	}

	data, err := protocol.SerializeMessage(msg)
	if err != nil {
		return errors.ProtocolError(protocol.ErrorCodeInvalidMessage,
			"Failed to serialize request", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.Daemon.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.NetworkError(protocol.ErrorCodeConnectionLost,
			"Failed to send request", err)
	}
	return nil
}

// request sends req and blocks until the matching response arrives, the
// request times out, or the connection drops.
func (c *Client) request(req *protocol.RequestMessage) (*protocol.ResponseMessage, error) {
	ch := make(chan *protocol.ResponseMessage, 1)
	c.pendingMu.Lock()
	c.pending[req.RequestID] = ch
	c.pendingMu.Unlock()

	if err := c.send(req); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, req.RequestID)
		c.pendingMu.Unlock()
		return nil, err
	}

	timer := time.NewTimer(c.cfg.Client.RequestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, errors.ErrConnectionLost
		}
		return resp, nil
	case <-timer.C:
		c.pendingMu.Lock()
		delete(c.pending, req.RequestID)
		c.pendingMu.Unlock()
		return nil, errors.ErrRequestTimeout.WithDetails("action", string(req.Action))
	case <-c.done:
		return nil, errors.ErrConnectionLost
	}
}

// do performs a request and converts a failure response into an error.
func (c *Client) do(req *protocol.RequestMessage) (*protocol.ResponseMessage, error) {
	resp, err := c.request(req)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, remoteError(resp)
	}
	return resp, nil
}

// remoteError reconstructs a typed error from a failure response so
// callers can match on the daemon's error code.
func remoteError(resp *protocol.ResponseMessage) error {
	code := resp.ErrorCode
	if code == "" {
		code = protocol.ErrorCodeInternalError
	}
	message := resp.Error
	if message == "" {
		message = "daemon reported an error"
	}
	return errors.DaemonError(code, message, nil)
}
