package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gopm-io/gopm/internal/errors"
	"github.com/gopm-io/gopm/internal/logging"
	"github.com/gopm-io/gopm/internal/manager"
	"github.com/gopm-io/gopm/internal/metrics"
	"github.com/gopm-io/gopm/internal/protocol"
)

// connState tracks one client connection: write serialization, last
// activity, and its live follow subscriptions.
type connState struct {
	mu         sync.RWMutex
	writeMu    sync.Mutex
	lastActive time.Time
	follows    map[string]*follow
}

// follow pairs a manager subscription with the stream filter the
// client asked for.
type follow struct {
	sub    *manager.Subscription
	stream protocol.StreamType
}

func errorResponse(requestID string, err error) *protocol.ResponseMessage {
	return errors.ClassifyError(err).ToResponse(requestID)
}

func (d *Daemon) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.metrics.TrackConnection(metrics.EventConnectFailed, 0)
		d.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	d.metrics.TrackConnection(metrics.EventConnect, 0)
	d.handleConnection(conn)
}

// handleConnection runs a reader and a ping loop for one connection
// and cleans up when either ends.
func (d *Daemon) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	st := &connState{
		lastActive: time.Now(),
		follows:    make(map[string]*follow),
	}

	d.connMu.Lock()
	d.connections[conn] = st
	d.connMu.Unlock()

	ctx, cancel := context.WithCancel(d.ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.pingLoop(ctx, conn, st)
	}()
	go func() {
		defer wg.Done()
		d.readLoop(ctx, conn, st)
		cancel()
	}()
	wg.Wait()

	d.cleanupConnection(conn, st)
}

func (d *Daemon) readLoop(ctx context.Context, conn *websocket.Conn, st *connState) {
	conn.SetReadDeadline(time.Now().Add(d.cfg.Daemon.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		st.mu.Lock()
		st.lastActive = time.Now()
		st.mu.Unlock()
		conn.SetReadDeadline(time.Now().Add(d.cfg.Daemon.ReadTimeout))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				d.logger.Warn("connection read failed", slog.String("error", err.Error()))
			}
			return
		}

		st.mu.Lock()
		st.lastActive = time.Now()
		st.mu.Unlock()

		d.processMessage(conn, st, raw)
		conn.SetReadDeadline(time.Now().Add(d.cfg.Daemon.ReadTimeout))
	}
}

// processMessage parses one frame, dispatches it, and sends the
// response. Frames that cannot be parsed carry no request id to echo,
// so they are logged and dropped.
func (d *Daemon) processMessage(conn *websocket.Conn, st *connState, raw []byte) {
	msg, err := protocol.ParseMessage(raw)
	if err != nil {
		d.metrics.TrackError(d.ctx, "protocol", protocol.ErrorCodeInvalidMessage, "daemon", err.Error())
		d.logger.Warn("unparseable frame dropped", slog.String("error", err.Error()))
		return
	}

	req, ok := msg.(*protocol.RequestMessage)
	if !ok {
		d.metrics.TrackError(d.ctx, "protocol", protocol.ErrorCodeInvalidMessage, "daemon",
			fmt.Sprintf("unexpected message type %T", msg))
		return
	}

	if err := protocol.ValidateMessage(req); err != nil {
		d.send(conn, st, protocol.NewErrorResponse(req.RequestID, protocol.ErrorCodeInvalidMessage, err.Error()))
		return
	}

	// The request id doubles as the correlation id, so every log line
	// emitted while handling this request can be traced back to it.
	ctx := logging.WithCorrelationID(d.ctx, req.RequestID)

	var resp *protocol.ResponseMessage
	d.metrics.TrackOperation(ctx, string(req.Action), func() error {
		resp = d.dispatch(conn, st, req)
		if !resp.Success {
			return fmt.Errorf("%s", resp.Error)
		}
		return nil
	})

	d.send(conn, st, resp)

	if req.Action == protocol.ActionShutdown && resp.Success {
		d.requestShutdown()
	}
}

// dispatch maps a request to the manager operation behind it.
func (d *Daemon) dispatch(conn *websocket.Conn, st *connState, req *protocol.RequestMessage) *protocol.ResponseMessage {
	switch req.Action {
	case protocol.ActionStart:
		infos, err := d.manager.Start(*req.Spec)
		if err != nil {
			return errorResponse(req.RequestID, err)
		}
		resp := protocol.NewListResponse(req.RequestID, infos)
		if len(infos) == 1 {
			resp.Message = fmt.Sprintf("Started '%s'", infos[0].Name)
		} else {
			resp.Message = fmt.Sprintf("Started %d instances of '%s'", len(infos), req.Spec.Name)
		}
		return resp

	case protocol.ActionStop:
		if err := d.manager.Stop(req.Name); err != nil {
			return errorResponse(req.RequestID, err)
		}
		return protocol.NewSuccessResponse(req.RequestID, fmt.Sprintf("Stopped '%s'", req.Name))

	case protocol.ActionRestart:
		info, err := d.manager.Restart(req.Name)
		if err != nil {
			return errorResponse(req.RequestID, err)
		}
		resp := protocol.NewInfoResponse(req.RequestID, info)
		resp.Message = fmt.Sprintf("Restarted '%s'", req.Name)
		return resp

	case protocol.ActionDelete:
		if err := d.manager.Delete(req.Name); err != nil {
			return errorResponse(req.RequestID, err)
		}
		return protocol.NewSuccessResponse(req.RequestID, fmt.Sprintf("Deleted '%s'", req.Name))

	case protocol.ActionList:
		return protocol.NewListResponse(req.RequestID, d.manager.List())

	case protocol.ActionInfo:
		info, err := d.manager.Get(req.Name)
		if err != nil {
			return errorResponse(req.RequestID, err)
		}
		return protocol.NewInfoResponse(req.RequestID, info)

	case protocol.ActionLogs:
		query := protocol.LogQuery{}
		if req.Query != nil {
			query = *req.Query
		}
		logs, err := d.manager.Logs(req.Name, query)
		if err != nil {
			return errorResponse(req.RequestID, err)
		}
		return protocol.NewLogsResponse(req.RequestID, logs)

	case protocol.ActionFollow:
		return d.handleFollow(conn, st, req)

	case protocol.ActionUnfollow:
		return d.handleUnfollow(st, req)

	case protocol.ActionSave:
		path, n, err := d.manager.Save()
		if err != nil {
			return errorResponse(req.RequestID, err)
		}
		return protocol.NewSuccessResponse(req.RequestID, fmt.Sprintf("Saved %d processes to %s", n, path))

	case protocol.ActionResurrect:
		infos, err := d.manager.Resurrect()
		if err != nil {
			return errorResponse(req.RequestID, err)
		}
		resp := protocol.NewListResponse(req.RequestID, infos)
		resp.Message = fmt.Sprintf("Resurrected %d processes", len(infos))
		return resp

	case protocol.ActionStatus:
		return protocol.NewStatusResponse(req.RequestID, d.status())

	case protocol.ActionShutdown:
		return protocol.NewSuccessResponse(req.RequestID, "Daemon shutting down")

	default:
		return protocol.NewErrorResponse(req.RequestID, protocol.ErrorCodeInvalidAction,
			fmt.Sprintf("unknown action: %s", req.Action))
	}
}

func (d *Daemon) handleFollow(conn *websocket.Conn, st *connState, req *protocol.RequestMessage) *protocol.ResponseMessage {
	stream := protocol.StreamBoth
	if req.Query != nil && req.Query.Stream != "" {
		stream = req.Query.Stream
	}

	st.mu.Lock()
	_, exists := st.follows[req.Name]
	st.mu.Unlock()
	if exists {
		return protocol.NewSuccessResponse(req.RequestID, fmt.Sprintf("Already following '%s'", req.Name))
	}

	sub, err := d.manager.Subscribe(req.Name)
	if err != nil {
		return errorResponse(req.RequestID, err)
	}

	f := &follow{sub: sub, stream: stream}
	st.mu.Lock()
	st.follows[req.Name] = f
	st.mu.Unlock()

	d.wg.Add(1)
	go d.pumpFollow(conn, st, f)

	return protocol.NewSuccessResponse(req.RequestID, fmt.Sprintf("Following '%s'", req.Name))
}

func (d *Daemon) handleUnfollow(st *connState, req *protocol.RequestMessage) *protocol.ResponseMessage {
	st.mu.Lock()
	f, exists := st.follows[req.Name]
	if exists {
		delete(st.follows, req.Name)
	}
	st.mu.Unlock()

	if !exists {
		return protocol.NewErrorResponse(req.RequestID, protocol.ErrorCodeProcessNotFound,
			fmt.Sprintf("not following '%s'", req.Name))
	}

	f.sub.Close()
	return protocol.NewSuccessResponse(req.RequestID, fmt.Sprintf("Stopped following '%s'", req.Name))
}

// pumpFollow forwards subscribed log entries to the client until the
// subscription closes or the connection stops accepting writes.
func (d *Daemon) pumpFollow(conn *websocket.Conn, st *connState, f *follow) {
	defer d.wg.Done()

	for le := range f.sub.C {
		if f.stream != protocol.StreamBoth && le.Stream != f.stream {
			continue
		}
		msg := protocol.NewLogMessage(le.Name, le.Stream, le.Line, le.Timestamp)
		if err := d.send(conn, st, msg); err != nil {
			return
		}
	}
}

func (d *Daemon) pingLoop(ctx context.Context, conn *websocket.Conn, st *connState) {
	ticker := time.NewTicker(d.cfg.Daemon.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(d.cfg.Daemon.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			st.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// send serializes and writes one frame under the connection's write
// mutex.
func (d *Daemon) send(conn *websocket.Conn, st *connState, msg interface{}) error {
	data, err := protocol.SerializeMessage(msg)
	if err != nil {
		d.logger.Error("message serialization failed", slog.String("error", err.Error()))
		return err
	}

	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(d.cfg.Daemon.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// cleanupConnection closes the connection's follows and removes it
// from tracking.
func (d *Daemon) cleanupConnection(conn *websocket.Conn, st *connState) {
	st.mu.Lock()
	follows := make([]*follow, 0, len(st.follows))
	for name, f := range st.follows {
		follows = append(follows, f)
		delete(st.follows, name)
	}
	st.mu.Unlock()
	for _, f := range follows {
		f.sub.Close()
	}

	d.connMu.Lock()
	delete(d.connections, conn)
	d.connMu.Unlock()

	d.metrics.TrackConnection(metrics.EventDisconnect, 0)
	d.logger.Debug("connection closed")
}

func (d *Daemon) connectionCount() int {
	d.connMu.RLock()
	defer d.connMu.RUnlock()
	return len(d.connections)
}

func (d *Daemon) closeConnections() {
	d.connMu.Lock()
	conns := make([]*websocket.Conn, 0, len(d.connections))
	for conn := range d.connections {
		conns = append(conns, conn)
	}
	d.connMu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
