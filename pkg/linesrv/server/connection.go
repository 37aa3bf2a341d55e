package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tbxark/linesrv/pkg/linesrv/common"
	"github.com/tbxark/linesrv/pkg/linesrv/proto"
	"go.uber.org/zap"
)

// Connection is one accepted client bound to a pool slot. Its worker
// goroutine reads, frames and dispatches messages until the peer goes away
// or the server shuts it down.
type Connection struct {
	id         string   // Random id used in logs
	remoteAddr string   // Peer IP
	remotePort int      // Peer port
	pos        int      // Slot index in the pool
	conn       net.Conn // Client socket
	server     *Server  // Owning server
	logger     *zap.Logger

	started      atomic.Bool
	running      atomic.Bool
	messageCount int           // Owned by the worker
	done         chan struct{} // Closed when the worker exits

	writeMu sync.Mutex // Serializes SendMessage
}

func newConnection(s *Server, conn net.Conn, pos int, remoteAddr string, remotePort int) *Connection {
	id := uuid.New().String()
	return &Connection{
		id:         id,
		remoteAddr: remoteAddr,
		remotePort: remotePort,
		pos:        pos,
		conn:       conn,
		server:     s,
		logger: s.logger.With(
			zap.String("conn_id", id),
			zap.Int("slot", pos),
			zap.String("remote_addr", remoteAddr),
			zap.Int("remote_port", remotePort)),
		done: make(chan struct{}),
	}
}

// Start launches the worker goroutine. A connection can be started once.
func (c *Connection) Start() error {
	if !c.started.CompareAndSwap(false, true) {
		return common.ErrAlreadyRunning
	}
	c.running.Store(true)
	go c.serve()
	return nil
}

// Close asks the worker to exit without waiting for it. Handlers use it to
// drop their own connection; no message framed after the call is dispatched.
func (c *Connection) Close() {
	c.running.Store(false)
	_ = c.conn.SetReadDeadline(time.Now())
}

// CloseAndWait stops the worker and blocks until it has released its slot.
func (c *Connection) CloseAndWait() {
	if !c.started.Load() {
		return
	}
	c.running.Store(false)
	if cr, ok := c.conn.(interface{ CloseRead() error }); ok {
		_ = cr.CloseRead()
	}
	_ = c.conn.SetReadDeadline(time.Now())
	<-c.done
}

// SendMessage formats a reply and writes all of it to the peer. The result
// is truncated to the send buffer size, one byte more than the maximum
// message length so a full message and its terminator fit.
func (c *Connection) SendMessage(format string, args ...any) error {
	return c.send(proto.Format(c.server.cfg.SendBufferSize(), format, args...))
}

func (c *Connection) send(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	sent := 0
	for sent < len(p) {
		if err := common.SetWriteDeadline(c.conn, c.server.cfg.PollTimeout); err != nil {
			if common.IsClosed(err) {
				return common.ErrConnectionClosed
			}
			return fmt.Errorf("failed to set write deadline: %w", err)
		}

		n, err := c.conn.Write(p[sent:])
		sent += n
		if err != nil {
			switch {
			case common.IsTimeout(err) && n > 0:
				continue
			case common.IsTimeout(err):
				return fmt.Errorf("%w: %d of %d bytes sent", common.ErrSendTimeout, sent, len(p))
			case common.IsClosed(err):
				return common.ErrConnectionClosed
			default:
				return fmt.Errorf("socket send failed: %w", err)
			}
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}

	c.server.metrics.RecordBytesSent(sent)
	return nil
}

func (c *Connection) serve() {
	defer close(c.done)
	defer func() {
		_ = c.conn.Close()
		c.server.connectionComplete(c)
		c.running.Store(false)
	}()

	cfg := &c.server.cfg
	buf := make([]byte, cfg.RecvBufferSize)
	framer := proto.NewFramer(cfg.MaxMessageLength)

	for c.running.Load() {
		if err := common.SetReadDeadline(c.conn, cfg.PollTimeout); err != nil {
			c.logger.Debug("Failed to set read deadline", zap.Error(err))
			return
		}

		n, err := c.conn.Read(buf)
		if n > 0 {
			framer.Feed(buf[:n], c.dispatch)
		}
		if err == nil {
			continue
		}

		switch {
		case common.IsTimeout(err):
		case !c.running.Load():
			c.logger.Info("Connection closed by server")
			return
		case errors.Is(err, io.EOF):
			c.logger.Info("Client disconnected", zap.Int("messages", c.messageCount))
			return
		default:
			c.logger.Warn("Socket receive failed", zap.Error(err))
			return
		}
	}

	c.logger.Info("Connection closed by server")
}

// dispatch counts msg and hands it to the handler. It returns false once the
// connection stops running so the rest of the buffer is discarded.
func (c *Connection) dispatch(msg []byte) bool {
	if !c.running.Load() {
		return false
	}

	c.messageCount++
	c.server.IncMessageCount()
	c.server.metrics.RecordMessage(len(msg))
	if ce := c.logger.Check(zap.DebugLevel, "Message received"); ce != nil {
		ce.Write(zap.ByteString("message", msg), zap.Int("count", c.messageCount))
	}

	c.server.handler.HandleMessage(c, msg)
	return c.running.Load()
}

// ID returns the connection's unique id.
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr returns the peer IP.
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// RemotePort returns the peer port.
func (c *Connection) RemotePort() int {
	return c.remotePort
}

// Slot returns the pool slot this connection occupies.
func (c *Connection) Slot() int {
	return c.pos
}

// MessageCount returns the number of messages received on this connection.
// Only the worker, and so only a handler, may call it while running.
func (c *Connection) MessageCount() int {
	return c.messageCount
}

// Running reports whether the worker is still serving the connection.
func (c *Connection) Running() bool {
	return c.running.Load()
}

// Server returns the owning server.
func (c *Connection) Server() *Server {
	return c.server
}
