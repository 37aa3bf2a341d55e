// Package handler provides ready-made message handlers for the line server.
package handler

import (
	"bytes"

	"github.com/tbxark/linesrv/pkg/linesrv/server"
	"go.uber.org/zap"
)

// Echo writes every message back to its sender followed by a newline.
func Echo(logger *zap.Logger) server.MessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return server.HandlerFunc(func(conn *server.Connection, msg []byte) {
		if err := conn.SendMessage("%s\n", msg); err != nil {
			logger.Debug("Failed to echo message", zap.String("conn_id", conn.ID()), zap.Error(err))
		}
	})
}

// Command words understood by Commands.
const (
	CommandStats    = "stats"
	CommandClose    = "close"
	CommandShutdown = "shutdown"
)

// Commands answers a small set of control words and echoes anything else:
//
//	stats     reply with connection and message counters
//	close     say goodbye and close this connection
//	shutdown  say goodbye and stop the server
//
// Words are matched after trimming surrounding blanks.
type Commands struct {
	logger *zap.Logger
}

// NewCommands creates a Commands handler.
func NewCommands(logger *zap.Logger) *Commands {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Commands{logger: logger}
}

func (h *Commands) HandleMessage(conn *server.Connection, msg []byte) {
	var err error
	switch string(bytes.TrimSpace(msg)) {
	case CommandStats:
		srv := conn.Server()
		err = conn.SendMessage("connections=%d/%d messages=%d connection_messages=%d\n",
			srv.ConnectionCount(), srv.Capacity(), srv.MessageCount(), conn.MessageCount())
	case CommandClose:
		err = conn.SendMessage("bye\n")
		conn.Close()
		h.logger.Info("Connection closed on request", zap.String("conn_id", conn.ID()))
	case CommandShutdown:
		err = conn.SendMessage("shutting down\n")
		h.logger.Info("Shutdown requested",
			zap.String("conn_id", conn.ID()),
			zap.String("remote_addr", conn.RemoteAddr()))
		_ = conn.Server().Stop()
	default:
		err = conn.SendMessage("%s\n", msg)
	}

	if err != nil {
		h.logger.Debug("Failed to send reply", zap.String("conn_id", conn.ID()), zap.Error(err))
	}
}
