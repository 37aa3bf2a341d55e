package server

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tbxark/linesrv/pkg/linesrv/common"
	"github.com/tbxark/linesrv/pkg/linesrv/metrics"
	"github.com/tbxark/linesrv/pkg/linesrv/slotpool"
	"go.uber.org/zap"
)

// State is the lifecycle state of a Server.
type State int

const (
	StateStopped State = iota
	StateListening
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateListening:
		return "listening"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

type Server struct {
	cfg      Config                // Validated configuration
	handler  MessageHandler        // Called for every framed message
	pool     *slotpool.Pool        // Connection slots
	registry *Registry             // Slot to connection table
	metrics  metrics.ServerMetrics // Metrics sink
	logger   *zap.Logger           // Logger instance

	lnMu     sync.Mutex       // Protects the fields below
	listener *net.TCPListener // nil while closed
	bindIP   net.IP           // Address to bind
	port     int              // 0 until SetupListening is called

	running      atomic.Bool
	messageCount atomic.Int64
	wake         chan struct{} // Cuts backoff sleeps short on Stop

	loopMu sync.Mutex
	done   chan struct{} // Closed when the accept loop exits
}

// NewServer creates a Server with one slot per allowed active connection.
// A nil handler discards messages, nil metrics are a no-op and a nil logger
// logs nothing.
func NewServer(cfg Config, handler MessageHandler, m metrics.ServerMetrics, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		handler = nopHandler
	}
	if m == nil {
		m = metrics.NewNoopServerMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool := slotpool.New(cfg.MaxActiveConnections)
	return &Server{
		cfg:      cfg,
		handler:  handler,
		pool:     pool,
		registry: NewRegistry(pool),
		metrics:  m,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}, nil
}

// SetupListening opens the listening socket on bindAddress:port. An empty
// bindAddress listens on all interfaces. An already open listener is replaced.
// On failure the listener is left closed.
func (s *Server) SetupListening(port int, bindAddress string) error {
	ip, err := validateEndpoint(port, bindAddress)
	if err != nil {
		return err
	}

	s.lnMu.Lock()
	defer s.lnMu.Unlock()

	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.bindIP = ip
	s.port = port

	endpoint := net.JoinHostPort(ip.String(), strconv.Itoa(port))
	listener, err := listenTCP(ip, port, s.cfg.Backlog, s.cfg.ReuseAddress)
	if err != nil {
		s.metrics.SetListenerOpen(false)
		return fmt.Errorf("failed to listen on %s: %w", endpoint, err)
	}
	s.listener = listener
	s.metrics.SetListenerOpen(true)

	s.logger.Info("Server listening",
		zap.String("address", listener.Addr().String()),
		zap.Int("backlog", s.cfg.Backlog),
		zap.Bool("reuse_address", s.cfg.ReuseAddress))
	return nil
}

// Start launches the accept loop. It does nothing if the server is already
// running.
func (s *Server) Start() error {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()

	if s.running.Load() {
		return nil
	}
	if s.done != nil {
		select {
		case <-s.done:
		default:
			return common.ErrStopping
		}
	}

	s.lnMu.Lock()
	configured := s.port != 0
	s.lnMu.Unlock()
	if !configured {
		return common.ErrNotConfigured
	}

	var limiter *IPRateLimiter
	if s.cfg.AcceptRatePerIP > 0 {
		limiter = NewRateLimiter(s.cfg.AcceptRatePerIP, s.cfg.AcceptBurstPerIP)
	}

	// Drop a wake token left by an earlier Stop.
	select {
	case <-s.wake:
	default:
	}

	s.messageCount.Store(0)
	s.running.Store(true)
	done := make(chan struct{})
	s.done = done
	go s.acceptLoop(limiter, done)

	s.logger.Info("Server started",
		zap.Int("max_active_connections", s.cfg.MaxActiveConnections),
		zap.Bool("close_on_max_connections", s.cfg.CloseOnMaxConnections))
	return nil
}

// Stop asks the accept loop to exit and closes the listener. It does not
// wait; use WaitServer for that. Safe to call from a MessageHandler and more
// than once.
func (s *Server) Stop() error {
	if s.running.Swap(false) {
		s.logger.Info("Server stopping")
	}
	s.closeListener()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// WaitServer blocks until the accept loop has exited and every connection has
// been closed. It returns at once if the server was never started.
func (s *Server) WaitServer() {
	s.loopMu.Lock()
	done := s.done
	s.loopMu.Unlock()

	if done != nil {
		<-done
	}
}

// IncMessageCount adds one to the server-wide message counter.
func (s *Server) IncMessageCount() {
	s.messageCount.Add(1)
}

// MessageCount returns the number of messages framed since Start.
func (s *Server) MessageCount() int64 {
	return s.messageCount.Load()
}

// ConnectionCount returns the number of occupied slots.
func (s *Server) ConnectionCount() int {
	return s.pool.Count()
}

// Capacity returns the maximum number of concurrent connections.
func (s *Server) Capacity() int {
	return s.pool.Cap()
}

// Running reports whether the accept loop is meant to be running.
func (s *Server) Running() bool {
	return s.running.Load()
}

// Listening reports whether the listening socket is open.
func (s *Server) Listening() bool {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	return s.listener != nil
}

// Addr returns the listener address, or nil while the listener is closed.
func (s *Server) Addr() net.Addr {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	if s.running.Load() {
		return StateRunning
	}

	s.loopMu.Lock()
	done := s.done
	s.loopMu.Unlock()
	if done != nil {
		select {
		case <-done:
		default:
			return StateStopping
		}
	}

	if s.Listening() {
		return StateListening
	}
	return StateStopped
}

// Config returns a copy of the server configuration.
func (s *Server) Config() Config {
	return s.cfg
}

func (s *Server) acceptLoop(limiter *IPRateLimiter, done chan struct{}) {
	defer close(done)

	for s.running.Load() {
		if s.pool.Count() >= s.pool.Cap() {
			if s.cfg.CloseOnMaxConnections && s.Listening() {
				s.logger.Warn("Too many active connections, closing listener",
					zap.Int("active", s.pool.Count()),
					zap.Int("max", s.pool.Cap()))
				s.closeListener()
			}
			s.sleep(s.cfg.FullBackoff)
			continue
		}

		listener, err := s.ensureListener()
		if err != nil {
			if !s.running.Load() {
				break
			}
			s.logger.Error("Can't re-establish listening socket, stopping server", zap.Error(err))
			s.running.Store(false)
			break
		}

		if err := listener.SetDeadline(time.Now().Add(s.cfg.PollTimeout)); err != nil {
			// Closed under us by Stop or SetupListening.
			continue
		}

		conn, err := listener.AcceptTCP()
		if err != nil {
			switch {
			case common.IsTimeout(err):
			case !s.running.Load():
			case common.IsClosed(err):
			default:
				s.logger.Warn("Failed to accept connection", zap.Error(err))
				s.sleep(s.cfg.AcceptErrorBackoff)
			}
			continue
		}

		s.acceptClient(conn, limiter)
	}

	s.shutdown()
	if limiter != nil {
		limiter.Close()
	}
	s.logger.Info("Server stopped", zap.Int64("messages", s.messageCount.Load()))
}

// acceptClient admits conn into a free slot and starts its worker.
func (s *Server) acceptClient(conn *net.TCPConn, limiter *IPRateLimiter) {
	host, port := common.SplitAddr(conn.RemoteAddr())

	if limiter != nil && !limiter.Allow(host) {
		s.logger.Warn("Rejecting connection",
			zap.String("remote_addr", host),
			zap.Int("remote_port", port),
			zap.Error(common.ErrRateLimited))
		s.metrics.RecordConnectionRejected(metrics.RejectRateLimited)
		_ = conn.Close()
		return
	}

	pos, ok := s.pool.Acquire()
	if !ok {
		s.logger.Warn("Rejecting connection",
			zap.String("remote_addr", host),
			zap.Int("remote_port", port),
			zap.Error(common.ErrPoolFull))
		s.metrics.RecordConnectionRejected(metrics.RejectPoolFull)
		_ = conn.Close()
		return
	}

	c := newConnection(s, conn, pos, host, port)
	if err := s.registry.Bind(c); err != nil {
		s.logger.Error("Failed to bind connection to slot", zap.Int("slot", pos), zap.Error(err))
		s.pool.Release(pos)
		s.metrics.RecordConnectionRejected(metrics.RejectStartFailed)
		_ = conn.Close()
		return
	}

	if err := c.Start(); err != nil {
		s.logger.Error("Failed to start connection worker", zap.Int("slot", pos), zap.Error(err))
		s.registry.Release(c)
		s.metrics.RecordConnectionRejected(metrics.RejectStartFailed)
		_ = conn.Close()
		s.sleep(s.cfg.AcceptErrorBackoff)
		return
	}

	s.metrics.RecordConnectionAccepted()
	s.metrics.SetActiveConnections(s.pool.Count())
	s.logger.Info("Client accepted",
		zap.String("conn_id", c.ID()),
		zap.Int("slot", pos),
		zap.String("remote_addr", host),
		zap.Int("remote_port", port))
}

// connectionComplete is called by a worker once its socket is closed.
func (s *Server) connectionComplete(c *Connection) {
	if s.registry.Release(c) {
		s.metrics.RecordConnectionClosed()
		s.metrics.SetActiveConnections(s.pool.Count())
	}
}

// shutdown closes the listener and then every live connection, oldest first.
// Head is re-read on every pass because workers release their own slots.
func (s *Server) shutdown() {
	s.closeListener()

	for {
		pos := s.pool.Head()
		if pos == slotpool.None {
			break
		}
		conn, ok := s.registry.Get(pos)
		if !ok {
			// Released between Head and Get.
			continue
		}
		conn.CloseAndWait()
	}
}

// ensureListener returns the open listener, re-establishing it if a policy
// close left it shut.
func (s *Server) ensureListener() (*net.TCPListener, error) {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()

	if s.listener != nil {
		return s.listener, nil
	}
	if !s.running.Load() {
		return nil, common.ErrConnectionClosed
	}

	listener, err := listenTCP(s.bindIP, s.port, s.cfg.Backlog, s.cfg.ReuseAddress)
	if err != nil {
		return nil, err
	}
	s.listener = listener
	s.metrics.SetListenerOpen(true)
	s.logger.Info("Listening socket re-established", zap.String("address", listener.Addr().String()))
	return listener, nil
}

func (s *Server) closeListener() {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()

	if s.listener == nil {
		return
	}
	_ = s.listener.Close()
	s.listener = nil
	s.metrics.SetListenerOpen(false)
}

func (s *Server) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-s.wake:
	}
}
