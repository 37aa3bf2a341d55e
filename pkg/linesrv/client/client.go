// Package client is a small line-protocol client for the line server.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tbxark/linesrv/pkg/linesrv/common"
	"go.uber.org/zap"
)

// ErrLineTooLong is returned by ReadLine when a reply exceeds MaxLineLength.
var ErrLineTooLong = errors.New("reply line too long")

// Client holds one connection to a line server.
type Client struct {
	cfg    *Config
	conn   net.Conn
	r      *bufio.Reader
	logger *zap.Logger

	pending []byte     // Partial line kept across read timeouts
	mu      sync.Mutex // Serializes Request
}

// Dial connects to cfg.ServerAddr, retrying with exponential backoff until it
// succeeds, MaxRetries is exhausted or ctx ends.
func Dial(ctx context.Context, cfg *Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	policy := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(cfg.RetryInitial),
		backoff.WithMaxInterval(cfg.RetryMax),
		backoff.WithMaxElapsedTime(0),
	)
	var b backoff.BackOff = policy
	if cfg.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, cfg.MaxRetries)
	}
	b = backoff.WithContext(b, ctx)

	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := backoff.RetryNotifyWithData(func() (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, "tcp", cfg.ServerAddr)
		if err != nil && ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return conn, err
	}, b, func(err error, delay time.Duration) {
		logger.Warn("Connection failed, will retry",
			zap.String("server", cfg.ServerAddr),
			zap.Duration("delay", delay),
			zap.Error(err))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.ServerAddr, err)
	}

	logger.Info("Connected to server",
		zap.String("server", cfg.ServerAddr),
		zap.String("local_addr", conn.LocalAddr().String()))

	return &Client{
		cfg:    cfg,
		conn:   conn,
		r:      bufio.NewReaderSize(conn, cfg.MaxLineLength+1),
		logger: logger,
	}, nil
}

// Send writes line followed by a newline. Embedded terminators split it into
// several messages on the server side.
func (c *Client) Send(line string) error {
	if err := common.SetWriteDeadline(c.conn, c.cfg.ReadTimeout); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// ReadLine reads one reply without its line terminator. A line cut short by
// a read timeout is completed by the next call.
func (c *Client) ReadLine() (string, error) {
	if err := common.SetReadDeadline(c.conn, c.cfg.ReadTimeout); err != nil {
		return "", fmt.Errorf("failed to set read deadline: %w", err)
	}

	line, err := c.r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) || len(c.pending)+len(line) > c.cfg.MaxLineLength+1 {
		c.pending = nil
		return "", ErrLineTooLong
	}
	if err != nil {
		c.pending = append(c.pending, line...)
		return "", err
	}

	full := string(c.pending) + string(line)
	c.pending = nil
	return strings.TrimRight(full, "\r\n"), nil
}

// Request sends line and waits for a single reply.
func (c *Client) Request(line string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.Send(line); err != nil {
		return "", err
	}
	return c.ReadLine()
}

// LocalAddr returns the local end of the connection.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
