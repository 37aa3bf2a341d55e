package handler

import (
	"bufio"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tbxark/linesrv/pkg/linesrv/common"
	"github.com/tbxark/linesrv/pkg/linesrv/server"
	"go.uber.org/zap/zaptest"
)

func startServer(t *testing.T, h server.MessageHandler) (*server.Server, string) {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.PollTimeout = 50 * time.Millisecond
	cfg.FullBackoff = 50 * time.Millisecond

	srv, err := server.NewServer(cfg, h, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	require.NoError(t, srv.SetupListening(port, "127.0.0.1"))
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		_ = srv.Stop()
		srv.WaitServer()
	})
	return srv, net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

type lineConn struct {
	net.Conn
	r *bufio.Reader
}

func dial(t *testing.T, addr string) *lineConn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &lineConn{Conn: conn, r: bufio.NewReader(conn)}
}

func (c *lineConn) roundTrip(t *testing.T, line string) string {
	t.Helper()
	_, err := c.Write([]byte(line + "\n"))
	require.NoError(t, err)
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	reply, err := c.r.ReadString('\n')
	require.NoError(t, err)
	return reply
}

func (c *lineConn) waitClosed(t *testing.T) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err := c.r.ReadByte()
	require.Error(t, err)
	assert.False(t, common.IsTimeout(err), "connection was not closed: %v", err)
}

func TestEcho(t *testing.T) {
	_, addr := startServer(t, Echo(nil))
	c := dial(t, addr)

	assert.Equal(t, "hello\n", c.roundTrip(t, "hello"))
	assert.Equal(t, "\n", c.roundTrip(t, ""))
	assert.Equal(t, "stats\n", c.roundTrip(t, "stats"), "echo has no commands")
}

func TestCommands_Stats(t *testing.T) {
	_, addr := startServer(t, NewCommands(nil))
	a := dial(t, addr)
	b := dial(t, addr)

	assert.Equal(t, "one\n", a.roundTrip(t, "one"))
	assert.Equal(t, "connections=2/200 messages=2 connection_messages=1\n", b.roundTrip(t, " stats "))
	assert.Equal(t, "connections=2/200 messages=3 connection_messages=2\n", a.roundTrip(t, "stats"))
}

func TestCommands_Close(t *testing.T) {
	srv, addr := startServer(t, NewCommands(nil))
	a := dial(t, addr)
	b := dial(t, addr)
	assert.Equal(t, "hi\n", b.roundTrip(t, "hi"))

	assert.Equal(t, "bye\n", a.roundTrip(t, "close"))
	a.waitClosed(t)
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "still here\n", b.roundTrip(t, "still here"))
	assert.True(t, srv.Running())
}

func TestCommands_Shutdown(t *testing.T) {
	srv, addr := startServer(t, NewCommands(nil))
	a := dial(t, addr)
	b := dial(t, addr)
	assert.Equal(t, "x\n", b.roundTrip(t, "x"))

	assert.Equal(t, "shutting down\n", a.roundTrip(t, "shutdown"))

	done := make(chan struct{})
	go func() {
		srv.WaitServer()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	a.waitClosed(t)
	b.waitClosed(t)
	assert.Equal(t, server.StateStopped, srv.State())
}
