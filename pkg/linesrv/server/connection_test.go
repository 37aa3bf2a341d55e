package server

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tbxark/linesrv/pkg/linesrv/common"
)

// pipeConnection binds a Connection over an in-memory pipe to a free slot of
// srv and returns it with the peer end.
func pipeConnection(t *testing.T, srv *Server) (*Connection, net.Conn) {
	t.Helper()
	local, peer := net.Pipe()
	t.Cleanup(func() { _ = peer.Close() })

	pos, ok := srv.pool.Acquire()
	require.True(t, ok)
	c := newConnection(srv, local, pos, "pipe", 0)
	require.NoError(t, srv.registry.Bind(c))
	return c, peer
}

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) HandleMessage(_ *Connection, msg []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, string(msg))
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestConnection_StartTwice(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)
	c, _ := pipeConnection(t, srv)

	require.NoError(t, c.Start())
	assert.ErrorIs(t, c.Start(), common.ErrAlreadyRunning)
	c.CloseAndWait()
}

func TestConnection_CloseAndWaitReleasesSlot(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)
	c, peer := pipeConnection(t, srv)
	require.NoError(t, c.Start())
	assert.True(t, c.Running())
	assert.Equal(t, 1, srv.ConnectionCount())

	c.CloseAndWait()

	assert.False(t, c.Running())
	assert.Equal(t, 0, srv.ConnectionCount())
	_, ok := srv.registry.Get(c.Slot())
	assert.False(t, ok)

	_, err := peer.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	// A second call returns at once.
	c.CloseAndWait()
}

func TestConnection_CloseAndWaitNotStarted(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)
	c, _ := pipeConnection(t, srv)

	c.CloseAndWait()
	assert.Equal(t, 1, srv.ConnectionCount(), "slot stays with the owner of an unstarted connection")
}

func TestConnection_FramesAcrossReads(t *testing.T) {
	rec := &recorder{}
	srv := newTestServer(t, testConfig(), rec)
	c, peer := pipeConnection(t, srv)
	require.NoError(t, c.Start())

	for _, chunk := range []string{"al", "pha\r", "\nbeta\r", "\r", "gamma\n"} {
		_, err := peer.Write([]byte(chunk))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return len(rec.messages()) == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"alpha", "beta", "", "gamma"}, rec.messages())
	assert.Equal(t, int64(4), srv.MessageCount())

	c.CloseAndWait()
}

func TestConnection_PeerCloseCompletes(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)
	c, peer := pipeConnection(t, srv)
	require.NoError(t, c.Start())

	require.NoError(t, peer.Close())
	require.Eventually(t, func() bool { return !c.Running() }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, srv.ConnectionCount())
}

func TestConnection_SendMessage(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)
	c, peer := pipeConnection(t, srv)

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := io.ReadAtLeast(peer, buf, 9)
		got <- string(buf[:n])
	}()

	require.NoError(t, c.SendMessage("%s %d\n", "reply", 42))
	assert.Equal(t, "reply 42\n", <-got)
}

func TestConnection_SendMessageTruncated(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageLength = 4
	srv := newTestServer(t, cfg, nil)
	c, peer := pipeConnection(t, srv)

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 5)
		n, _ := io.ReadFull(peer, buf)
		got <- string(buf[:n])
	}()

	require.NoError(t, c.SendMessage("abcdefgh\n"))
	assert.Equal(t, "abcde", <-got)
}

func TestConnection_SendMessageTimeout(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)
	c, _ := pipeConnection(t, srv)

	// Nobody reads the pipe, so no byte can be written.
	err := c.SendMessage("stuck\n")
	assert.ErrorIs(t, err, common.ErrSendTimeout)
}

func TestConnection_SendMessagePartialWrites(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)
	c, peer := pipeConnection(t, srv)

	const msg = "slow reader!\n"
	got := make(chan string, 1)
	go func() {
		var out []byte
		buf := make([]byte, 3)
		for len(out) < len(msg) {
			n, err := peer.Read(buf)
			if err != nil {
				break
			}
			out = append(out, buf[:n]...)
			time.Sleep(30 * time.Millisecond)
		}
		got <- string(out)
	}()

	// The reader drains slower than one poll timeout, so the write makes
	// partial progress and has to be resumed.
	require.NoError(t, c.SendMessage(msg))
	assert.Equal(t, msg, <-got)
}

func TestConnection_SendAfterClose(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)
	c, _ := pipeConnection(t, srv)
	require.NoError(t, c.Start())
	c.CloseAndWait()

	assert.ErrorIs(t, c.SendMessage("late\n"), common.ErrConnectionClosed)
}

func TestConnection_Accessors(t *testing.T) {
	srv := newTestServer(t, testConfig(), nil)
	c, _ := pipeConnection(t, srv)

	assert.NotEmpty(t, c.ID())
	assert.Equal(t, "pipe", c.RemoteAddr())
	assert.Equal(t, 0, c.RemotePort())
	assert.Equal(t, 0, c.Slot())
	assert.Equal(t, 0, c.MessageCount())
	assert.Same(t, srv, c.Server())
	assert.False(t, c.Running())

	other, _ := pipeConnection(t, srv)
	assert.NotEqual(t, c.ID(), other.ID())
	assert.Equal(t, 1, other.Slot())
}
