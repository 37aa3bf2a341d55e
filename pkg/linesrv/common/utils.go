package common

import (
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"time"
)

func SetReadDeadline(conn net.Conn, timeout time.Duration) error {
	return conn.SetReadDeadline(time.Now().Add(timeout))
}

func SetWriteDeadline(conn net.Conn, timeout time.Duration) error {
	return conn.SetWriteDeadline(time.Now().Add(timeout))
}

// IsTimeout reports whether err is a deadline expiry rather than a real failure.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsClosed reports whether err comes from using an already closed socket or
// pipe.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// SplitAddr returns the host and numeric port of addr. The port is 0 when
// addr carries none.
func SplitAddr(addr net.Addr) (string, int) {
	if addr == nil {
		return "", 0
	}
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String(), tcpAddr.Port
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
