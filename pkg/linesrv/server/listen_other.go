//go:build !linux

package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// listenTCP falls back to the runtime listener. Backlog and SO_REUSEADDR keep
// the platform defaults here.
func listenTCP(ip net.IP, port, _ int, _ bool) (*net.TCPListener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("can't listen: %w", err)
	}

	tcpListener, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return nil, fmt.Errorf("unexpected listener type %T", ln)
	}
	return tcpListener, nil
}
