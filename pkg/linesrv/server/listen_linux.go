//go:build linux

package server

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// listenTCP opens a listening socket by hand so the backlog and SO_REUSEADDR
// follow the configuration.
func listenTCP(ip net.IP, port, backlog int, reuseAddress bool) (*net.TCPListener, error) {
	domain := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := ip.To4(); ip4 != nil {
		addr := &unix.SockaddrInet4{Port: port}
		copy(addr.Addr[:], ip4)
		sa = addr
	} else {
		domain = unix.AF_INET6
		addr := &unix.SockaddrInet6{Port: port}
		copy(addr.Addr[:], ip.To16())
		sa = addr
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("can't create socket: %w", err)
	}

	optval := 0
	if reuseAddress {
		optval = 1
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, optval); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("can't set SO_REUSEADDR: %w", err)
	}

	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("can't bind the socket: %w", err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("can't listen: %w", err)
	}

	f := os.NewFile(uintptr(fd), "tcp:"+net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	defer func() {
		_ = f.Close()
	}()

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("can't wrap listening socket: %w", err)
	}

	tcpListener, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return nil, fmt.Errorf("unexpected listener type %T", ln)
	}
	return tcpListener, nil
}
