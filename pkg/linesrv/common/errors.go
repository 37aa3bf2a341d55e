package common

import "errors"

// Standard errors for use with errors.Is.
var (
	ErrInvalidPort        = errors.New("port must be between 1 and 65535")
	ErrInvalidBindAddress = errors.New("bind address must be an IP literal")
	ErrNotConfigured      = errors.New("listening endpoint not configured")
	ErrAlreadyRunning     = errors.New("already running")
	ErrStopping           = errors.New("server is still stopping")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrSendTimeout        = errors.New("send timed out waiting for socket")
	ErrRateLimited        = errors.New("rate limited")
	ErrPoolFull           = errors.New("connection pool full")
)
