package server

import (
	"fmt"
	"net"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tbxark/linesrv/pkg/linesrv/common"
	"github.com/tbxark/linesrv/pkg/linesrv/proto"
)

const (
	DefaultPort                 = 2121
	DefaultBacklog              = 10
	DefaultMaxActiveConnections = 200
	DefaultPollTimeout          = 500 * time.Millisecond
	DefaultFullBackoff          = time.Second
	DefaultAcceptErrorBackoff   = 100 * time.Millisecond
)

// Config holds server configuration.
type Config struct {
	BindAddress           string        `mapstructure:"bind_address" validate:"omitempty,ip"`
	Port                  int           `mapstructure:"port" validate:"min=1,max=65535"`
	Backlog               int           `mapstructure:"backlog" validate:"min=1"`
	ReuseAddress          bool          `mapstructure:"reuse_address"`
	CloseOnMaxConnections bool          `mapstructure:"close_on_max_connections"`
	MaxActiveConnections  int           `mapstructure:"max_active_connections" validate:"required,min=1"`
	PollTimeout           time.Duration `mapstructure:"poll_timeout" validate:"required,min=1ms"`
	FullBackoff           time.Duration `mapstructure:"full_backoff" validate:"required,min=1ms"`
	AcceptErrorBackoff    time.Duration `mapstructure:"accept_error_backoff" validate:"min=0"`
	RecvBufferSize        int           `mapstructure:"recv_buffer_size" validate:"required,min=1"`
	MaxMessageLength      int           `mapstructure:"max_message_length" validate:"required,min=1"`
	AcceptRatePerIP       float64       `mapstructure:"accept_rate_per_ip" validate:"min=0"`
	AcceptBurstPerIP      int           `mapstructure:"accept_burst_per_ip" validate:"min=0"`
}

var validate = validator.New()

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Port:                  DefaultPort,
		Backlog:               DefaultBacklog,
		ReuseAddress:          true,
		CloseOnMaxConnections: true,
		MaxActiveConnections:  DefaultMaxActiveConnections,
		PollTimeout:           DefaultPollTimeout,
		FullBackoff:           DefaultFullBackoff,
		AcceptErrorBackoff:    DefaultAcceptErrorBackoff,
		RecvBufferSize:        proto.DefaultRecvBufferSize,
		MaxMessageLength:      proto.DefaultMaxMessageLength,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if c.AcceptRatePerIP > 0 && c.AcceptBurstPerIP < 1 {
		return fmt.Errorf("accept burst must be at least 1 when accept rate limiting is enabled")
	}

	return nil
}

// SendBufferSize is the largest reply a connection writes in one SendMessage:
// a full-length message plus its terminator.
func (c *Config) SendBufferSize() int {
	return c.MaxMessageLength + 1
}

// validateEndpoint checks a listening endpoint before any socket is created.
func validateEndpoint(port int, bindAddress string) (net.IP, error) {
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: got %d", common.ErrInvalidPort, port)
	}
	if bindAddress == "" {
		return net.IPv4zero, nil
	}
	ip := net.ParseIP(bindAddress)
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidBindAddress, bindAddress)
	}
	return ip, nil
}
