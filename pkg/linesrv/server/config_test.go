package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tbxark/linesrv/pkg/linesrv/common"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2121, cfg.Port)
	assert.Equal(t, "", cfg.BindAddress)
	assert.Equal(t, 10, cfg.Backlog)
	assert.True(t, cfg.ReuseAddress)
	assert.True(t, cfg.CloseOnMaxConnections)
	assert.Equal(t, 200, cfg.MaxActiveConnections)
	assert.Equal(t, 500*time.Millisecond, cfg.PollTimeout)
	assert.Equal(t, time.Second, cfg.FullBackoff)
	assert.Equal(t, 1024, cfg.RecvBufferSize)
	assert.Equal(t, 4095, cfg.MaxMessageLength)
	assert.Equal(t, 4096, cfg.SendBufferSize())
	assert.Zero(t, cfg.AcceptRatePerIP)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "defaults", modify: func(*Config) {}},
		{name: "ipv4 bind", modify: func(c *Config) { c.BindAddress = "127.0.0.1" }},
		{name: "ipv6 bind", modify: func(c *Config) { c.BindAddress = "::1" }},
		{name: "hostname bind", modify: func(c *Config) { c.BindAddress = "localhost" }, wantErr: true},
		{name: "port zero", modify: func(c *Config) { c.Port = 0 }, wantErr: true},
		{name: "port too large", modify: func(c *Config) { c.Port = 65536 }, wantErr: true},
		{name: "zero backlog", modify: func(c *Config) { c.Backlog = 0 }, wantErr: true},
		{name: "zero connections", modify: func(c *Config) { c.MaxActiveConnections = 0 }, wantErr: true},
		{name: "zero poll timeout", modify: func(c *Config) { c.PollTimeout = 0 }, wantErr: true},
		{name: "zero full backoff", modify: func(c *Config) { c.FullBackoff = 0 }, wantErr: true},
		{name: "zero recv buffer", modify: func(c *Config) { c.RecvBufferSize = 0 }, wantErr: true},
		{name: "zero max length", modify: func(c *Config) { c.MaxMessageLength = 0 }, wantErr: true},
		{name: "negative rate", modify: func(c *Config) { c.AcceptRatePerIP = -1 }, wantErr: true},
		{name: "rate without burst", modify: func(c *Config) { c.AcceptRatePerIP = 5 }, wantErr: true},
		{name: "rate with burst", modify: func(c *Config) {
			c.AcceptRatePerIP = 5
			c.AcceptBurstPerIP = 10
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEndpoint(t *testing.T) {
	ip, err := validateEndpoint(2121, "")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", ip.String())

	ip, err = validateEndpoint(1, "::1")
	require.NoError(t, err)
	assert.Equal(t, "::1", ip.String())

	_, err = validateEndpoint(0, "")
	assert.ErrorIs(t, err, common.ErrInvalidPort)
	_, err = validateEndpoint(65536, "")
	assert.ErrorIs(t, err, common.ErrInvalidPort)
	_, err = validateEndpoint(80, "example.com")
	assert.ErrorIs(t, err, common.ErrInvalidBindAddress)
}
