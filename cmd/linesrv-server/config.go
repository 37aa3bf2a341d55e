package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tbxark/linesrv/pkg/linesrv/server"
)

type options struct {
	Server      server.Config
	LogLevel    string
	LogFormat   string
	MetricsAddr string
	Handler     string
	ShowVersion bool
}

// loadOptions parses args and layers them over the config file and LINESRV_*
// environment variables. Flags set on the command line win, then the
// environment, then the file, then defaults.
func loadOptions(args []string) (*options, error) {
	defaults := server.DefaultConfig()
	fs := pflag.NewFlagSet("linesrv-server", pflag.ContinueOnError)

	configFile := fs.StringP("config", "c", "", "Path to a YAML config file")
	fs.String("bind-address", defaults.BindAddress, "IP address to listen on (empty for all interfaces)")
	fs.IntP("port", "p", defaults.Port, "TCP port to listen on")
	fs.Int("backlog", defaults.Backlog, "Listen backlog")
	fs.Bool("reuse-address", defaults.ReuseAddress, "Set SO_REUSEADDR on the listening socket")
	fs.Bool("close-on-max-connections", defaults.CloseOnMaxConnections, "Close the listener while all connection slots are taken")
	fs.Int("max-active-connections", defaults.MaxActiveConnections, "Maximum number of concurrent connections")
	fs.Duration("poll-timeout", defaults.PollTimeout, "Readiness wait for sockets")
	fs.Duration("full-backoff", defaults.FullBackoff, "Sleep while all connection slots are taken")
	fs.Duration("accept-error-backoff", defaults.AcceptErrorBackoff, "Sleep after a failed accept")
	fs.Int("recv-buffer-size", defaults.RecvBufferSize, "Per-connection receive buffer size")
	fs.Int("max-message-length", defaults.MaxMessageLength, "Longest message kept, longer lines are truncated")
	fs.Float64("accept-rate-per-ip", defaults.AcceptRatePerIP, "Accepted connections per second per IP (0 disables)")
	fs.Int("accept-burst-per-ip", defaults.AcceptBurstPerIP, "Accept burst per IP")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("log-format", "json", "Log format (json, console)")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address (empty disables)")
	fs.String("handler", "commands", "Message handler (echo, commands)")
	showVersion := fs.BoolP("version", "v", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *showVersion {
		return &options{ShowVersion: true}, nil
	}

	v := viper.New()
	v.SetEnvPrefix("LINESRV")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "version" {
			return
		}
		if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	opts := &options{
		LogLevel:    v.GetString("log_level"),
		LogFormat:   v.GetString("log_format"),
		MetricsAddr: v.GetString("metrics_addr"),
		Handler:     v.GetString("handler"),
	}
	if err := v.Unmarshal(&opts.Server); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := opts.Server.Validate(); err != nil {
		return nil, err
	}

	switch opts.Handler {
	case "echo", "commands":
	default:
		return nil, fmt.Errorf("unknown handler %q", opts.Handler)
	}
	switch opts.LogFormat {
	case "json", "console":
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.LogFormat)
	}

	return opts, nil
}
