package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/tbxark/linesrv/pkg/linesrv/common"
	"github.com/tbxark/linesrv/pkg/linesrv/handler"
	"github.com/tbxark/linesrv/pkg/linesrv/metrics"
	"github.com/tbxark/linesrv/pkg/linesrv/metrics/prometheus"
	"github.com/tbxark/linesrv/pkg/linesrv/server"
	"github.com/tbxark/linesrv/pkg/linesrv/version"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {
	opts, err := loadOptions(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if opts.ShowVersion {
		fmt.Println(version.GetFullVersion())
		return
	}

	logger, err := newLogger(opts)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(opts, logger); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func newLogger(opts *options) (*zap.Logger, error) {
	level, err := common.ParseLevel(opts.LogLevel)
	if err != nil {
		return nil, err
	}
	if opts.LogFormat == "console" {
		return common.NewDevelopmentLogger(level)
	}
	return common.NewLogger(level)
}

func run(opts *options, logger *zap.Logger) error {
	cfg := opts.Server
	logger.Info("Line server starting",
		zap.String("version", version.GetVersion()),
		zap.String("bind_address", cfg.BindAddress),
		zap.Int("port", cfg.Port),
		zap.Int("max_active_connections", cfg.MaxActiveConnections),
		zap.Bool("close_on_max_connections", cfg.CloseOnMaxConnections),
		zap.Int("max_message_length", cfg.MaxMessageLength),
		zap.String("handler", opts.Handler))

	var (
		serverMetrics metrics.ServerMetrics
		metricsServer *metrics.HTTPServer
	)
	if opts.MetricsAddr != "" {
		metrics.InitRegistry()
		serverMetrics = prometheus.NewServerMetrics()
		metricsServer = metrics.NewHTTPServer(opts.MetricsAddr, logger)
	}

	var h server.MessageHandler
	switch opts.Handler {
	case "echo":
		h = handler.Echo(logger)
	default:
		h = handler.NewCommands(logger)
	}

	srv, err := server.NewServer(cfg, h, serverMetrics, logger)
	if err != nil {
		return err
	}
	if err := srv.SetupListening(cfg.Port, cfg.BindAddress); err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsErr := make(chan error, 1)
	if metricsServer != nil {
		go func() {
			metricsErr <- metricsServer.Start(ctx)
		}()
	}

	serverDone := make(chan struct{})
	go func() {
		srv.WaitServer()
		close(serverDone)
	}()

	var errs error
	select {
	case <-ctx.Done():
		logger.Info("Received signal, shutting down")
	case <-serverDone:
		logger.Info("Server stopped on its own")
	case err := <-metricsErr:
		errs = multierr.Append(errs, err)
	}

	errs = multierr.Append(errs, srv.Stop())
	srv.WaitServer()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = multierr.Append(errs, metricsServer.Stop(shutdownCtx))
	}

	logger.Info("Line server stopped",
		zap.Int64("messages", srv.MessageCount()))
	return errs
}
