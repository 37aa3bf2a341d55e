package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/tbxark/linesrv/pkg/linesrv/client"
	"github.com/tbxark/linesrv/pkg/linesrv/common"
	"github.com/tbxark/linesrv/pkg/linesrv/version"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, logLevel, showVersion, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}
	if showVersion {
		fmt.Println(version.GetFullVersion())
		return
	}

	level, err := common.ParseLevel(logLevel)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logger, err := common.NewDevelopmentLogger(level)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdin, os.Stdout, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Client exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func parseFlags(args []string) (*client.Config, string, bool, error) {
	cfg := client.DefaultConfig("")
	fs := pflag.NewFlagSet("linesrv-client", pflag.ContinueOnError)

	fs.StringVarP(&cfg.ServerAddr, "server", "s", "127.0.0.1:2121", "Line server address (host:port)")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Timeout for one connection attempt")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "Write timeout for outgoing lines")
	fs.Uint64Var(&cfg.MaxRetries, "max-retries", 5, "Connection retries before giving up (0 retries forever)")
	fs.IntVar(&cfg.MaxLineLength, "max-line-length", cfg.MaxLineLength, "Longest reply accepted")
	logLevel := fs.String("log-level", "warn", "Log level (debug, info, warn, error)")
	showVersion := fs.BoolP("version", "v", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return nil, "", false, err
	}
	return cfg, *logLevel, *showVersion, nil
}

// run forwards stdin lines to the server and prints replies until either side
// closes.
func run(ctx context.Context, cfg *client.Config, in io.Reader, out io.Writer, logger *zap.Logger) error {
	c, err := client.Dial(ctx, cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// A handler may answer zero or several lines per message, so replies are
	// read independently of what was sent.
	g.Go(func() error {
		defer cancel()
		for {
			line, err := readReply(c)
			if err != nil {
				switch {
				case errors.Is(err, io.EOF):
					logger.Info("Server closed the connection")
					return nil
				case common.IsClosed(err), ctx.Err() != nil:
					return nil
				}
				return err
			}
			if _, err := fmt.Fprintln(out, line); err != nil {
				return err
			}
		}
	})

	g.Go(func() error {
		defer func() {
			_ = c.Close()
		}()

		lines := make(chan string)
		scanErr := make(chan error, 1)
		go func() {
			scanner := bufio.NewScanner(in)
			for scanner.Scan() {
				select {
				case lines <- scanner.Text():
				case <-ctx.Done():
					return
				}
			}
			scanErr <- scanner.Err()
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-scanErr:
				// Give in-flight replies a moment before closing.
				time.Sleep(200 * time.Millisecond)
				return err
			case line := <-lines:
				if err := c.Send(line); err != nil {
					return err
				}
			}
		}
	})

	return g.Wait()
}

// readReply waits for the next reply line, tolerating read timeouts.
func readReply(c *client.Client) (string, error) {
	for {
		line, err := c.ReadLine()
		if err == nil {
			return line, nil
		}
		if !common.IsTimeout(err) {
			return "", err
		}
	}
}
