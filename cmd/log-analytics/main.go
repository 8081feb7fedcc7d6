package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/scality/log-analytics/pkg/ingest"
	"github.com/scality/log-analytics/pkg/util"
)

const usageHeader = `Usage: log-analytics [flags] <command>

Commands:
  migrate                 create the tables of the store backend
  ingest                  ingest the access log files of the source
  top-items               rank items by distinct requesters
  top-requesters          rank IPs by requests, without excluded requesters
  intervals               count requests around regularly spaced sample times
  materialize-intervals   compute and store the interval counts of a segment
  stats                   summarize the requests
  item                    break down the requests of --key by requester and IP
  source                  rank the items requested by --requester or --ip

Flags:
`

// errUsage marks errors in the command line
var errUsage = errors.New("usage error")

// options holds the query flags
//
//nolint:govet // fieldalignment: logical field grouping preferred over minor memory optimization
type options struct {
	start     string
	end       string
	width     time.Duration
	limit     int
	page      int
	key       string
	keyPrefix string
	requester string
	ip        string
	segment   string
	stored    bool
}

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.CommandLine
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usageHeader)
		flags.PrintDefaults()
	}

	ingest.ConfigSpec.AddFlag(flags, "log-level", "log-level")
	ingest.ConfigSpec.AddFlag(flags, "store-backend", "store.backend")
	ingest.ConfigSpec.AddFlag(flags, "source-dir", "source.dir")

	var opts options
	configFileFlag := flags.String("config-file", "", "Path to configuration file")
	flags.StringVar(&opts.start, "start", "", "Start of the time range (RFC 3339); defaults to analytics.start-time")
	flags.StringVar(&opts.end, "end", "", "End of the time range (RFC 3339); defaults to now")
	flags.DurationVar(&opts.width, "width", 0, "Interval width; defaults to analytics.interval-hours")
	flags.IntVar(&opts.limit, "limit", 0, "Rows per page; defaults to analytics.page-size")
	flags.IntVar(&opts.page, "page", 1, "Page number, from 1")
	flags.StringVar(&opts.key, "key", "", "Object key")
	flags.StringVar(&opts.keyPrefix, "key-prefix", "", "Only count keys with this prefix")
	flags.StringVar(&opts.requester, "requester", "", "Only count this requester")
	flags.StringVar(&opts.ip, "ip", "", "Only count this IP")
	flags.StringVar(&opts.segment, "segment", "", "Name of a materialized interval series")
	flags.BoolVar(&opts.stored, "stored", false, "Read the materialized intervals of --segment instead of counting")
	pflag.Parse()

	if pflag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Exactly one command is required")
		pflag.Usage()
		return 2
	}
	command := pflag.Arg(0)

	// Load configuration
	configFile := *configFileFlag
	if configFile == "" {
		configFile = os.Getenv("LOG_ANALYTICS_CONFIG_FILE")
	}

	err := ingest.ConfigSpec.LoadConfiguration(configFile, "", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		pflag.Usage()
		return 2
	}

	// Validate configuration
	err = ingest.ValidateConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation error: %v\n", err)
		return 2
	}

	// Logs go to stderr, results to stdout
	logLevel := util.ParseLogLevel(ingest.ConfigSpec.GetString("log-level"))
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cmd, ok := commands[command]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		pflag.Usage()
		return 2
	}

	// Start metrics server
	metricsServer, err := util.StartMetricsServerIfEnabled(
		ingest.ConfigSpec, "metrics-server", nil, logger)
	if err != nil {
		logger.Error("failed to start metrics server", "error", err)
		return 1
	}
	if metricsServer != nil {
		defer func() {
			if closeErr := metricsServer.Close(); closeErr != nil {
				logger.Error("failed to close metrics server", "error", closeErr)
			}
		}()
	}

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalsChan := make(chan os.Signal, 1)
	signal.Notify(signalsChan, unix.SIGINT, unix.SIGTERM)
	defer signal.Stop(signalsChan)

	shutdownTimeout := ingest.ConfigSpec.GetSeconds("shutdown-timeout-seconds")

	errChan := make(chan error, 1)
	go func() {
		errChan <- cmd(ctx, &app{
			logger:   logger,
			opts:     &opts,
			out:      os.Stdout,
			registry: prometheus.DefaultRegisterer,
		})
	}()

	code := waitForShutdown(cancel, logger, errChan, signalsChan, shutdownTimeout)
	if code == 0 {
		logger.Debug("command done", "command", command)
	}
	return code
}

// waitForShutdown waits for the command to end or a shutdown signal, returns exit code
func waitForShutdown(cancel context.CancelFunc, logger *slog.Logger,
	errChan <-chan error, signalsChan <-chan os.Signal, shutdownTimeout time.Duration) int {
	select {
	case sig := <-signalsChan:
		logger.Info("signal received", "signal", sig)
		cancel()

		// Wait for the command to stop gracefully (with timeout)
		shutdownTimer := time.NewTimer(shutdownTimeout)
		defer shutdownTimer.Stop()

		select {
		case <-shutdownTimer.C:
			logger.Warn("shutdown timeout exceeded, forcing exit")
			return 1
		case err := <-errChan:
			return exitCode(logger, err)
		}

	case err := <-errChan:
		return exitCode(logger, err)
	}
}

func exitCode(logger *slog.Logger, err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	default:
		logger.Error("command failed", "error", err)
		return 1
	}
}

// writeJSON prints a result as indented JSON
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
