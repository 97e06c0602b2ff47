// Command vrl-client is the on-premise ingestion client: it launches
// the decoder, parses its K1/K2 line stream, correlates packets into
// flight tracks, and ships them to the ingest API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vrlclient/ingest/internal/config"
	"github.com/vrlclient/ingest/internal/supervisor"
	"github.com/vrlclient/ingest/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		logLevel   string
		logFormat  string
	)

	flag.StringVar(&configPath, "config", "./config.toml", "path to the TOML configuration file")
	flag.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.StringVar(&logFormat, "log-format", "", "log format: json, console (default: auto-detect)")
	flag.Parse()

	log, err := logger.New(logger.Config{Level: logLevel, Format: logFormat})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(cfg, log)
	if err := sup.Run(ctx); err != nil {
		var fatal *supervisor.FatalError
		if errors.As(err, &fatal) {
			log.Error("bringup failed", logger.String("stage", fatal.Stage), logger.Error(fatal.Err))
			return fatal
		}
		log.Error("client exited with error", logger.Error(err))
		return err
	}

	return nil
}
