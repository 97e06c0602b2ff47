// Package decoder owns the lifecycle of the external decoder
// subprocess: launching it, probing its TCP port until it accepts
// connections, and tearing it down on shutdown (spec.md §4.6 steps
// 4-5).
package decoder

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/vrlclient/ingest/internal/config"
	"github.com/vrlclient/ingest/pkg/logger"
)

const stopGrace = 5 * time.Second

// Handle owns the running decoder subprocess, if one was launched.
type Handle struct {
	cfg    config.DecoderConfig
	logger *logger.Logger
	cmd    *exec.Cmd
	exited chan struct{}
}

// New builds a Handle.
func New(cfg config.DecoderConfig, log *logger.Logger) *Handle {
	return &Handle{cfg: cfg, logger: log.Named("decoder")}
}

// Start launches the decoder executable as a child process and waits
// briefly to confirm it did not exit immediately, per
// original_source/vrl_client/decoder.py's start_decoder.
func (h *Handle) Start(ctx context.Context) error {
	args := strings.Fields(h.cfg.CommandArgs)
	cmd := exec.CommandContext(ctx, h.cfg.Executable, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start decoder %s: %w", h.cfg.Executable, err)
	}
	h.cmd = cmd

	h.logger.Info("decoder subprocess started", logger.String("executable", h.cfg.Executable), logger.Int("pid", cmd.Process.Pid))

	// cmd.Wait may only be called once, so Start owns the single call
	// and Stop waits on this channel instead of calling Wait itself.
	h.exited = make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(h.exited)
	}()

	select {
	case <-h.exited:
		return fmt.Errorf("decoder exited immediately after launch")
	case <-time.After(2 * time.Second):
		return nil
	}
}

// Stop terminates the decoder subprocess, giving it a grace period to
// exit on SIGTERM before escalating to a kill, per
// original_source/vrl_client/decoder.py's stop_decoder
// (terminate -> wait(timeout=5) -> kill).
func (h *Handle) Stop() error {
	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}

	h.logger.Info("stopping decoder subprocess")
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if killErr := h.cmd.Process.Kill(); killErr != nil {
			return fmt.Errorf("failed to stop decoder: %w", killErr)
		}
		return nil
	}

	select {
	case <-h.exited:
		h.logger.Info("decoder subprocess exited gracefully")
		return nil
	case <-time.After(stopGrace):
		h.logger.Warn("decoder subprocess did not exit within grace period, killing")
		if err := h.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill decoder after grace period: %w", err)
		}
		<-h.exited
		return nil
	}
}

// WaitForPort probes host:port up to maxAttempts times, waiting
// reconnectDelay between attempts, returning once a TCP connection
// succeeds or an error once attempts are exhausted (spec.md §4.6 step
// 4, grounded on tcp_connection.py's wait_for_decoder_connection).
func WaitForPort(ctx context.Context, cfg config.DecoderConfig, log *logger.Logger) error {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		log.Info("probing decoder port", logger.Int("attempt", attempt), logger.Int("max_attempts", maxAttempts), logger.String("addr", addr))

		conn, err := net.DialTimeout("tcp", addr, cfg.Connect())
		if err == nil {
			conn.Close()
			log.Info("decoder port is accepting connections", logger.String("addr", addr))
			return nil
		}

		if attempt == maxAttempts {
			return fmt.Errorf("decoder at %s did not accept connections after %d attempts: %w", addr, maxAttempts, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Reconnect()):
		}
	}

	return fmt.Errorf("decoder at %s did not accept connections", addr)
}
