// Package parser implements the Parser of spec.md §4.2: a persistent
// TCP client to the decoder, a line-accumulation buffer, and the K1/K2
// line grammar, backed by store.Store for persistence.
package parser

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vrlclient/ingest/internal/config"
	"github.com/vrlclient/ingest/internal/models"
	"github.com/vrlclient/ingest/internal/status"
	"github.com/vrlclient/ingest/internal/store"
	"github.com/vrlclient/ingest/pkg/logger"
)

const dropLogRateLimit = 100

// Parser maintains the decoder TCP connection state machine of
// spec.md §4.2: Disconnected -> Connecting -> Connected -> Disconnected.
type Parser struct {
	cfg       config.DecoderConfig
	store     *store.Store
	status    *status.Publisher
	logger    *logger.Logger
	dropCount int
	total     int64
}

// New builds a Parser.
func New(cfg config.DecoderConfig, st *store.Store, pub *status.Publisher, log *logger.Logger) *Parser {
	return &Parser{
		cfg:    cfg,
		store:  st,
		status: pub,
		logger: log.Named("parser"),
	}
}

// Run drives the reconnect loop until ctx is cancelled.
func (p *Parser) Run(ctx context.Context) error {
	p.logger.Info("parser starting")
	p.store.AppendLog(models.LogInfo, "PARSER", "parser started", "")

	for {
		if ctx.Err() != nil {
			p.status.SetTCPConnected(false)
			p.logger.Info("parser stopped")
			p.store.AppendLog(models.LogInfo, "PARSER", "parser stopped", "")
			return nil
		}

		if err := p.connectAndRead(ctx); err != nil {
			p.logger.Warn("decoder connection failed, will retry", logger.Error(err))
			p.store.AppendLog(models.LogWarn, "PARSER", "decoder connection failed", err.Error())
		}

		p.status.SetTCPConnected(false)

		select {
		case <-ctx.Done():
			p.logger.Info("parser stopped")
			return nil
		case <-time.After(p.cfg.Reconnect()):
		}
	}
}

// connectAndRead dials the decoder and reads lines until the
// connection is closed, read-idle-times-out, or ctx is cancelled.
func (p *Parser) connectAndRead(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	dialer := net.Dialer{Timeout: p.cfg.Connect()}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to decoder at %s: %w", addr, err)
	}
	defer conn.Close()

	p.status.SetTCPConnected(true)
	p.logger.Info("connected to decoder", logger.String("addr", addr))
	p.store.AppendLog(models.LogInfo, "PARSER", "connected to decoder", addr)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	reader := bufio.NewReader(conn)
	idleTimeout := p.cfg.Timeout()
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}

	for {
		if err := conn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if len(line) > 0 {
				p.handleLine(line)
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("decoder read failed: %w", err)
		}

		p.handleLine(line)
	}
}

// handleLine parses one complete line and persists the resulting
// packet. Parse errors and non-matching lines are rate-limited at one
// WARN per dropLogRateLimit drops (spec.md §4.2).
func (p *Parser) handleLine(raw string) {
	line := strings.TrimRight(raw, "\r\n")
	if line == "" {
		return
	}

	packet, err := ParseLine(line, time.Now())
	if err != nil {
		p.countDrop(line, err.Error())
		return
	}
	if packet == nil {
		p.countDrop(line, "")
		return
	}

	if _, err := p.store.InsertPacket(packet); err != nil {
		p.logger.Error("failed to persist packet", logger.Error(err))
		p.store.AppendLog(models.LogError, "PARSER", "failed to persist packet", err.Error())
		return
	}

	p.total++
	if p.total%100 == 0 {
		p.logger.Info("parser milestone", logger.String("packets_total", humanize.Comma(p.total)))
	}
}

func (p *Parser) countDrop(line, reason string) {
	p.dropCount++
	if p.dropCount%dropLogRateLimit == 1 {
		p.logger.Warn("dropped unparseable decoder line",
			logger.Int("drop_count", p.dropCount),
			logger.String("line", line),
			logger.String("reason", reason),
		)
		p.store.AppendLog(models.LogWarn, "PARSER", "dropped unparseable decoder line", line)
	}
}
