// Package pinger implements the Pinger of spec.md §4.5: a periodic
// signed heartbeat carrying local system state to api.status_url.
package pinger

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vrlclient/ingest/internal/config"
	"github.com/vrlclient/ingest/internal/models"
	"github.com/vrlclient/ingest/internal/signing"
	"github.com/vrlclient/ingest/internal/status"
	"github.com/vrlclient/ingest/internal/store"
	"github.com/vrlclient/ingest/pkg/logger"
)

// stagesBody mirrors status.Stages on the wire (spec.md §6).
type stagesBody struct {
	Dependencies  bool `json:"dependencies"`
	Config        bool `json:"config"`
	Database      bool `json:"database"`
	TimeSync      bool `json:"time_sync"`
	Decoder       bool `json:"decoder"`
	TCPConnection bool `json:"tcp_connection"`
}

// heartbeatBody is the POST api.status_url request body (spec.md §6).
type heartbeatBody struct {
	ClientID     int64      `json:"client_id"`
	Version      string     `json:"version"`
	Stages       stagesBody `json:"stages"`
	TCPConnected bool       `json:"tcp_connected"`
	Uptime       float64    `json:"uptime"`
	SystemInfo   string     `json:"system_info"`
}

// Pinger drives the fixed-cadence heartbeat cycle.
type Pinger struct {
	api        config.APIConfig
	version    string
	status     *status.Publisher
	httpClient *http.Client
	signer     signing.Signer
	store      *store.Store
	logger     *logger.Logger
}

// New builds a Pinger. version is app.version from the bringup
// configuration, carried onto the wire per spec.md §6.
func New(api config.APIConfig, version string, pub *status.Publisher, st *store.Store, log *logger.Logger) *Pinger {
	return &Pinger{
		api:        api,
		version:    version,
		status:     pub,
		httpClient: &http.Client{Timeout: api.Timeout()},
		signer:     signing.Signer{SecretKey: api.SecretKey, BearerToken: api.BearerToken},
		store:      st,
		logger:     log.Named("pinger"),
	}
}

// Run ticks at api.Ping() until ctx is cancelled.
func (p *Pinger) Run(ctx context.Context) error {
	p.logger.Info("pinger starting")
	p.store.AppendLog(models.LogInfo, "PINGER", "pinger started", "")

	ticker := time.NewTicker(p.api.Ping())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pinger stopped")
			p.store.AppendLog(models.LogInfo, "PINGER", "pinger stopped", "")
			return nil
		case <-ticker.C:
			if err := p.sendHeartbeat(ctx); err != nil {
				p.logger.Warn("heartbeat failed", logger.Error(err))
				p.store.AppendLog(models.LogWarn, "PINGER", "heartbeat failed", err.Error())
			}
		}
	}
}

// sendHeartbeat builds, signs and POSTs one heartbeat. A failure here
// is never fatal to the process (spec.md §4.5): it is logged and
// retried on the next tick.
func (p *Pinger) sendHeartbeat(ctx context.Context) error {
	snap := p.status.Snapshot()

	body := heartbeatBody{
		ClientID: p.api.ClientID,
		Version:  p.version,
		Stages: stagesBody{
			Dependencies:  snap.Stages.Dependencies,
			Config:        snap.Stages.Config,
			Database:      snap.Stages.Database,
			TimeSync:      snap.Stages.TimeSync,
			Decoder:       snap.Stages.Decoder,
			TCPConnection: snap.Stages.TCPConnection,
		},
		TCPConnected: snap.TCPConnected,
		Uptime:       snap.Uptime().Seconds(),
		SystemInfo:   snap.SystemInfo,
	}

	signed, err := p.signer.Sign(body)
	if err != nil {
		return fmt.Errorf("failed to sign heartbeat: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.api.StatusURL, bytes.NewReader(signed.Bytes))
	if err != nil {
		return fmt.Errorf("failed to build heartbeat request: %w", err)
	}
	p.signer.Apply(req, signed)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to POST heartbeat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("heartbeat rejected with status %d", resp.StatusCode)
	}

	p.logger.Debug("heartbeat sent", logger.Bool("tcp_connected", snap.TCPConnected))
	return nil
}
