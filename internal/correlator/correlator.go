// Package correlator implements the Correlator of spec.md §4.3: a
// fixed-cadence two-pointer merge that pairs unbound K1 and K2 packets
// within a time window into FlightTrack records.
package correlator

import (
	"context"
	"fmt"
	"time"

	"github.com/vrlclient/ingest/internal/config"
	"github.com/vrlclient/ingest/internal/models"
	"github.com/vrlclient/ingest/internal/store"
	"github.com/vrlclient/ingest/pkg/logger"
)

// Correlator runs the fixed-cadence correlation cycle.
type Correlator struct {
	cfg    config.CyclesConfig
	store  *store.Store
	logger *logger.Logger
}

// New builds a Correlator.
func New(cfg config.CyclesConfig, st *store.Store, log *logger.Logger) *Correlator {
	return &Correlator{cfg: cfg, store: st, logger: log.Named("correlator")}
}

// Run ticks at cfg.AnalyserInterval() until ctx is cancelled.
func (c *Correlator) Run(ctx context.Context) error {
	c.logger.Info("correlator starting")
	c.store.AppendLog(models.LogInfo, "CORRELATOR", "correlator started", "")

	ticker := time.NewTicker(c.cfg.AnalyserInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("correlator stopped")
			c.store.AppendLog(models.LogInfo, "CORRELATOR", "correlator stopped", "")
			return nil
		case <-ticker.C:
			if err := c.runCycle(); err != nil {
				c.logger.Error("correlation cycle failed", logger.Error(err))
				c.store.AppendLog(models.LogError, "CORRELATOR", "correlation cycle failed", err.Error())
			}
		}
	}
}

// runCycle performs one full correlation pass (spec.md §4.3, steps 1-5).
func (c *Correlator) runCycle() error {
	window := c.cfg.CorrelationWindow()
	batchSize := c.cfg.BatchSize
	staleThreshold := c.cfg.StaleThreshold()

	k1s, err := c.store.SelectUnboundPackets(models.PacketTypeK1, batchSize)
	if err != nil {
		return fmt.Errorf("failed to load unbound K1 packets: %w", err)
	}
	k2s, err := c.store.SelectUnboundPackets(models.PacketTypeK2, batchSize)
	if err != nil {
		return fmt.Errorf("failed to load unbound K2 packets: %w", err)
	}

	if len(k1s) == 0 && len(k2s) == 0 {
		return nil
	}

	pairs, unmatchedK1, unmatchedK2 := Match(k1s, k2s, window)

	for _, pair := range pairs {
		fields := store.TrackFields{
			Callsign:  pair.K1.Callsign,
			HeightM:   *pair.K2.HeightM,
			FuelPct:   *pair.K2.FuelPct,
			Timestamp: pair.K2.EventTime,
		}
		if _, err := c.store.CreateTrackAndBind(pair.K1.ID, pair.K2.ID, fields); err != nil {
			// A bind collision (another instance won the race) is
			// logged and the K1 is simply retried next cycle.
			c.logger.Warn("failed to bind K1/K2 pair, will retry next cycle",
				logger.Int64("k1_id", pair.K1.ID),
				logger.Int64("k2_id", pair.K2.ID),
				logger.Error(err),
			)
			continue
		}

		c.logger.Info("bound flight track",
			logger.String("callsign", pair.K1.Callsign),
			logger.Int("height_m", *pair.K2.HeightM),
			logger.Int("fuel_pct", *pair.K2.FuelPct),
		)
	}

	newestK2 := newestEventTime(k2s)
	newestK1 := newestEventTime(k1s)

	c.ageOutStale(unmatchedK1, newestK2, staleThreshold)
	c.ageOutStale(unmatchedK2, newestK1, staleThreshold)

	return nil
}

// ageOutStale marks any packet in stale whose EventTime is older than
// staleThreshold relative to reference as sent=failed, reason
// "unmatched" (spec.md §4.3, step 5).
func (c *Correlator) ageOutStale(stale []*models.RawPacket, reference time.Time, staleThreshold time.Duration) {
	if reference.IsZero() {
		return
	}
	for _, p := range stale {
		if reference.Sub(p.EventTime) <= staleThreshold {
			continue
		}
		if err := c.store.MarkPacketFailed(p.ID); err != nil {
			c.logger.Error("failed to age out stale packet", logger.Int64("packet_id", p.ID), logger.Error(err))
			continue
		}
		c.logger.Info("aged out unmatched packet",
			logger.Int64("packet_id", p.ID),
			logger.String("type", string(p.Type)),
		)
		c.store.AppendLog(models.LogInfo, "CORRELATOR", "unmatched", fmt.Sprintf("packet %d (%s)", p.ID, p.Type))
	}
}

func newestEventTime(packets []*models.RawPacket) time.Time {
	var newest time.Time
	for _, p := range packets {
		if p.EventTime.After(newest) {
			newest = p.EventTime
		}
	}
	return newest
}
