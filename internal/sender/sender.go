// Package sender implements the Sender of spec.md §4.4: batches
// unsent tracks, signs and POSTs them, and records the outcome with
// exponential backoff on failure.
package sender

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/vrlclient/ingest/internal/config"
	"github.com/vrlclient/ingest/internal/models"
	"github.com/vrlclient/ingest/internal/signing"
	"github.com/vrlclient/ingest/internal/store"
	"github.com/vrlclient/ingest/pkg/logger"
)

const (
	maxErrorBodyLen = 512
	maxBackoff      = 5 * time.Minute
)

// trackPayload is one track's wire representation (spec.md §6).
type trackPayload struct {
	Callsign  string `json:"callsign"`
	Height    int    `json:"height"`
	Fuel      int    `json:"fuel"`
	Timestamp string `json:"timestamp"`
}

// ingestBody is the POST /api request body, keys sorted by
// internal/signing before the signature is computed.
type ingestBody struct {
	ClientID int64          `json:"client_id"`
	Tracks   []trackPayload `json:"tracks"`
}

// Sender drives the fixed-cadence batch-send cycle.
type Sender struct {
	api        config.APIConfig
	cycles     config.CyclesConfig
	store      *store.Store
	httpClient *http.Client
	signer     signing.Signer
	logger     *logger.Logger

	backoff time.Duration
}

// New builds a Sender.
func New(api config.APIConfig, cycles config.CyclesConfig, st *store.Store, log *logger.Logger) *Sender {
	return &Sender{
		api:        api,
		cycles:     cycles,
		store:      st,
		httpClient: &http.Client{Timeout: api.Timeout()},
		signer:     signing.Signer{SecretKey: api.SecretKey, BearerToken: api.BearerToken},
		logger:     log.Named("sender"),
		backoff:    cycles.SenderInterval(),
	}
}

// Run drives the send cycle until ctx is cancelled.
func (s *Sender) Run(ctx context.Context) error {
	s.logger.Info("sender starting")
	s.store.AppendLog(models.LogInfo, "SENDER", "sender started", "")

	for {
		wait := s.runCycle(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("sender stopped")
			s.store.AppendLog(models.LogInfo, "SENDER", "sender stopped", "")
			return nil
		case <-time.After(wait):
		}
	}
}

// runCycle performs one send attempt and returns how long to wait
// before the next cycle: the nominal interval on success or empty
// batch, or the current backoff on failure.
func (s *Sender) runCycle(ctx context.Context) time.Duration {
	tracks, err := s.store.SelectPendingTracks(s.cycles.BatchSize)
	if err != nil {
		s.logger.Error("failed to load pending tracks", logger.Error(err))
		s.store.AppendLog(models.LogError, "SENDER", "failed to load pending tracks", err.Error())
		return s.cycles.SenderInterval()
	}

	if len(tracks) == 0 {
		return s.cycles.SenderInterval()
	}

	if err := s.sendBatch(ctx, tracks); err != nil {
		s.logger.Warn("send batch failed, will retry", logger.Error(err), logger.Int("batch_size", len(tracks)))
		return s.nextBackoff()
	}

	s.resetBackoff()
	return s.cycles.SenderInterval()
}

// sendBatch builds, signs and POSTs one batch, then classifies the
// response per spec.md §4.4 step 5.
func (s *Sender) sendBatch(ctx context.Context, tracks []*models.FlightTrack) error {
	body := ingestBody{ClientID: s.api.ClientID, Tracks: make([]trackPayload, len(tracks))}
	for i, t := range tracks {
		body.Tracks[i] = trackPayload{
			Callsign:  t.Callsign,
			Height:    t.HeightM,
			Fuel:      t.FuelPct,
			Timestamp: t.Timestamp.UTC().Format(time.RFC3339),
		}
	}

	signed, err := s.signer.Sign(body)
	if err != nil {
		return fmt.Errorf("failed to sign track batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.api.URL, bytes.NewReader(signed.Bytes))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	s.signer.Apply(req, signed)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to POST track batch: %w", err)
	}
	defer resp.Body.Close()

	ids := make([]int64, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		now := time.Now().UTC()
		if err := s.store.MarkTracks(store.TrackOutcome{IDs: ids, Sent: models.SendDone, SentAt: &now}); err != nil {
			return fmt.Errorf("failed to mark tracks done: %w", err)
		}
		s.logger.Info("sent track batch", logger.Int("count", len(tracks)))
		s.store.AppendLog(models.LogInfo, "SENDER", "sent track batch", fmt.Sprintf("count=%d", len(tracks)))
		return nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		errBody := readTruncated(resp.Body, maxErrorBodyLen)
		errMsg := fmt.Sprintf("status %d: %s", resp.StatusCode, errBody)
		if err := s.store.MarkTracks(store.TrackOutcome{IDs: ids, Sent: models.SendFailed, Error: errMsg}); err != nil {
			return fmt.Errorf("failed to mark tracks failed: %w", err)
		}
		s.logger.Error("track batch rejected by API, not retrying", logger.Int("status", resp.StatusCode))
		s.store.AppendLog(models.LogError, "SENDER", "track batch rejected", errMsg)
		return nil

	default:
		// 5xx, or any other unexpected status: leave pending, retry
		// the same batch next cycle after backoff.
		errBody := readTruncated(resp.Body, maxErrorBodyLen)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, errBody)
	}
}

func readTruncated(r io.Reader, limit int) string {
	b, _ := io.ReadAll(io.LimitReader(r, int64(limit)))
	return string(b)
}

// nextBackoff doubles the current backoff (capped at maxBackoff) and
// adds jitter, per spec.md §4.4 step 6.
func (s *Sender) nextBackoff() time.Duration {
	s.backoff *= 2
	if s.backoff > maxBackoff {
		s.backoff = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(s.backoff) / 4 + 1))
	return s.backoff + jitter
}

func (s *Sender) resetBackoff() {
	s.backoff = s.cycles.SenderInterval()
}
