package sender

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/vrlclient/ingest/internal/config"
	"github.com/vrlclient/ingest/internal/models"
	"github.com/vrlclient/ingest/internal/store"
	"github.com/vrlclient/ingest/pkg/logger"
)

func newTestStoreWithTrack(t *testing.T) *store.Store {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	now := time.Now().UTC().Truncate(time.Second)
	k1 := models.NewK1(now, "UAL123")
	k1ID, err := s.InsertPacket(k1)
	if err != nil {
		t.Fatalf("insert k1: %v", err)
	}
	k2 := models.NewK2(now, 5000, 60)
	k2ID, err := s.InsertPacket(k2)
	if err != nil {
		t.Fatalf("insert k2: %v", err)
	}
	if _, err := s.CreateTrackAndBind(k1ID, k2ID, store.TrackFields{
		Callsign: "UAL123", HeightM: 5000, FuelPct: 60, Timestamp: now,
	}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	return s
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestSenderMarksTracksDoneOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestStoreWithTrack(t)
	api := config.APIConfig{URL: srv.URL, ClientID: 1, SecretKey: "k", BearerToken: "t", TimeoutSeconds: 5}
	cycles := config.CyclesConfig{BatchSize: 10, SenderIntervalSec: 1}

	snd := New(api, cycles, s, testLogger(t))
	wait := snd.runCycle(context.Background())
	if wait != cycles.SenderInterval() {
		t.Errorf("expected nominal interval after success, got %v", wait)
	}

	pending, err := s.SelectPendingTracks(10)
	if err != nil {
		t.Fatalf("select pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending tracks after 2xx, got %d", len(pending))
	}
}

func TestSenderMarksTracksFailedOn4xxWithoutRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := newTestStoreWithTrack(t)
	api := config.APIConfig{URL: srv.URL, ClientID: 1, SecretKey: "k", BearerToken: "t", TimeoutSeconds: 5}
	cycles := config.CyclesConfig{BatchSize: 10, SenderIntervalSec: 1}

	snd := New(api, cycles, s, testLogger(t))
	snd.runCycle(context.Background())

	pending, err := s.SelectPendingTracks(10)
	if err != nil {
		t.Fatalf("select pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected 4xx to terminally resolve the track (not stay pending), got %d pending", len(pending))
	}
}

func TestSenderLeavesTracksPendingOn5xxAndBacksOff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newTestStoreWithTrack(t)
	api := config.APIConfig{URL: srv.URL, ClientID: 1, SecretKey: "k", BearerToken: "t", TimeoutSeconds: 5}
	cycles := config.CyclesConfig{BatchSize: 10, SenderIntervalSec: 1}

	snd := New(api, cycles, s, testLogger(t))
	baseline := snd.backoff
	wait := snd.runCycle(context.Background())

	if wait <= baseline {
		t.Errorf("expected backoff to grow past the nominal interval, got %v (baseline %v)", wait, baseline)
	}

	pending, err := s.SelectPendingTracks(10)
	if err != nil {
		t.Fatalf("select pending: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("expected track to remain pending after 5xx, got %d", len(pending))
	}
}
