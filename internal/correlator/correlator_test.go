package correlator

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/vrlclient/ingest/internal/config"
	"github.com/vrlclient/ingest/internal/models"
	"github.com/vrlclient/ingest/internal/store"
	"github.com/vrlclient/ingest/pkg/logger"
)

func newCorrelatorTestStore(t *testing.T) *store.Store {
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
	return s
}

// TestRunCycleAgesOutStalePacketsPastThreshold backs S2: an unmatched
// packet older than stale_threshold relative to the newest packet of
// the opposite type is marked sent=failed instead of staying pending
// forever.
func TestRunCycleAgesOutStalePacketsPastThreshold(t *testing.T) {
	s := newCorrelatorTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	// K1 far enough in the past that it falls outside both the
	// correlation window and the stale threshold relative to the K2
	// below.
	oldK1 := models.NewK1(now.Add(-2*time.Minute), "UAL123")
	if _, err := s.InsertPacket(oldK1); err != nil {
		t.Fatalf("insert K1: %v", err)
	}

	// A recent K2 with no corresponding K1 nearby; its event_time
	// becomes the "newest opposite-type" reference the K1 is aged out
	// against.
	freshK2 := models.NewK2(now, 5000, 60)
	if _, err := s.InsertPacket(freshK2); err != nil {
		t.Fatalf("insert K2: %v", err)
	}

	cfg := config.CyclesConfig{
		BatchSize:           10,
		CorrelationWindowMS: 1000,
		StaleThresholdSec:   60,
	}
	corr := New(cfg, s, testCorrelatorLogger(t))

	if err := corr.runCycle(); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	k1s, err := s.SelectUnboundPackets(models.PacketTypeK1, 10)
	if err != nil {
		t.Fatalf("select unbound K1: %v", err)
	}
	if len(k1s) != 0 {
		t.Errorf("expected the stale K1 to no longer be pending, got %+v", k1s)
	}
}

// TestRunCycleLeavesRecentUnmatchedPacketsPending confirms the
// staleness sweep only ages out packets that are actually past
// stale_threshold: an unmatched packet newer than the threshold stays
// pending for a future correlation cycle.
func TestRunCycleLeavesRecentUnmatchedPacketsPending(t *testing.T) {
	s := newCorrelatorTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	// K1 just 5s before the K2 reference point, well inside the 60s
	// stale threshold, but far outside the 1s correlation window so it
	// doesn't get matched into a track either.
	recentK1 := models.NewK1(now.Add(-5*time.Second), "UAL123")
	if _, err := s.InsertPacket(recentK1); err != nil {
		t.Fatalf("insert K1: %v", err)
	}

	freshK2 := models.NewK2(now, 5000, 60)
	if _, err := s.InsertPacket(freshK2); err != nil {
		t.Fatalf("insert K2: %v", err)
	}

	cfg := config.CyclesConfig{
		BatchSize:           10,
		CorrelationWindowMS: 1000,
		StaleThresholdSec:   60,
	}
	corr := New(cfg, s, testCorrelatorLogger(t))

	if err := corr.runCycle(); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	k1s, err := s.SelectUnboundPackets(models.PacketTypeK1, 10)
	if err != nil {
		t.Fatalf("select unbound K1: %v", err)
	}
	if len(k1s) != 1 {
		t.Errorf("expected the recent unmatched K1 to remain pending, got %+v", k1s)
	}
}

func testCorrelatorLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}
