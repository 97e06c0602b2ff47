package correlator

import (
	"testing"
	"time"

	"github.com/vrlclient/ingest/internal/models"
)

func k1At(id int64, t time.Time, callsign string) *models.RawPacket {
	p := models.NewK1(t, callsign)
	p.ID = id
	return p
}

func k2At(id int64, t time.Time, height, fuel int) *models.RawPacket {
	p := models.NewK2(t, height, fuel)
	p.ID = id
	return p
}

func TestMatchPairsWithinWindow(t *testing.T) {
	base := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	k1 := k1At(1, base, "UAL123")
	k2 := k2At(2, base.Add(1*time.Second), 5000, 60)

	pairs, unmatchedK1, unmatchedK2 := Match([]*models.RawPacket{k1}, []*models.RawPacket{k2}, 5*time.Second)

	if len(pairs) != 1 {
		t.Fatalf("pairs = %d, want 1", len(pairs))
	}
	if len(unmatchedK1) != 0 || len(unmatchedK2) != 0 {
		t.Errorf("expected no unmatched packets, got k1=%d k2=%d", len(unmatchedK1), len(unmatchedK2))
	}
	if pairs[0].K1.ID != 1 || pairs[0].K2.ID != 2 {
		t.Errorf("unexpected pair: %+v", pairs[0])
	}
}

func TestMatchRejectsOutsideWindow(t *testing.T) {
	base := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	k1 := k1At(1, base, "UAL123")
	k2 := k2At(2, base.Add(10*time.Second), 5000, 60)

	pairs, unmatchedK1, unmatchedK2 := Match([]*models.RawPacket{k1}, []*models.RawPacket{k2}, 5*time.Second)

	if len(pairs) != 0 {
		t.Fatalf("pairs = %d, want 0", len(pairs))
	}
	if len(unmatchedK1) != 1 || len(unmatchedK2) != 1 {
		t.Errorf("expected both packets unmatched, got k1=%d k2=%d", len(unmatchedK1), len(unmatchedK2))
	}
}

func TestMatchTieBreaksOnEarlierThenSmallerID(t *testing.T) {
	base := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	k1 := k1At(1, base, "UAL123")

	// Both k2 candidates are equidistant (2s) from k1; the earlier one
	// (id 10, at base-2s) must win over the later one (id 20, at base+2s).
	earlier := k2At(10, base.Add(-2*time.Second), 5000, 60)
	later := k2At(20, base.Add(2*time.Second), 5000, 61)

	pairs, _, _ := Match([]*models.RawPacket{k1}, []*models.RawPacket{later, earlier}, 5*time.Second)

	if len(pairs) != 1 {
		t.Fatalf("pairs = %d, want 1", len(pairs))
	}
	if pairs[0].K2.ID != 10 {
		t.Errorf("K2.ID = %d, want 10 (earlier event_time should win the tie)", pairs[0].K2.ID)
	}
}

func TestMatchTieBreaksOnSmallerIDWhenTimesEqual(t *testing.T) {
	base := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	k1 := k1At(1, base, "UAL123")

	a := k2At(30, base.Add(1*time.Second), 5000, 60)
	b := k2At(25, base.Add(1*time.Second), 5000, 61)

	pairs, _, _ := Match([]*models.RawPacket{k1}, []*models.RawPacket{a, b}, 5*time.Second)

	if len(pairs) != 1 {
		t.Fatalf("pairs = %d, want 1", len(pairs))
	}
	if pairs[0].K2.ID != 25 {
		t.Errorf("K2.ID = %d, want 25 (smaller id should win when event_time ties)", pairs[0].K2.ID)
	}
}

func TestMatchEachK2ConsumedAtMostOnce(t *testing.T) {
	base := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	k1a := k1At(1, base, "UAL123")
	k1b := k1At(2, base.Add(1*time.Second), "UAL124")
	k2 := k2At(10, base, 5000, 60)

	pairs, unmatchedK1, _ := Match([]*models.RawPacket{k1a, k1b}, []*models.RawPacket{k2}, 5*time.Second)

	if len(pairs) != 1 {
		t.Fatalf("pairs = %d, want 1 (the single K2 can only bind once)", len(pairs))
	}
	if len(unmatchedK1) != 1 {
		t.Fatalf("unmatchedK1 = %d, want 1", len(unmatchedK1))
	}
	if pairs[0].K1.ID != 1 {
		t.Errorf("expected the closer/earlier K1 (id 1) to win the K2, got id %d", pairs[0].K1.ID)
	}
}

func TestMatchIsDeterministicUnderReshuffling(t *testing.T) {
	base := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	k1s := []*models.RawPacket{
		k1At(1, base, "AAA1"),
		k1At(2, base.Add(2*time.Second), "AAA2"),
	}
	k2sOrderA := []*models.RawPacket{
		k2At(10, base.Add(1*time.Second), 1000, 10),
		k2At(11, base.Add(3*time.Second), 1000, 11),
	}
	k2sOrderB := []*models.RawPacket{k2sOrderA[1], k2sOrderA[0]}

	pairsA, _, _ := Match(k1s, k2sOrderA, 5*time.Second)
	pairsB, _, _ := Match(k1s, k2sOrderB, 5*time.Second)

	if len(pairsA) != len(pairsB) {
		t.Fatalf("pair counts differ: %d vs %d", len(pairsA), len(pairsB))
	}
	for i := range pairsA {
		if pairsA[i].K1.ID != pairsB[i].K1.ID || pairsA[i].K2.ID != pairsB[i].K2.ID {
			t.Errorf("pair %d differs between orderings: %+v vs %+v", i, pairsA[i], pairsB[i])
		}
	}
}
