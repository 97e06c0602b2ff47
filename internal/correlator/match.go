package correlator

import (
	"time"

	"github.com/vrlclient/ingest/internal/models"
)

// Pair is one accepted K1/K2 correlation.
type Pair struct {
	K1 *models.RawPacket
	K2 *models.RawPacket
}

// Match pairs k1s and k2s within window, applying the deterministic
// two-pointer greedy merge of spec.md §4.3: k1s are walked in ascending
// event_time order; for each, the closest not-yet-consumed k2 within
// window is taken, ties broken by earlier k2 event_time then smaller
// k2 id. It returns the accepted pairs plus the K1s and K2s left
// unmatched this cycle (candidates for the staleness sweep).
//
// Both k1s and k2s are assumed pre-sorted by event_time ascending, as
// store.SelectUnboundPackets guarantees.
func Match(k1s, k2s []*models.RawPacket, window time.Duration) (pairs []Pair, unmatchedK1, unmatchedK2 []*models.RawPacket) {
	consumed := make(map[int64]bool, len(k2s))

	for _, k1 := range k1s {
		best := bestCandidate(k1, k2s, consumed, window)
		if best == nil {
			unmatchedK1 = append(unmatchedK1, k1)
			continue
		}
		consumed[best.ID] = true
		pairs = append(pairs, Pair{K1: k1, K2: best})
	}

	for _, k2 := range k2s {
		if !consumed[k2.ID] {
			unmatchedK2 = append(unmatchedK2, k2)
		}
	}

	return pairs, unmatchedK1, unmatchedK2
}

// bestCandidate finds the unconsumed k2 closest in time to k1, subject
// to the window, breaking ties by earlier event_time then smaller id.
func bestCandidate(k1 *models.RawPacket, k2s []*models.RawPacket, consumed map[int64]bool, window time.Duration) *models.RawPacket {
	var best *models.RawPacket
	var bestDelta time.Duration

	for _, k2 := range k2s {
		if consumed[k2.ID] {
			continue
		}

		delta := k1.EventTime.Sub(k2.EventTime)
		if delta < 0 {
			delta = -delta
		}
		if delta > window {
			continue
		}

		if best == nil {
			best, bestDelta = k2, delta
			continue
		}

		switch {
		case delta < bestDelta:
			best, bestDelta = k2, delta
		case delta == bestDelta:
			if k2.EventTime.Before(best.EventTime) {
				best, bestDelta = k2, delta
			} else if k2.EventTime.Equal(best.EventTime) && k2.ID < best.ID {
				best, bestDelta = k2, delta
			}
		}
	}

	return best
}
