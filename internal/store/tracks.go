package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vrlclient/ingest/internal/models"
)

// TrackFields are the K1/K2-derived values a FlightTrack is created with.
type TrackFields struct {
	Callsign  string
	HeightM   int
	FuelPct   int
	Timestamp time.Time
}

// CreateTrackAndBind inserts a FlightTrack and marks both source packets
// bound to it in a single transaction (spec.md §4.1). It fails if either
// packet is already bound.
func (s *Store) CreateTrackAndBind(k1ID, k2ID int64, fields TrackFields) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin track transaction: %w", err)
	}
	defer tx.Rollback()

	for _, pid := range []int64{k1ID, k2ID} {
		var bound sql.NullInt64
		if err := tx.QueryRow(`SELECT bound_to_track FROM packets WHERE id = ?`, pid).Scan(&bound); err != nil {
			return 0, fmt.Errorf("failed to read packet %d: %w", pid, err)
		}
		if bound.Valid {
			return 0, fmt.Errorf("packet %d already bound to track %d", pid, bound.Int64)
		}
	}

	now := time.Now().UTC()
	res, err := tx.Exec(
		`INSERT INTO tracks (k1_packet_id, k2_packet_id, callsign, height_m, fuel_pct, timestamp, sent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		k1ID, k2ID, fields.Callsign, fields.HeightM, fields.FuelPct, fields.Timestamp.UTC(), string(models.SendPending), now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert track: %w", err)
	}

	trackID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted track id: %w", err)
	}

	for _, pid := range []int64{k1ID, k2ID} {
		if _, err := tx.Exec(`UPDATE packets SET bound_to_track = ?, updated_at = ? WHERE id = ?`, trackID, now, pid); err != nil {
			return 0, fmt.Errorf("failed to bind packet %d to track %d: %w", pid, trackID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit track transaction: %w", err)
	}

	return trackID, nil
}

// SelectPendingTracks returns up to limit tracks with sent = 'pending',
// ordered by id (spec.md §4.1).
func (s *Store) SelectPendingTracks(limit int) ([]*models.FlightTrack, error) {
	rows, err := s.db.Query(
		`SELECT id, k1_packet_id, k2_packet_id, callsign, height_m, fuel_pct, timestamp, sent, sent_at, error, created_at
		 FROM tracks WHERE sent = ? ORDER BY id ASC LIMIT ?`,
		string(models.SendPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending tracks: %w", err)
	}
	defer rows.Close()

	var out []*models.FlightTrack
	for rows.Next() {
		t := &models.FlightTrack{}
		var sent string
		var sentAt sql.NullTime
		var errMsg sql.NullString

		if err := rows.Scan(&t.ID, &t.K1PacketID, &t.K2PacketID, &t.Callsign, &t.HeightM, &t.FuelPct,
			&t.Timestamp, &sent, &sentAt, &errMsg, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}

		t.Sent = models.SendState(sent)
		t.Timestamp = t.Timestamp.UTC()
		t.CreatedAt = t.CreatedAt.UTC()
		if sentAt.Valid {
			v := sentAt.Time.UTC()
			t.SentAt = &v
		}
		if errMsg.Valid {
			t.Error = errMsg.String
		}

		out = append(out, t)
	}
	return out, rows.Err()
}

// TrackOutcome is the batched state transition MarkTracks applies.
type TrackOutcome struct {
	IDs    []int64
	Sent   models.SendState
	Error  string
	SentAt *time.Time
}

// MarkTracks applies outcome to every id in a single transaction
// (spec.md §4.1).
func (s *Store) MarkTracks(outcome TrackOutcome) error {
	if len(outcome.IDs) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin mark-tracks transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE tracks SET sent = ?, error = ?, sent_at = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare mark-tracks statement: %w", err)
	}
	defer stmt.Close()

	var sentAt interface{}
	if outcome.SentAt != nil {
		sentAt = outcome.SentAt.UTC()
	}

	for _, id := range outcome.IDs {
		if _, err := stmt.Exec(string(outcome.Sent), nullString(outcome.Error), sentAt, id); err != nil {
			return fmt.Errorf("failed to mark track %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mark-tracks transaction: %w", err)
	}

	return nil
}
