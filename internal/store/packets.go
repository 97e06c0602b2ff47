package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vrlclient/ingest/internal/models"
)

const packetColumns = `id, event_time, type, callsign, height_m, fuel_pct, alarm, faithfulness, sent, bound_to_track, created_at, updated_at`

// InsertPacket assigns an id and created_at/updated_at, enforcing the
// type/field invariant of spec.md §3, and persists p.
func (s *Store) InsertPacket(p *models.RawPacket) (int64, error) {
	if err := validatePacket(p); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO packets (event_time, type, callsign, height_m, fuel_pct, alarm, faithfulness, sent, bound_to_track, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.EventTime.UTC(), string(p.Type), nullString(p.Callsign), nullIntPtr(p.HeightM), nullIntPtr(p.FuelPct),
		p.Alarm, p.Faithfulness, string(p.Sent), nullInt64Ptr(p.BoundToTrack), now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert packet: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted packet id: %w", err)
	}

	p.ID = id
	p.CreatedAt = now
	p.UpdatedAt = now
	return id, nil
}

func validatePacket(p *models.RawPacket) error {
	switch p.Type {
	case models.PacketTypeK1:
		if p.Callsign == "" {
			return fmt.Errorf("K1 packet requires a callsign")
		}
		if p.HeightM != nil || p.FuelPct != nil {
			return fmt.Errorf("K1 packet must not carry height/fuel")
		}
	case models.PacketTypeK2:
		if p.HeightM == nil || p.FuelPct == nil {
			return fmt.Errorf("K2 packet requires height and fuel")
		}
		if p.Callsign != "" {
			return fmt.Errorf("K2 packet must not carry a callsign")
		}
	default:
		return fmt.Errorf("unknown packet type %q", p.Type)
	}
	return nil
}

// SelectUnboundPackets returns up to limit packets of the given type with
// bound_to_track IS NULL and sent = 'pending', ordered by event_time.
func (s *Store) SelectUnboundPackets(packetType models.PacketType, limit int) ([]*models.RawPacket, error) {
	rows, err := s.db.Query(
		`SELECT `+packetColumns+` FROM packets
		 WHERE type = ? AND bound_to_track IS NULL AND sent = ?
		 ORDER BY event_time ASC LIMIT ?`,
		string(packetType), string(models.SendPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select unbound %s packets: %w", packetType, err)
	}
	defer rows.Close()

	return scanPackets(rows)
}

func scanPackets(rows *sql.Rows) ([]*models.RawPacket, error) {
	var out []*models.RawPacket
	for rows.Next() {
		p := &models.RawPacket{}
		var (
			packetType        string
			callsign          sql.NullString
			heightM, fuelPct  sql.NullInt64
			sent              string
			boundToTrack      sql.NullInt64
		)

		if err := rows.Scan(
			&p.ID, &p.EventTime, &packetType, &callsign, &heightM, &fuelPct,
			&p.Alarm, &p.Faithfulness, &sent, &boundToTrack, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan packet: %w", err)
		}

		p.Type = models.PacketType(packetType)
		p.Sent = models.SendState(sent)
		p.EventTime = p.EventTime.UTC()
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		if callsign.Valid {
			p.Callsign = callsign.String
		}
		if heightM.Valid {
			v := int(heightM.Int64)
			p.HeightM = &v
		}
		if fuelPct.Valid {
			v := int(fuelPct.Int64)
			p.FuelPct = &v
		}
		if boundToTrack.Valid {
			v := boundToTrack.Int64
			p.BoundToTrack = &v
		}

		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkPacketFailed transitions a packet directly to sent = failed
// without binding it to a track — used by the Correlator's staleness
// sweep (spec.md §4.3, step 5).
func (s *Store) MarkPacketFailed(id int64) error {
	_, err := s.db.Exec(
		`UPDATE packets SET sent = ?, updated_at = ? WHERE id = ?`,
		string(models.SendFailed), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark packet %d failed: %w", id, err)
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIntPtr(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt64Ptr(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
