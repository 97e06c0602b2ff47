// Package store implements the Store of spec.md §4.1: durable local
// table storage for raw packets, tracks and the audit log over an
// embedded single-file relational store.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/vrlclient/ingest/pkg/logger"
)

// Store is the only shared mutable resource besides status.Publisher.
// Multiple goroutines may read concurrently; multi-statement groups run
// inside an explicit transaction so the driver's internal writer lock
// is held for the shortest span possible.
type Store struct {
	db     *sql.DB
	logger *logger.Logger
}

// Open opens (and, on first use, creates) the SQLite file at path.
func Open(path string, log *logger.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}

	// One long-lived connection set; WAL mode lets the Correlator and
	// Sender read concurrently with the Parser's writes.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
	}

	s := &Store{db: db, logger: log.Named("store")}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// init creates the schema and indices. Safe to call on every open.
func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS packets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_time TIMESTAMP NOT NULL,
			type TEXT NOT NULL,
			callsign TEXT,
			height_m INTEGER,
			fuel_pct INTEGER,
			alarm INTEGER NOT NULL DEFAULT 0,
			faithfulness INTEGER NOT NULL DEFAULT 0,
			sent TEXT NOT NULL DEFAULT 'pending',
			bound_to_track INTEGER,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tracks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			k1_packet_id INTEGER NOT NULL,
			k2_packet_id INTEGER NOT NULL,
			callsign TEXT NOT NULL,
			height_m INTEGER NOT NULL,
			fuel_pct INTEGER NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			sent TEXT NOT NULL DEFAULT 'pending',
			sent_at TIMESTAMP,
			error TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			level TEXT NOT NULL,
			component TEXT NOT NULL,
			message TEXT NOT NULL,
			details TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_packets_event_time ON packets(event_time)`,
		`CREATE INDEX IF NOT EXISTS idx_packets_type ON packets(type)`,
		`CREATE INDEX IF NOT EXISTS idx_packets_sent ON packets(sent)`,
		`CREATE INDEX IF NOT EXISTS idx_tracks_sent ON tracks(sent)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return nil
}
