package store

import (
	"database/sql"
	"time"

	"github.com/vrlclient/ingest/internal/models"
	"github.com/vrlclient/ingest/pkg/logger"
)

// AppendLog writes one audit LogEntry. Per spec.md §4.1 and §7 this is
// non-blocking best-effort: a failure here is logged to the process
// logger and never escalated to the caller.
func (s *Store) AppendLog(level models.LogLevel, component, message, details string) {
	_, err := s.db.Exec(
		`INSERT INTO logs (level, component, message, details, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(level), component, message, nullString(details), time.Now().UTC(),
	)
	if err != nil {
		s.logger.Warn("failed to append audit log entry",
			logger.Error(err),
			logger.String("component", component),
			logger.String("message", message),
		)
	}
}

// RecentLogs returns the most recent limit audit entries, newest
// first.
func (s *Store) RecentLogs(limit int) ([]*models.LogEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, level, component, message, details, created_at FROM logs ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.LogEntry
	for rows.Next() {
		e := &models.LogEntry{}
		var level string
		var details sql.NullString
		if err := rows.Scan(&e.ID, &level, &e.Component, &e.Message, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Level = models.LogLevel(level)
		if details.Valid {
			e.Details = details.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
