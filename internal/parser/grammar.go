package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/vrlclient/ingest/internal/models"
)

// k1Pattern matches lines of the form:
//
//	K1 11:11:38.370.366 [ 8832] {018} **** :10437
//
// K1 requires a terminal ":<callsign>" token; the bracketed middle
// segments are opaque (spec.md §4.2).
var k1Pattern = regexp.MustCompile(`^K1\s+(\d{2}):(\d{2}):(\d{2})\.\d+\.\d+\s+.*:(\S+)$`)

// k2Pattern matches lines of the form:
//
//	K2 11:12:54.082.632 [ 8706] {017} **** FL 5360m [F176]+  F:40%
//
// K2 requires both an "FL <height>m" token and an "F:<fuel>%" token.
var k2Pattern = regexp.MustCompile(`^K2\s+(\d{2}):(\d{2}):(\d{2})\.\d+\.\d+\s+.*FL\s+(\d+)m.*F:(\d+)%`)

// ParseLine decodes one decoder line into a RawPacket, combining the
// line's HH:MM:SS field with now's local date (spec.md §4.2). Lines
// matching neither grammar return (nil, nil): they are ignored, not an
// error.
func ParseLine(line string, now time.Time) (*models.RawPacket, error) {
	if m := k1Pattern.FindStringSubmatch(line); m != nil {
		eventTime, err := combineTime(m[1], m[2], m[3], now)
		if err != nil {
			return nil, fmt.Errorf("failed to parse K1 time: %w", err)
		}
		return models.NewK1(eventTime, m[4]), nil
	}

	if m := k2Pattern.FindStringSubmatch(line); m != nil {
		eventTime, err := combineTime(m[1], m[2], m[3], now)
		if err != nil {
			return nil, fmt.Errorf("failed to parse K2 time: %w", err)
		}

		height, err := strconv.Atoi(m[4])
		if err != nil {
			return nil, fmt.Errorf("failed to parse K2 height: %w", err)
		}
		fuel, err := strconv.Atoi(m[5])
		if err != nil {
			return nil, fmt.Errorf("failed to parse K2 fuel: %w", err)
		}

		return models.NewK2(eventTime, height, fuel), nil
	}

	return nil, nil
}

// combineTime attaches the HH:MM:SS clock time to now's local date. If
// the resulting time is more than 12 hours in the future relative to
// now, the previous day's date is used instead — this handles the
// decoder emitting a line just before local midnight while the client
// ingests it just after (spec.md §4.2).
func combineTime(hh, mm, ss string, now time.Time) (time.Time, error) {
	hour, err := strconv.Atoi(hh)
	if err != nil {
		return time.Time{}, err
	}
	minute, err := strconv.Atoi(mm)
	if err != nil {
		return time.Time{}, err
	}
	second, err := strconv.Atoi(ss)
	if err != nil {
		return time.Time{}, err
	}

	loc := now.Location()
	year, month, day := now.Date()
	candidate := time.Date(year, month, day, hour, minute, second, 0, loc)

	if candidate.Sub(now) > 12*time.Hour {
		candidate = candidate.AddDate(0, 0, -1)
	}

	return candidate, nil
}
