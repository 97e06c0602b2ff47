// Package models holds the domain types shared by the store, parser,
// correlator, sender and pinger.
package models

import "time"

// PacketType distinguishes a callsign packet from an altitude/fuel packet.
type PacketType string

const (
	PacketTypeK1 PacketType = "K1"
	PacketTypeK2 PacketType = "K2"
)

// SendState tracks whether a RawPacket or FlightTrack has been accounted
// for by the outbound pipeline.
type SendState string

const (
	SendPending SendState = "pending"
	SendDone    SendState = "done"
	SendFailed  SendState = "failed"
)

// LogLevel is the severity of an audit LogEntry.
type LogLevel string

const (
	LogInfo  LogLevel = "INFO"
	LogWarn  LogLevel = "WARN"
	LogError LogLevel = "ERROR"
)

// RawPacket is one decoded decoder line.
//
// Invariant: Type == K1 implies Callsign is set and HeightM/FuelPct are
// nil; Type == K2 implies HeightM/FuelPct are set and Callsign is empty.
type RawPacket struct {
	ID           int64
	EventTime    time.Time
	Type         PacketType
	Callsign     string
	HeightM      *int
	FuelPct      *int
	Alarm        int
	Faithfulness int
	Sent         SendState
	BoundToTrack *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewK1 builds an unsaved K1 RawPacket with the default alarm/faithfulness
// values spec.md §3 assigns to callsign packets.
func NewK1(eventTime time.Time, callsign string) *RawPacket {
	return &RawPacket{
		EventTime:    eventTime,
		Type:         PacketTypeK1,
		Callsign:     callsign,
		Alarm:        0,
		Faithfulness: 50,
		Sent:         SendPending,
	}
}

// NewK2 builds an unsaved K2 RawPacket with the default alarm/faithfulness
// values spec.md §3 assigns to altitude/fuel packets.
func NewK2(eventTime time.Time, heightM, fuelPct int) *RawPacket {
	h, f := heightM, fuelPct
	return &RawPacket{
		EventTime:    eventTime,
		Type:         PacketTypeK2,
		HeightM:      &h,
		FuelPct:      &f,
		Alarm:        0,
		Faithfulness: 0,
		Sent:         SendPending,
	}
}

// FlightTrack is one correlated K1/K2 pair.
type FlightTrack struct {
	ID         int64
	K1PacketID int64
	K2PacketID int64
	Callsign   string
	HeightM    int
	FuelPct    int
	Timestamp  time.Time
	Sent       SendState
	SentAt     *time.Time
	Error      string
	CreatedAt  time.Time
}

// LogEntry is one append-only audit record.
type LogEntry struct {
	ID        int64
	Level     LogLevel
	Component string
	Message   string
	Details   string
	CreatedAt time.Time
}
