// Package timesync implements the non-fatal time-check bringup step
// of spec.md §4.6 step 3, grounded on
// original_source/vrl_client/time_sync.py's sync_system_time: compare
// local time against an external reference and log the drift, never
// failing bringup over it.
package timesync

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/vrlclient/ingest/pkg/logger"
)

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// driftWarnThreshold mirrors time_sync.py's 5-second tolerance.
const driftWarnThreshold = 5 * time.Second

// Provider checks local clock drift against an external reference.
// Any failure is logged and treated as non-fatal by callers.
type Provider interface {
	Check(ctx context.Context) (drift time.Duration, err error)
}

// NoopProvider always reports zero drift without making network
// calls. It is the provider the Supervisor's bringup check runs.
type NoopProvider struct{}

func (NoopProvider) Check(ctx context.Context) (time.Duration, error) {
	return 0, nil
}

// SNTPProvider queries an NTP server directly over UDP using the
// minimal SNTP client request/response exchange (RFC 4330), since the
// example corpus carries no dedicated NTP client library.
type SNTPProvider struct {
	Server  string
	Timeout time.Duration
}

func (p SNTPProvider) Check(ctx context.Context) (time.Duration, error) {
	server := p.Server
	if server == "" {
		server = "pool.ntp.org:123"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	conn, err := net.DialTimeout("udp", server, timeout)
	if err != nil {
		return 0, fmt.Errorf("failed to dial NTP server %s: %w", server, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	req := make([]byte, 48)
	req[0] = 0x1B // LI=0, VN=3, Mode=3 (client)

	localSend := time.Now()
	if _, err := conn.Write(req); err != nil {
		return 0, fmt.Errorf("failed to send NTP request: %w", err)
	}

	resp := make([]byte, 48)
	n, err := conn.Read(resp)
	if err != nil || n < 48 {
		return 0, fmt.Errorf("failed to read NTP response: %w", err)
	}
	localRecv := time.Now()

	seconds := binary.BigEndian.Uint32(resp[40:44])
	fraction := binary.BigEndian.Uint32(resp[44:48])
	serverTime := time.Unix(int64(seconds)-ntpEpochOffset, int64(fraction)*1e9/(1<<32)).UTC()

	// Approximate the local reference time as the midpoint of the
	// round trip, per the standard SNTP offset calculation.
	localMid := localSend.Add(localRecv.Sub(localSend) / 2)

	return serverTime.Sub(localMid), nil
}

// RunCheck executes the bringup-time drift check and logs the
// outcome. It never returns an error that should abort bringup.
func RunCheck(ctx context.Context, p Provider, log *logger.Logger) {
	drift, err := p.Check(ctx)
	if err != nil {
		log.Warn("time sync check failed, continuing with local clock", logger.Error(err))
		return
	}

	abs := drift
	if abs < 0 {
		abs = -abs
	}

	if abs > driftWarnThreshold {
		log.Warn("local clock drift exceeds tolerance", logger.Duration("drift", drift))
		return
	}

	log.Info("local clock within tolerance", logger.Duration("drift", drift))
}
