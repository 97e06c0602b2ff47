// Package status implements the atomic-publish StatusSnapshot of
// spec.md §3/§5: writers replace the snapshot wholesale, readers get a
// consistent copy.
package status

import (
	"sync/atomic"
	"time"
)

// Stages is the set of bringup stage-completion flags spec.md §3 names.
type Stages struct {
	Dependencies  bool
	Config        bool
	Database      bool
	TimeSync      bool
	Decoder       bool
	TCPConnection bool
}

// WorkerHealth supplements the six-flag Stages with the richer
// per-worker picture original_source/vrl_client/status_manager.py kept.
type WorkerHealth struct {
	LastTick  time.Time
	LastError string
	Processed int64
}

// Snapshot is the immutable value published by Publisher.
type Snapshot struct {
	RunID        string
	Stages       Stages
	TCPConnected bool
	StartedAt    time.Time
	SystemInfo   string
	Workers      map[string]WorkerHealth
}

// Uptime returns the elapsed time since StartedAt.
func (s Snapshot) Uptime() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return time.Since(s.StartedAt)
}

// Publisher is the single shared mutable resource besides the Store:
// an atomic pointer swapped wholesale on every update so readers never
// observe a torn snapshot.
type Publisher struct {
	value atomic.Pointer[Snapshot]
}

// NewPublisher seeds the publisher with an initial snapshot.
func NewPublisher(initial Snapshot) *Publisher {
	p := &Publisher{}
	p.value.Store(&initial)
	return p
}

// Snapshot returns the most recently published value.
func (p *Publisher) Snapshot() Snapshot {
	return *p.value.Load()
}

// UpdateStages atomically applies mutate to a copy of the stage flags
// and republishes the whole snapshot.
func (p *Publisher) UpdateStages(mutate func(*Stages)) {
	for {
		old := p.value.Load()
		next := *old
		mutate(&next.Stages)
		if p.value.CompareAndSwap(old, &next) {
			return
		}
	}
}

// SetTCPConnected publishes a new TCPConnected value, the only field the
// Parser is allowed to write per spec.md §3.
func (p *Publisher) SetTCPConnected(connected bool) {
	for {
		old := p.value.Load()
		if old.TCPConnected == connected {
			return
		}
		next := *old
		next.TCPConnected = connected
		if p.value.CompareAndSwap(old, &next) {
			return
		}
	}
}

// SetWorker publishes an updated WorkerHealth entry for component.
func (p *Publisher) SetWorker(component string, health WorkerHealth) {
	for {
		old := p.value.Load()
		next := *old
		workers := make(map[string]WorkerHealth, len(old.Workers)+1)
		for k, v := range old.Workers {
			workers[k] = v
		}
		workers[component] = health
		next.Workers = workers
		if p.value.CompareAndSwap(old, &next) {
			return
		}
	}
}
