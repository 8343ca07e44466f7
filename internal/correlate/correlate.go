// Package correlate matches identical packets observed on two independent
// delivery feeds and measures the arrival-time skew between them.
//
// All correlation state is owned by a single Engine goroutine; feed
// listeners and timers communicate with it exclusively through channels,
// so no locking is needed anywhere in the hot path.
package correlate

import (
	"time"
)

// PacketID is the opaque correlation key for one logical packet. Decoders
// produce it from raw datagram bytes; the engine only ever compares IDs for
// equality and uses them as map keys, it never looks inside.
type PacketID string

// Arrival records one decoded datagram observed on one feed.
type Arrival struct {
	// Feed is the index of the observing feed, 0 or 1.
	Feed int
	// ID is the decoded packet identifier.
	ID PacketID
	// At is the time the datagram was received and decoded, recorded by
	// the listener before the event is queued.
	At time.Time
}

// Tick identifies a periodic maintenance event delivered to the engine on
// its priority channel.
type Tick int

const (
	// CleanupTick triggers the age-based sweep of both pending maps.
	CleanupTick Tick = iota
	// StatsTick triggers publication of a stats snapshot.
	StatsTick
)

// Snapshot is an immutable view of the engine's counters, produced on every
// stats tick. Producing a snapshot never mutates engine state.
type Snapshot struct {
	At           time.Time     `json:"at"`
	Feed0Name    string        `json:"feed0_name"`
	Feed1Name    string        `json:"feed1_name"`
	Feed0Pending int           `json:"feed0_pending"`
	Feed1Pending int           `json:"feed1_pending"`
	Matched      uint64        `json:"matched"`
	AvgDelay     time.Duration `json:"avg_delay_ns"`
	P50Delay     time.Duration `json:"p50_delay_ns"`
	P99Delay     time.Duration `json:"p99_delay_ns"`
}

// Reporter receives match observations and periodic snapshots from the
// engine. Implementations must not block for long; they run on the engine
// goroutine.
type Reporter interface {
	// RecordMatch is called once per matched packet with the measured
	// delay. Delay is the absolute difference between the two feeds'
	// first-seen times, so it is always >= 0.
	RecordMatch(id PacketID, delay time.Duration)

	// PublishStats is called once per stats tick with a fresh snapshot.
	PublishStats(s Snapshot)
}
