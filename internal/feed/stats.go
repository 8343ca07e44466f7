package feed

import (
	"sync"
	"time"
)

// Stats tracks per-feed receive counters. Decode failures surface here, at
// the listener boundary, and never reach the correlator.
type Stats struct {
	mu          sync.Mutex
	packets     int64
	bytes       int64
	undecodable int64
	lastReset   time.Time
}

// NewStats creates a Stats with the interval clock started.
func NewStats() *Stats {
	return &Stats{lastReset: time.Now()}
}

// AddPacket records one successfully decoded datagram.
func (s *Stats) AddPacket(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets++
	s.bytes += int64(bytes)
}

// AddUndecodable records one datagram the decoder rejected.
func (s *Stats) AddUndecodable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.undecodable++
}

// GetAndReset returns the counters accumulated since the last call and
// starts a new interval.
func (s *Stats) GetAndReset() (packets, bytes, undecodable int64, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	interval = now.Sub(s.lastReset)
	packets = s.packets
	bytes = s.bytes
	undecodable = s.undecodable

	s.packets = 0
	s.bytes = 0
	s.undecodable = 0
	s.lastReset = now

	return
}
