// Package report renders correlator output. The correlator hands matches
// and snapshots to a correlate.Reporter; the implementations here log them,
// fan them out, or pass them to storage.
package report

import (
	"time"

	"github.com/banshee-data/skew.report/internal/correlate"
	"github.com/banshee-data/skew.report/internal/monitoring"
)

// LogReporter writes one log line per stats snapshot and, optionally, one
// per match.
type LogReporter struct {
	// LogMatches enables per-match lines. Off by default: at high packet
	// rates the match log would swamp everything else.
	LogMatches bool
}

func (r *LogReporter) RecordMatch(id correlate.PacketID, delay time.Duration) {
	if r.LogMatches {
		monitoring.Logf("match %s delay %s", id, delay)
	}
}

func (r *LogReporter) PublishStats(s correlate.Snapshot) {
	monitoring.Logf("stats: %s: %d | %s: %d | matched: %d | avg delay: %s (p50 %s, p99 %s)",
		s.Feed0Name, s.Feed0Pending,
		s.Feed1Name, s.Feed1Pending,
		s.Matched, s.AvgDelay, s.P50Delay, s.P99Delay)
}

// MultiReporter fans out to several reporters in order.
type MultiReporter []correlate.Reporter

func (m MultiReporter) RecordMatch(id correlate.PacketID, delay time.Duration) {
	for _, r := range m {
		r.RecordMatch(id, delay)
	}
}

func (m MultiReporter) PublishStats(s correlate.Snapshot) {
	for _, r := range m {
		r.PublishStats(s)
	}
}
