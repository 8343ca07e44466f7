package report

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/skew.report/internal/correlate"
	"github.com/banshee-data/skew.report/internal/monitoring"
)

func captureLog(t *testing.T) *[]string {
	t.Helper()
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.SetLogger(nil) })
	return &lines
}

func TestLogReporterStats(t *testing.T) {
	lines := captureLog(t)

	r := &LogReporter{}
	r.PublishStats(correlate.Snapshot{
		Feed0Name:    "gossip",
		Feed1Name:    "turbine",
		Feed0Pending: 3,
		Feed1Pending: 5,
		Matched:      2,
		AvgDelay:     40 * time.Millisecond,
	})

	if len(*lines) != 1 {
		t.Fatalf("logged %d lines, want 1", len(*lines))
	}
	line := (*lines)[0]
	for _, want := range []string{"gossip: 3", "turbine: 5", "matched: 2", "40ms"} {
		if !strings.Contains(line, want) {
			t.Errorf("stats line %q missing %q", line, want)
		}
	}
}

func TestLogReporterMatchesOffByDefault(t *testing.T) {
	lines := captureLog(t)

	r := &LogReporter{}
	r.RecordMatch("abc", time.Millisecond)
	if len(*lines) != 0 {
		t.Errorf("logged %d lines with LogMatches off, want 0", len(*lines))
	}

	r.LogMatches = true
	r.RecordMatch("abc", time.Millisecond)
	if len(*lines) != 1 {
		t.Fatalf("logged %d lines with LogMatches on, want 1", len(*lines))
	}
	if !strings.Contains((*lines)[0], "abc") {
		t.Errorf("match line %q missing packet id", (*lines)[0])
	}
}

type countingReporter struct {
	matches, stats int
}

func (c *countingReporter) RecordMatch(correlate.PacketID, time.Duration) { c.matches++ }
func (c *countingReporter) PublishStats(correlate.Snapshot)               { c.stats++ }

func TestMultiReporterFansOut(t *testing.T) {
	a, b := &countingReporter{}, &countingReporter{}
	m := MultiReporter{a, b}

	m.RecordMatch("x", time.Millisecond)
	m.PublishStats(correlate.Snapshot{})
	m.PublishStats(correlate.Snapshot{})

	for i, c := range []*countingReporter{a, b} {
		if c.matches != 1 || c.stats != 2 {
			t.Errorf("reporter %d saw %d matches, %d snapshots; want 1, 2", i, c.matches, c.stats)
		}
	}
}
