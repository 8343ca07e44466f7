package correlate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/skew.report/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

// captureReporter records everything the engine reports. Guarded by a
// mutex so tests can poll while the engine goroutine publishes.
type captureReporter struct {
	mu        sync.Mutex
	matches   []matchRecord
	snapshots []Snapshot
}

type matchRecord struct {
	ID    PacketID
	Delay time.Duration
}

func (c *captureReporter) RecordMatch(id PacketID, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matches = append(c.matches, matchRecord{ID: id, Delay: delay})
}

func (c *captureReporter) PublishStats(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots = append(c.snapshots, s)
}

func (c *captureReporter) matchList() []matchRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]matchRecord(nil), c.matches...)
}

func (c *captureReporter) snapshotList() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Snapshot(nil), c.snapshots...)
}

func newTestEngine(t *testing.T, retention time.Duration) (*Engine, *captureReporter) {
	t.Helper()
	rep := &captureReporter{}
	e := NewEngine(Config{
		Feed0Name: "gossip",
		Feed1Name: "turbine",
		Retention: retention,
		Reporter:  rep,
	})
	return e, rep
}

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func at(offset time.Duration) time.Time { return t0.Add(offset) }

func TestMatchDelay(t *testing.T) {
	// Feed 0 sees the packet 50ms before feed 1: one match, 50ms delay.
	e, rep := newTestEngine(t, time.Minute)
	e.handleArrival(Arrival{Feed: 0, ID: "A", At: at(0)})
	e.handleArrival(Arrival{Feed: 1, ID: "A", At: at(50 * time.Millisecond)})

	if e.matched != 1 {
		t.Fatalf("matched = %d, want 1", e.matched)
	}
	want := []matchRecord{{ID: "A", Delay: 50 * time.Millisecond}}
	if diff := cmp.Diff(want, rep.matches); diff != "" {
		t.Errorf("matches mismatch (-want +got):\n%s", diff)
	}
}

func TestMatchDelayIsAbsolute(t *testing.T) {
	// The engine may process the later-timestamped event first if the
	// queue merged producers that way; the delay must come out the same.
	e, rep := newTestEngine(t, time.Minute)
	e.handleArrival(Arrival{Feed: 1, ID: "A", At: at(50 * time.Millisecond)})
	e.handleArrival(Arrival{Feed: 0, ID: "A", At: at(0)})

	if len(rep.matches) != 1 || rep.matches[0].Delay != 50*time.Millisecond {
		t.Fatalf("matches = %+v, want one 50ms match", rep.matches)
	}
}

func TestZeroDelayMatch(t *testing.T) {
	e, _ := newTestEngine(t, time.Minute)
	e.handleArrival(Arrival{Feed: 0, ID: "Z", At: at(0)})
	e.handleArrival(Arrival{Feed: 1, ID: "Z", At: at(0)})

	if e.matched != 1 {
		t.Fatalf("matched = %d, want 1", e.matched)
	}
	if got := e.delays.mean(); got != 0 {
		t.Errorf("mean = %s, want 0", got)
	}
}

func TestDuplicateOnSameFeedKeepsFirstSighting(t *testing.T) {
	// Two copies of C on feed 0 then one on feed 1: exactly one match,
	// and the delay is measured from the first feed-0 sighting.
	e, rep := newTestEngine(t, time.Minute)
	e.handleArrival(Arrival{Feed: 0, ID: "C", At: at(0)})
	e.handleArrival(Arrival{Feed: 0, ID: "C", At: at(5 * time.Millisecond)})
	e.handleArrival(Arrival{Feed: 1, ID: "C", At: at(10 * time.Millisecond)})

	if e.matched != 1 {
		t.Fatalf("matched = %d, want 1", e.matched)
	}
	if got := rep.matches[0].Delay; got != 10*time.Millisecond {
		t.Errorf("delay = %s, want 10ms (from first sighting)", got)
	}
	if got := e.pending[0]["C"]; !got.Equal(at(0)) {
		t.Errorf("feed0 first-seen = %s, want %s", got, at(0))
	}
}

func TestDuplicatesAfterMatchAreAbsorbed(t *testing.T) {
	e, rep := newTestEngine(t, time.Minute)
	e.handleArrival(Arrival{Feed: 0, ID: "D", At: at(0)})
	e.handleArrival(Arrival{Feed: 1, ID: "D", At: at(time.Millisecond)})

	// Matched entries stay pending until the sweep, so late copies on
	// either feed are still recognised and never double-count.
	for i := 0; i < 5; i++ {
		e.handleArrival(Arrival{Feed: 0, ID: "D", At: at(time.Duration(i) * time.Second)})
		e.handleArrival(Arrival{Feed: 1, ID: "D", At: at(time.Duration(i) * time.Second)})
	}

	if e.matched != 1 {
		t.Errorf("matched = %d, want 1", e.matched)
	}
	if len(rep.matches) != 1 {
		t.Errorf("reported matches = %d, want 1", len(rep.matches))
	}
}

func TestFeedIsolation(t *testing.T) {
	// An identifier seen only on feed 0 never leaks into feed 1's map
	// and never matches.
	e, rep := newTestEngine(t, time.Minute)
	e.handleArrival(Arrival{Feed: 0, ID: "solo", At: at(0)})

	if _, ok := e.pending[1]["solo"]; ok {
		t.Error("identifier leaked into the other feed's pending map")
	}
	if e.matched != 0 || len(rep.matches) != 0 {
		t.Errorf("matched = %d, want 0", e.matched)
	}
}

func TestSweepEvictsStaleEntries(t *testing.T) {
	// Retention 60s, unmatched entry at t=0, sweep at t=61s: gone.
	e, _ := newTestEngine(t, time.Minute)
	e.handleArrival(Arrival{Feed: 0, ID: "B", At: at(0)})

	e.sweep(at(61 * time.Second))

	if _, ok := e.pending[0]["B"]; ok {
		t.Error("stale entry survived the sweep")
	}
	if e.matched != 0 {
		t.Errorf("matched = %d, want 0", e.matched)
	}
}

func TestSweepEvictsMatchedEntriesToo(t *testing.T) {
	e, _ := newTestEngine(t, time.Minute)
	e.handleArrival(Arrival{Feed: 0, ID: "M", At: at(0)})
	e.handleArrival(Arrival{Feed: 1, ID: "M", At: at(time.Millisecond)})

	e.sweep(at(2 * time.Minute))

	if len(e.pending[0]) != 0 || len(e.pending[1]) != 0 {
		t.Errorf("pending = %d+%d after sweep, want 0+0",
			len(e.pending[0]), len(e.pending[1]))
	}
	// Counters are cumulative; eviction never rolls them back.
	if e.matched != 1 {
		t.Errorf("matched = %d, want 1", e.matched)
	}
}

func TestSweepKeepsFreshEntries(t *testing.T) {
	e, _ := newTestEngine(t, time.Minute)
	e.handleArrival(Arrival{Feed: 0, ID: "old", At: at(0)})
	e.handleArrival(Arrival{Feed: 0, ID: "new", At: at(30 * time.Second)})

	e.sweep(at(61 * time.Second))

	if _, ok := e.pending[0]["old"]; ok {
		t.Error("old entry survived")
	}
	if _, ok := e.pending[0]["new"]; !ok {
		t.Error("fresh entry was evicted")
	}
}

func TestSweepOnEmptyMaps(t *testing.T) {
	e, _ := newTestEngine(t, time.Minute)
	e.sweep(at(time.Hour)) // must not panic
}

func TestSnapshotWithoutMatches(t *testing.T) {
	e, _ := newTestEngine(t, time.Minute)
	e.handleArrival(Arrival{Feed: 0, ID: "x", At: at(0)})

	s := e.snapshot(at(time.Second))

	want := Snapshot{
		At:           at(time.Second),
		Feed0Name:    "gossip",
		Feed1Name:    "turbine",
		Feed0Pending: 1,
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotAverageDelay(t *testing.T) {
	e, _ := newTestEngine(t, time.Minute)
	delays := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 60 * time.Millisecond}
	for i, d := range delays {
		id := PacketID("pkt" + string(rune('0'+i)))
		e.handleArrival(Arrival{Feed: 0, ID: id, At: at(0)})
		e.handleArrival(Arrival{Feed: 1, ID: id, At: at(d)})
	}

	s := e.snapshot(at(time.Second))
	if s.Matched != 3 {
		t.Fatalf("matched = %d, want 3", s.Matched)
	}
	if s.AvgDelay != 30*time.Millisecond {
		t.Errorf("avg = %s, want 30ms", s.AvgDelay)
	}
	if s.Feed0Pending != 3 || s.Feed1Pending != 3 {
		t.Errorf("pending = %d+%d, want 3+3", s.Feed0Pending, s.Feed1Pending)
	}
}

func TestSnapshotDoesNotMutateState(t *testing.T) {
	e, _ := newTestEngine(t, time.Minute)
	e.handleArrival(Arrival{Feed: 0, ID: "q", At: at(0)})
	e.handleArrival(Arrival{Feed: 1, ID: "q", At: at(time.Millisecond)})

	first := e.snapshot(at(time.Second))
	second := e.snapshot(at(time.Second))
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated snapshots differ (-first +second):\n%s", diff)
	}
}

func TestRunProcessesQueuedEvents(t *testing.T) {
	e, rep := newTestEngine(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	if err := e.Enqueue(ctx, Arrival{Feed: 0, ID: "r", At: at(0)}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := e.Enqueue(ctx, Arrival{Feed: 1, ID: "r", At: at(25 * time.Millisecond)}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	e.Kick(StatsTick)

	// Wait for the stats tick to surface a snapshot with the match.
	deadline := time.After(5 * time.Second)
	for len(rep.snapshotList()) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
		case <-time.After(10 * time.Millisecond):
			e.Kick(StatsTick)
		}
	}

	cancel()
	<-done

	snaps := rep.snapshotList()
	if got := snaps[len(snaps)-1].Matched; got != 1 {
		t.Errorf("snapshot matched = %d, want 1", got)
	}
}

func TestEnqueueReturnsOnCancel(t *testing.T) {
	e := NewEngine(Config{Retention: time.Minute, QueueSize: 1})
	ctx, cancel := context.WithCancel(context.Background())

	// Fill the queue; nobody is consuming.
	if err := e.Enqueue(ctx, Arrival{Feed: 0, ID: "a", At: at(0)}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- e.Enqueue(ctx, Arrival{Feed: 0, ID: "b", At: at(0)})
	}()
	cancel()

	select {
	case err := <-errc:
		if err != context.Canceled {
			t.Errorf("Enqueue error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Enqueue did not unblock on cancel")
	}
}

func TestKickNeverBlocks(t *testing.T) {
	e, _ := newTestEngine(t, time.Minute)
	// No consumer; repeated kicks coalesce instead of blocking.
	for i := 0; i < 100; i++ {
		e.Kick(CleanupTick)
		e.Kick(StatsTick)
	}
}
