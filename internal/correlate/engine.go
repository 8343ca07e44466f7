package correlate

import (
	"context"
	"time"

	"github.com/banshee-data/skew.report/internal/monitoring"
)

// DefaultQueueSize is the arrival queue capacity used when Config.QueueSize
// is zero. When the queue is full, listeners block rather than drop, so a
// slow engine applies backpressure instead of silently biasing the delay
// statistics.
const DefaultQueueSize = 4096

// Config configures an Engine. Feed names are used only for reporting.
type Config struct {
	Feed0Name string
	Feed1Name string

	// Retention is how long an identifier stays in a pending map before
	// the cleanup sweep evicts it, matched or not.
	Retention time.Duration

	// QueueSize bounds the arrival queue. Defaults to DefaultQueueSize.
	QueueSize int

	// Reporter receives matches and snapshots. May be nil.
	Reporter Reporter
}

// Engine is the single owner of all correlation state. Arrivals enter via
// Enqueue, maintenance ticks via Kick, and everything is processed one
// event at a time by Run.
type Engine struct {
	feedNames [2]string
	retention time.Duration
	reporter  Reporter

	arrivals chan Arrival
	ticks    chan Tick

	// now is the sweep clock, replaceable in tests.
	now func() time.Time

	// Owned by the Run goroutine. pending[i] maps an identifier to the
	// first time it was seen on feed i. Matched entries are deliberately
	// retained until the sweep evicts them: a late duplicate on either
	// feed after a match is still recognised as already-seen and
	// absorbed, so each identifier matches at most once per retention
	// window.
	pending [2]map[PacketID]time.Time
	matched uint64
	delays  delayAggregate
}

// NewEngine creates an Engine with empty state. Run must be called before
// Enqueue will make progress.
func NewEngine(cfg Config) *Engine {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Engine{
		feedNames: [2]string{cfg.Feed0Name, cfg.Feed1Name},
		retention: cfg.Retention,
		reporter:  cfg.Reporter,
		arrivals:  make(chan Arrival, queueSize),
		// Capacity one per tick kind; Kick coalesces instead of
		// backing up.
		ticks:   make(chan Tick, 2),
		now:     time.Now,
		pending: [2]map[PacketID]time.Time{{}, {}},
	}
}

// Enqueue submits an arrival to the engine, blocking while the queue is
// full. It returns the context error if ctx is cancelled first.
func (e *Engine) Enqueue(ctx context.Context, a Arrival) error {
	select {
	case e.arrivals <- a:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kick submits a maintenance tick. Ticks are coalesced: if the previous
// tick of any kind has not been consumed yet the new one is dropped, which
// is harmless because ticks are idempotent and periodic.
func (e *Engine) Kick(t Tick) {
	select {
	case e.ticks <- t:
	default:
	}
}

// Run consumes events until ctx is cancelled. Ticks are drained in
// preference to arrivals so the cleanup sweep and stats reporting cannot be
// starved behind an arrival backlog.
func (e *Engine) Run(ctx context.Context) {
	monitoring.Logf("correlator started (retention %s, queue %d)", e.retention, cap(e.arrivals))
	for {
		select {
		case t := <-e.ticks:
			e.handleTick(t)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			monitoring.Logf("correlator stopping: %d matched, %d+%d pending",
				e.matched, len(e.pending[0]), len(e.pending[1]))
			return
		case t := <-e.ticks:
			e.handleTick(t)
		case a := <-e.arrivals:
			e.handleArrival(a)
		}
	}
}

func (e *Engine) handleTick(t Tick) {
	switch t {
	case CleanupTick:
		e.sweep(e.now())
	case StatsTick:
		s := e.snapshot(e.now())
		if e.reporter != nil {
			e.reporter.PublishStats(s)
		}
	}
}

// handleArrival applies one observation. Per feed, only the first sighting
// of an identifier counts; a match fires when the other feed has already
// seen the same identifier.
func (e *Engine) handleArrival(a Arrival) {
	own := e.pending[a.Feed]
	if _, seen := own[a.ID]; seen {
		// Duplicate datagram on the same feed, or a late copy after a
		// match. Either way the first sighting stands.
		return
	}
	own[a.ID] = a.At

	otherAt, ok := e.pending[1-a.Feed][a.ID]
	if !ok {
		return
	}

	delay := a.At.Sub(otherAt)
	if delay < 0 {
		delay = -delay
	}
	e.matched++
	e.delays.add(delay)
	if e.reporter != nil {
		e.reporter.RecordMatch(a.ID, delay)
	}
}

// sweep evicts every pending entry whose first-seen time is at least the
// retention period old. Matched and unmatched entries are treated alike;
// this is what bounds memory to one retention window per feed.
func (e *Engine) sweep(now time.Time) {
	cutoff := now.Add(-e.retention)
	evicted := 0
	for _, m := range e.pending {
		for id, at := range m {
			if !at.After(cutoff) {
				delete(m, id)
				evicted++
			}
		}
	}
	if evicted > 0 {
		monitoring.Logf("sweep evicted %d entries (%d+%d still pending)",
			evicted, len(e.pending[0]), len(e.pending[1]))
	}
}

// snapshot reads the counters without modifying them.
func (e *Engine) snapshot(now time.Time) Snapshot {
	return Snapshot{
		At:           now,
		Feed0Name:    e.feedNames[0],
		Feed1Name:    e.feedNames[1],
		Feed0Pending: len(e.pending[0]),
		Feed1Pending: len(e.pending[1]),
		Matched:      e.matched,
		AvgDelay:     e.delays.mean(),
		P50Delay:     e.delays.quantile(0.5),
		P99Delay:     e.delays.quantile(0.99),
	}
}
