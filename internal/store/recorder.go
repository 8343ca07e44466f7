package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/skew.report/internal/correlate"
	"github.com/banshee-data/skew.report/internal/monitoring"
)

// Recorder adapts a Store to the correlate.Reporter interface. Writes
// happen on a separate goroutine so the correlator never blocks on disk;
// if the write queue fills up, records are dropped and counted, and the
// drop total is logged periodically.
type Recorder struct {
	store   *Store
	records chan record
	dropped atomic.Int64
}

type record struct {
	snapshot *correlate.Snapshot
	matchID  correlate.PacketID
	delay    time.Duration
	at       time.Time
}

// NewRecorder creates a Recorder over st. Start must be called before any
// records will be written.
func NewRecorder(st *Store) *Recorder {
	return &Recorder{
		store:   st,
		records: make(chan record, 1000),
	}
}

// Start launches the writer goroutine, which runs until ctx is cancelled.
func (r *Recorder) Start(ctx context.Context) {
	go r.writeLoop(ctx)
}

// RecordMatch queues a match sample for insertion, dropping it if the
// writer is behind.
func (r *Recorder) RecordMatch(id correlate.PacketID, delay time.Duration) {
	r.offer(record{matchID: id, delay: delay, at: time.Now()})
}

// PublishStats queues a snapshot for insertion.
func (r *Recorder) PublishStats(s correlate.Snapshot) {
	r.offer(record{snapshot: &s})
}

// Dropped reports how many records have been discarded so far.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

func (r *Recorder) offer(rec record) {
	select {
	case r.records <- rec:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) writeLoop(ctx context.Context) {
	var loggedDrops int64
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-r.records:
			var err error
			if rec.snapshot != nil {
				err = r.store.InsertSnapshot(*rec.snapshot)
			} else {
				err = r.store.InsertMatch(rec.matchID, rec.delay, rec.at)
			}
			if err != nil {
				monitoring.Logf("stats db write failed: %v", err)
			}
		case <-ticker.C:
			if total := r.dropped.Load(); total > loggedDrops {
				monitoring.Logf("stats db writer behind: dropped %d records", total-loggedDrops)
				loggedDrops = total
			}
		}
	}
}
