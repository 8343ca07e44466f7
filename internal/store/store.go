// Package store persists stats snapshots and match samples to SQLite for
// later analysis. Only reporting output lands here; correlation state
// itself lives in memory and is never written out.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/skew.report/internal/correlate"
)

// Store wraps the stats database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the stats database at path and applies
// pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// modernc sqlite serialises writes itself; a single connection
	// avoids SQLITE_BUSY churn between the recorder and the monitor.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for the debug SQL endpoint.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// InsertSnapshot persists one stats snapshot.
func (s *Store) InsertSnapshot(snap correlate.Snapshot) error {
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO stats_snapshots (
				snapshot_id, at_ns, feed0_name, feed1_name,
				feed0_pending, feed1_pending, matched,
				avg_delay_ns, p50_delay_ns, p99_delay_ns
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), snap.At.UnixNano(), snap.Feed0Name, snap.Feed1Name,
			snap.Feed0Pending, snap.Feed1Pending, snap.Matched,
			int64(snap.AvgDelay), int64(snap.P50Delay), int64(snap.P99Delay),
		)
		return err
	})
}

// InsertMatch persists one match observation.
func (s *Store) InsertMatch(id correlate.PacketID, delay time.Duration, observedAt time.Time) error {
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO match_samples (sample_id, packet_id, delay_ns, observed_at_ns)
			VALUES (?, ?, ?, ?)`,
			uuid.New().String(), string(id), int64(delay), observedAt.UnixNano(),
		)
		return err
	})
}

// RecentSnapshots returns up to limit snapshots, newest first.
func (s *Store) RecentSnapshots(limit int) ([]correlate.Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT at_ns, feed0_name, feed1_name,
		       feed0_pending, feed1_pending, matched,
		       avg_delay_ns, p50_delay_ns, p99_delay_ns
		FROM stats_snapshots
		ORDER BY at_ns DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []correlate.Snapshot
	for rows.Next() {
		var snap correlate.Snapshot
		var atNs, avgNs, p50Ns, p99Ns int64
		if err := rows.Scan(&atNs, &snap.Feed0Name, &snap.Feed1Name,
			&snap.Feed0Pending, &snap.Feed1Pending, &snap.Matched,
			&avgNs, &p50Ns, &p99Ns); err != nil {
			return nil, err
		}
		snap.At = time.Unix(0, atNs)
		snap.AvgDelay = time.Duration(avgNs)
		snap.P50Delay = time.Duration(p50Ns)
		snap.P99Delay = time.Duration(p99Ns)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// MatchCount returns the number of persisted match samples.
func (s *Store) MatchCount() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM match_samples`).Scan(&n)
	return n, err
}

// isSQLiteBusy reports whether err is a transient SQLITE_BUSY condition
// worth retrying.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy runs fn, retrying a few times with backoff while it returns a
// busy error.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 5
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if !isSQLiteBusy(err) {
			return err
		}
		time.Sleep(time.Duration(attempt) * 10 * time.Millisecond)
	}
	return err
}
