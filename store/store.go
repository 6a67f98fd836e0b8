// Package store persists bag metadata and replay sessions in SQLite.
//
// SQLite allows a single writer at a time. All mutations funnel through
// a weighted-semaphore write gate: a writer blocked behind another
// retries with bounded exponential backoff and gives up with
// ErrStoreBusy once the retry budget is spent. Reads run concurrently
// with the write queue.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/semaphore"
	_ "modernc.org/sqlite"
)

var (
	// ErrStoreBusy is returned when a write could not acquire the
	// single-writer gate within the retry budget.
	ErrStoreBusy = errors.New("store busy: write retry budget exhausted")

	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrTerminalSession is returned when updating a session that has
	// already reached a terminal status.
	ErrTerminalSession = errors.New("session already terminal")
)

// Options configure a Store.
type Options struct {
	// MaxWriteRetries bounds the attempts to acquire the write gate.
	MaxWriteRetries int

	// WriteBackoff is the initial backoff between write attempts; it
	// doubles per retry up to MaxWriteBackoff.
	WriteBackoff    time.Duration
	MaxWriteBackoff time.Duration

	// BusyTimeout is handed to SQLite's busy handler.
	BusyTimeout time.Duration
}

// DefaultOptions are sensible defaults for local stores.
var DefaultOptions = Options{
	MaxWriteRetries: 8,
	WriteBackoff:    5 * time.Millisecond,
	MaxWriteBackoff: 320 * time.Millisecond,
	BusyTimeout:     5 * time.Second,
}

// Store is the single source of truth for bag metadata and replay
// sessions.
type Store struct {
	db        *sql.DB
	writeGate *semaphore.Weighted
	opts      Options

	compressor   *zstd.Encoder
	decompressor *zstd.Decoder
}

// Open opens (creating if absent) the store at path and runs the schema
// migration.
func Open(path string, optFns ...func(o *Options)) (*Store, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	pragma := fmt.Sprintf(
		"PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON; PRAGMA busy_timeout=%d;",
		opts.BusyTimeout.Milliseconds(),
	)
	if _, err := db.Exec(pragma); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure store: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:           db,
		writeGate:    semaphore.NewWeighted(1),
		opts:         opts,
		compressor:   enc,
		decompressor: dec,
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS bags (
			id INTEGER PRIMARY KEY,
			file_path TEXT UNIQUE NOT NULL,
			fingerprint TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER NOT NULL,
			duration_seconds REAL NOT NULL,
			message_count INTEGER NOT NULL,
			topic_count INTEGER NOT NULL,
			category TEXT NOT NULL,
			truncated INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bag_topics (
			bag_id INTEGER NOT NULL,
			topic_name TEXT NOT NULL,
			message_type TEXT,
			message_count INTEGER NOT NULL,
			UNIQUE(bag_id, topic_name),
			FOREIGN KEY (bag_id) REFERENCES bags(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS replay_sessions (
			id TEXT PRIMARY KEY,
			bag_id INTEGER NOT NULL,
			topics TEXT NOT NULL,
			status TEXT NOT NULL,
			speed_factor REAL NOT NULL,
			environment TEXT,
			error TEXT,
			output BLOB,
			started_at INTEGER,
			ended_at INTEGER,
			FOREIGN KEY (bag_id) REFERENCES bags(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bags_category ON bags(category)`,
		`CREATE INDEX IF NOT EXISTS idx_bag_topics_bag ON bag_topics(bag_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_bag ON replay_sessions(bag_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON replay_sessions(status)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// acquireWrite claims the single-writer gate, retrying with bounded
// exponential backoff. It never blocks indefinitely.
func (s *Store) acquireWrite(ctx context.Context) error {
	backoff := s.opts.WriteBackoff
	for attempt := 0; ; attempt++ {
		if s.writeGate.TryAcquire(1) {
			return nil
		}
		if attempt >= s.opts.MaxWriteRetries {
			return ErrStoreBusy
		}
		t := time.NewTimer(backoff)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
		backoff *= 2
		if backoff > s.opts.MaxWriteBackoff {
			backoff = s.opts.MaxWriteBackoff
		}
	}
}

func (s *Store) releaseWrite() {
	s.writeGate.Release(1)
}

// Close drains any in-flight write and closes the database.
func (s *Store) Close() error {
	// Taking the gate guarantees no writer is mid-transaction.
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.BusyTimeout)
	defer cancel()
	if err := s.writeGate.Acquire(ctx, 1); err == nil {
		s.writeGate.Release(1)
	}
	s.compressor.Close()
	s.decompressor.Close()
	return s.db.Close()
}
