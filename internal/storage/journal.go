package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/OscarNeto021/ROBO/internal/domain"
	"github.com/OscarNeto021/ROBO/internal/event"
	"github.com/OscarNeto021/ROBO/pkg/quant"
)

const writeQueueSize = 1024

// Journal is the persistent audit log. Every attempt, breaker
// transition, limit resync and emergency action lands here. Writes are
// asynchronous: the hot path enqueues and returns, a single writer
// goroutine owns the database. When the queue is full the event is
// dropped with a log line rather than stalling order flow.
type Journal struct {
	db  *sql.DB
	seq uint64

	queue   chan event.Event
	wg      sync.WaitGroup
	pending atomic.Int64

	mu     sync.Mutex
	closed bool
}

// OpenJournal opens (or creates) the SQLite journal with WAL mode
// enabled and resumes the event sequence from the last run.
func OpenJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Configure SQLite for high-performance deterministic logging
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create metadata table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			type INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create events table: %w", err)
	}

	j := &Journal{
		db:    db,
		queue: make(chan event.Event, writeQueueSize),
	}

	lastSeq, err := j.lastSeq(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}
	j.seq = lastSeq

	j.wg.Add(1)
	go j.writeLoop()

	return j, nil
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()
	for ev := range j.queue {
		if err := j.persist(ev); err != nil {
			slog.Error("Journal write failed",
				slog.Uint64("seq", ev.GetSeq()),
				slog.Any("error", err),
			)
		}
		j.pending.Add(-1)
	}
}

func (j *Journal) persist(ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = j.db.Exec(
		"INSERT INTO events (id, type, ts, payload) VALUES (?, ?, ?, ?)",
		ev.GetSeq(), ev.GetType(), ev.GetTs(), payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// enqueue hands the event to the writer. Never blocks.
func (j *Journal) enqueue(ev event.Event) {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	select {
	case j.queue <- ev:
		j.pending.Add(1)
	default:
		slog.Warn("Journal queue full, dropping event", slog.Uint64("seq", ev.GetSeq()))
	}
	j.mu.Unlock()
}

func (j *Journal) base() event.BaseEvent {
	return event.BaseEvent{Seq: quant.NextSeq(&j.seq), Ts: quant.Now()}
}

// RecordAttempt implements the retry recorder.
func (j *Journal) RecordAttempt(rec domain.AttemptRecord) {
	j.enqueue(event.AttemptEvent{
		BaseEvent:      j.base(),
		IdempotencyKey: rec.IdempotencyKey,
		Attempt:        rec.Attempt,
		Outcome:        rec.Outcome,
		Error:          rec.Error,
		StartedUnixM:   rec.StartedUnixM,
	})
}

// RecordTransition journals a breaker state change.
func (j *Journal) RecordTransition(from, to, reason string) {
	j.enqueue(event.BreakerTransitionEvent{
		BaseEvent: j.base(),
		From:      from,
		To:        to,
		Reason:    reason,
	})
}

// RecordResync journals an authoritative limit update.
func (j *Journal) RecordResync(class string, oldLimit, newLimit int64) {
	j.enqueue(event.LimitResyncEvent{
		BaseEvent: j.base(),
		Class:     class,
		OldLimit:  oldLimit,
		NewLimit:  newLimit,
	})
}

// RecordEmergency journals one step of the emergency sequence.
func (j *Journal) RecordEmergency(action, symbol string, actionErr error) {
	ev := event.EmergencyActionEvent{
		BaseEvent: j.base(),
		Action:    action,
		Symbol:    symbol,
		Success:   actionErr == nil,
	}
	if actionErr != nil {
		ev.Error = actionErr.Error()
	}
	j.enqueue(ev)
}

// UpsertMetadata saves a key-value pair to the metadata table.
// Metadata writes are synchronous; they are rare and must survive a
// crash immediately after (persisted exchange limits, run markers).
func (j *Journal) UpsertMetadata(ctx context.Context, key, value string, ts int64) error {
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		key, value, ts,
	)
	return err
}

// GetMetadata retrieves a value from the metadata table.
// Returns "" when the key does not exist.
func (j *Journal) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := j.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (j *Journal) lastSeq(ctx context.Context) (uint64, error) {
	var last sql.NullInt64
	err := j.db.QueryRowContext(ctx, "SELECT MAX(id) FROM events").Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("failed to get last seq: %w", err)
	}
	if !last.Valid {
		return 0, nil
	}
	return uint64(last.Int64), nil
}

// RecentAttempts returns the newest attempt events, newest first.
func (j *Journal) RecentAttempts(ctx context.Context, limit int) ([]event.AttemptEvent, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT payload FROM events WHERE type = ? ORDER BY id DESC LIMIT ?",
		event.EvAttempt, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []event.AttemptEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		var ev event.AttemptEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode attempt: %w", err)
		}
		attempts = append(attempts, ev)
	}
	return attempts, rows.Err()
}

// Sync blocks until every event enqueued before the call is on disk.
// Test helper; production code never needs it.
func (j *Journal) Sync() {
	for j.pending.Load() > 0 {
		time.Sleep(time.Millisecond)
	}
}

// Close drains the queue and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()

	j.wg.Wait()
	return j.db.Close()
}
