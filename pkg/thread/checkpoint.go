package thread

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Checkpoint persists thread snapshots to a SQLite database so a restart
// resumes with the same conversation state. Writes happen on a background
// goroutine; store operations never block on disk I/O.
type Checkpoint struct {
	db    *sql.DB
	queue chan *Thread

	closeOnce sync.Once
	done      chan struct{}
}

// OpenCheckpoint opens (or creates) the checkpoint database at path and
// starts the background writer. WAL mode allows the monitor and webhook
// paths to trigger snapshots concurrently.
func OpenCheckpoint(path string) (*Checkpoint, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping checkpoint db: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS threads (
		id         TEXT PRIMARY KEY,
		snapshot   TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create threads table: %w", err)
	}

	cp := &Checkpoint{
		db:    db,
		queue: make(chan *Thread, 256),
		done:  make(chan struct{}),
	}
	go cp.writeLoop()
	return cp, nil
}

// enqueue queues a snapshot write. If the queue is full the snapshot is
// dropped — a later mutation will re-snapshot the same thread.
func (cp *Checkpoint) enqueue(t *Thread) {
	select {
	case cp.queue <- t:
	default:
		slog.Warn("checkpoint queue full, dropping snapshot", "thread", t.ID)
	}
}

func (cp *Checkpoint) writeLoop() {
	for t := range cp.queue {
		if err := cp.write(t); err != nil {
			slog.Warn("checkpoint write failed", "thread", t.ID, "error", err)
		}
	}
	close(cp.done)
}

func (cp *Checkpoint) write(t *Thread) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal thread: %w", err)
	}
	_, err = cp.db.Exec(
		`INSERT INTO threads (id, snapshot, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		t.ID, string(data), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// LoadAll returns every checkpointed thread. Snapshots that fail to parse
// are skipped with a warning rather than aborting startup.
func (cp *Checkpoint) LoadAll() ([]*Thread, error) {
	rows, err := cp.db.Query(`SELECT id, snapshot FROM threads`)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		var id, snapshot string
		if err := rows.Scan(&id, &snapshot); err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		var t Thread
		if err := json.Unmarshal([]byte(snapshot), &t); err != nil {
			slog.Warn("skipping corrupt thread snapshot", "thread", id, "error", err)
			continue
		}
		threads = append(threads, &t)
	}
	return threads, rows.Err()
}

// Close drains pending writes and closes the database.
func (cp *Checkpoint) Close() error {
	cp.closeOnce.Do(func() {
		close(cp.queue)
		<-cp.done
	})
	return cp.db.Close()
}
