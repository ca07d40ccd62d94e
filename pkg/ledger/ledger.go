// Package ledger tracks message identifiers that have already been handled,
// making webhook and poll processing idempotent.
//
// The check-and-insert is atomic: when the webhook path and the monitor
// tick race on the same message id, exactly one of them wins and the other
// sees a duplicate. Entries are written through to SQLite so a process
// restart does not re-send on messages already replied to.
package ledger

import (
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Ledger is the processed-message ledger.
type Ledger interface {
	// Seen reports whether id has been recorded.
	Seen(id string) bool

	// Mark records id and reports whether it was newly recorded. A false
	// return means some other path already handled the message.
	Mark(id string) (bool, error)
}

// SQLiteLedger is an in-memory set write-through persisted to SQLite.
type SQLiteLedger struct {
	mu   sync.Mutex
	seen map[string]struct{}
	db   *sql.DB // nil = memory only
}

// NewMemory creates a ledger with no persistence, for tests.
func NewMemory() *SQLiteLedger {
	return &SQLiteLedger{seen: make(map[string]struct{})}
}

// Open opens (or creates) the ledger database at path and loads all
// recorded ids into memory.
func Open(path string) (*SQLiteLedger, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping ledger db: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS processed_messages (
		id           TEXT PRIMARY KEY,
		processed_at TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger table: %w", err)
	}

	l := &SQLiteLedger{seen: make(map[string]struct{}), db: db}

	rows, err := db.Query(`SELECT id FROM processed_messages`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			db.Close()
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		l.seen[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return l, nil
}

func (l *SQLiteLedger) Seen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[id]
	return ok
}

func (l *SQLiteLedger) Mark(id string) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("message id is empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[id]; ok {
		return false, nil
	}

	// Persist before publishing the in-memory fact: if the write fails the
	// id stays unrecorded and the event can be retried safely.
	if l.db != nil {
		_, err := l.db.Exec(
			`INSERT OR IGNORE INTO processed_messages (id, processed_at) VALUES (?, ?)`,
			id, time.Now().UTC().Format(time.RFC3339),
		)
		if err != nil {
			return false, fmt.Errorf("persist ledger entry: %w", err)
		}
	}
	l.seen[id] = struct{}{}
	return true, nil
}

// Size returns the number of recorded ids, for status reporting.
func (l *SQLiteLedger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// Close closes the backing database, if any.
func (l *SQLiteLedger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}
