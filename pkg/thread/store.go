package thread

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned by Get for unknown thread ids.
var ErrNotFound = errors.New("thread not found")

// Store is the only access path to conversation threads. Implementations
// must serialize all mutations on a given thread id; operations on
// different ids may proceed concurrently.
type Store interface {
	// GetOrCreate returns the thread for id, creating an empty active
	// thread on first contact.
	GetOrCreate(id, participant, campaignID string) (*Thread, error)

	// AppendMessage adds a message to the thread, keeping messages ordered
	// by ReceivedAt, and bumps LastActivityAt. The thread is created if it
	// does not exist yet.
	AppendMessage(id string, msg Message) (*Thread, error)

	// SetStatus transitions the thread status. Transitions are monotonic
	// (active → needs_attention → completed) except needs_attention →
	// active, which models a human resolving an escalation.
	SetStatus(id string, status Status) error

	// Get returns a copy of the thread or ErrNotFound.
	Get(id string) (*Thread, error)
}

// entry pairs a thread with its own lock. The store map lock is only held
// long enough to find or insert the entry, so contended threads do not
// block unrelated ones.
type entry struct {
	mu sync.Mutex
	t  *Thread
}

// MemoryStore is the in-memory Store used by the pipeline. Mutations are
// serialized per thread and optionally checkpointed asynchronously.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*entry

	checkpoint *Checkpoint // nil = no persistence
}

// NewMemoryStore creates an empty store. If cp is non-nil, every mutation
// queues an asynchronous snapshot write and existing snapshots are loaded
// on startup.
func NewMemoryStore(cp *Checkpoint) (*MemoryStore, error) {
	s := &MemoryStore{
		threads:    make(map[string]*entry),
		checkpoint: cp,
	}
	if cp != nil {
		restored, err := cp.LoadAll()
		if err != nil {
			return nil, fmt.Errorf("restore threads: %w", err)
		}
		for _, t := range restored {
			s.threads[t.ID] = &entry{t: t}
		}
	}
	return s, nil
}

// lookup finds or creates the entry for id under the map lock.
func (s *MemoryStore) lookup(id string, create bool) *entry {
	s.mu.RLock()
	e := s.threads[id]
	s.mu.RUnlock()
	if e != nil || !create {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e = s.threads[id]; e != nil {
		return e
	}
	e = &entry{t: &Thread{
		ID:             id,
		Status:         StatusActive,
		LastActivityAt: time.Now().UTC(),
	}}
	s.threads[id] = e
	return e
}

func (s *MemoryStore) GetOrCreate(id, participant, campaignID string) (*Thread, error) {
	if id == "" {
		return nil, errors.New("thread id is empty")
	}
	e := s.lookup(id, true)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.t.Participant == "" {
		e.t.Participant = participant
	}
	if e.t.CampaignID == "" {
		e.t.CampaignID = campaignID
	}
	s.snapshot(e.t)
	return e.t.clone(), nil
}

func (s *MemoryStore) AppendMessage(id string, msg Message) (*Thread, error) {
	if id == "" {
		return nil, errors.New("thread id is empty")
	}
	e := s.lookup(id, true)

	e.mu.Lock()
	defer e.mu.Unlock()

	// The webhook and monitor paths can race on the same provider
	// message; the second append is a no-op so the history never holds
	// the same message twice.
	if msg.ID != "" {
		for i := range e.t.Messages {
			if e.t.Messages[i].ID == msg.ID {
				return e.t.clone(), nil
			}
		}
	}

	msg.ThreadID = id
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	if e.t.Participant == "" && msg.Direction == Inbound {
		e.t.Participant = msg.Sender
	}
	if e.t.CampaignID == "" {
		e.t.CampaignID = msg.CampaignID
	}

	// Messages arrive nearly in order; insert from the back instead of
	// re-sorting the whole slice.
	i := sort.Search(len(e.t.Messages), func(i int) bool {
		return e.t.Messages[i].ReceivedAt.After(msg.ReceivedAt)
	})
	e.t.Messages = append(e.t.Messages, Message{})
	copy(e.t.Messages[i+1:], e.t.Messages[i:])
	e.t.Messages[i] = msg

	if msg.ReceivedAt.After(e.t.LastActivityAt) {
		e.t.LastActivityAt = msg.ReceivedAt
	}
	s.snapshot(e.t)
	return e.t.clone(), nil
}

func (s *MemoryStore) SetStatus(id string, status Status) error {
	e := s.lookup(id, false)
	if e == nil {
		return ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !validTransition(e.t.Status, status) {
		return fmt.Errorf("invalid status transition %s → %s for thread %s", e.t.Status, status, id)
	}
	e.t.Status = status
	s.snapshot(e.t)
	return nil
}

func (s *MemoryStore) Get(id string) (*Thread, error) {
	e := s.lookup(id, false)
	if e == nil {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.t.clone(), nil
}

// Len returns the number of threads, for status reporting.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}

// snapshot queues an async checkpoint write. Called with the entry lock
// held, so the clone is consistent.
func (s *MemoryStore) snapshot(t *Thread) {
	if s.checkpoint != nil {
		s.checkpoint.enqueue(t.clone())
	}
}

func validTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusActive:
		return to == StatusNeedsAttention || to == StatusCompleted
	case StatusNeedsAttention:
		// needs_attention → active models a human resolving the escalation.
		return to == StatusActive || to == StatusCompleted
	case StatusCompleted:
		return false
	}
	return false
}
