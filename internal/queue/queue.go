// Package queue provides the durable offline operation queue.
//
// Remote operations that fail while the network is down are enqueued here
// and re-attempted by the sync daemon on later cycles. The queue is
// persisted as a JSON blob under the store's offline_queue key, in enqueue
// order. Items carry a retry counter; the daemon decides eviction once the
// counter reaches its configured maximum.
//
// The queue is deliberately fail-open: a missing or corrupt persisted blob
// is treated as an empty queue, never as a fatal error. Losing deferred
// retries is preferable to wedging the whole sync pipeline.
package queue

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"handsync/internal/store"
)

// OpType identifies the remote operation a queued item defers.
type OpType string

const (
	// OpPushDataset re-sends the full dataset to the remote endpoint.
	OpPushDataset OpType = "push_dataset"
	// OpSaveRecord re-sends a partial dataset (a single unit's changes).
	OpSaveRecord OpType = "save_record"
)

// Item is one deferred remote operation.
type Item struct {
	// ID is a unique token identifying the item. No two items share an ID.
	ID string `json:"id"`

	// Op selects the remote operation to dispatch on drain.
	Op OpType `json:"op"`

	// Payload is the dataset snapshot (or partial) to send.
	Payload json.RawMessage `json:"payload,omitempty"`

	// EnqueuedAt is when the item was created.
	EnqueuedAt time.Time `json:"enqueuedAt"`

	// RetryCount is how many times processing has failed so far. It only
	// ever increases; removal is the item's single terminal state.
	RetryCount int `json:"retryCount"`
}

// Manager owns the persisted queue. All operations load, mutate, and
// re-persist the full blob under the mutex, so the stored value is always a
// well-formed item sequence.
type Manager struct {
	store  *store.Store
	logger *log.Logger
	mu     sync.Mutex
}

// New creates a queue manager backed by the given store.
// If logger is nil, a default logger writing to stderr is used.
func New(st *store.Store, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	return &Manager{store: st, logger: logger}
}

// Enqueue appends a new item with a fresh unique id, a zero retry counter,
// and the current timestamp, persists the queue, and returns the item.
func (m *Manager) Enqueue(op OpType, payload any) (*Item, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode queue payload: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.load()
	item := Item{
		ID:         uuid.NewString(),
		Op:         op,
		Payload:    data,
		EnqueuedAt: time.Now().UTC(),
	}
	items = append(items, item)

	if err := m.save(items); err != nil {
		return nil, err
	}
	m.logger.Printf("Enqueued %s (%s), depth=%d", item.Op, item.ID, len(items))
	return &item, nil
}

// List returns all pending items in enqueue order.
func (m *Manager) List() ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(), nil
}

// Len returns the number of pending items.
func (m *Manager) Len() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.load()), nil
}

// Remove deletes an item by id and persists the queue. Removing an unknown
// id is a no-op, not an error.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.load()
	kept := items[:0]
	for _, it := range items {
		if it.ID != id {
			kept = append(kept, it)
		}
	}
	if len(kept) == len(items) {
		return nil
	}
	return m.save(kept)
}

// BumpRetry increments an item's retry counter, persists the queue, and
// returns the updated item. The caller decides eviction once the counter
// reaches its threshold.
func (m *Manager) BumpRetry(id string) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.load()
	for i := range items {
		if items[i].ID == id {
			items[i].RetryCount++
			if err := m.save(items); err != nil {
				return nil, err
			}
			updated := items[i]
			return &updated, nil
		}
	}
	return nil, fmt.Errorf("queue item %s not found", id)
}

// Clear removes all pending items.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save(nil)
}

// load reads the persisted queue. Missing or corrupt blobs yield an empty
// queue (fail-open); corruption is logged once on read.
func (m *Manager) load() []Item {
	raw, ok, err := m.store.Get(store.KeyQueue)
	if err != nil {
		m.logger.Printf("Warning: failed to read queue: %v", err)
		return nil
	}
	if !ok {
		return nil
	}

	var items []Item
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		m.logger.Printf("Warning: discarding corrupt queue blob: %v", err)
		return nil
	}
	return items
}

// save persists the queue blob.
func (m *Manager) save(items []Item) error {
	if items == nil {
		items = []Item{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode queue: %w", err)
	}
	if err := m.store.Put(store.KeyQueue, string(data)); err != nil {
		return fmt.Errorf("failed to persist queue: %w", err)
	}
	return nil
}
