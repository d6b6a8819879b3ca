// Package presence holds the relay's status store: the latest attention
// status per client_id, kept in memory for the life of the process.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cramsino/cramsino/internal/model"
)

// ErrNotFound is returned when no status has ever been published for a
// client_id.
var ErrNotFound = errors.New("presence: not found")

// Store maps client_id to its latest status record.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put replaces the record for clientID wholesale. Last write wins.
	Put(ctx context.Context, clientID string, status json.RawMessage) (model.StatusRecord, error)

	// Get returns the current record, or ErrNotFound.
	Get(ctx context.Context, clientID string) (model.StatusRecord, error)

	// EvictBefore removes records last updated before cutoff and returns
	// how many were removed.
	EvictBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Len returns the number of stored records.
	Len() int
}

// MemoryStore implements Store with a map guarded by one RWMutex. Records
// are values copied in and out, so a reader never observes a torn record.
type MemoryStore struct {
	now func() time.Time

	mu      sync.RWMutex
	records map[string]model.StatusRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:     time.Now,
		records: make(map[string]model.StatusRecord),
	}
}

// Put stores status for clientID with updated_at set to now.
func (m *MemoryStore) Put(_ context.Context, clientID string, status json.RawMessage) (model.StatusRecord, error) {
	rec := model.StatusRecord{
		ClientID:  clientID,
		Status:    append(json.RawMessage(nil), status...),
		UpdatedAt: m.now().UTC(),
	}

	m.mu.Lock()
	m.records[clientID] = rec
	m.mu.Unlock()
	return cloneRecord(rec), nil
}

// Get returns the record for clientID regardless of its age.
func (m *MemoryStore) Get(_ context.Context, clientID string) (model.StatusRecord, error) {
	m.mu.RLock()
	rec, ok := m.records[clientID]
	m.mu.RUnlock()
	if !ok {
		return model.StatusRecord{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

// EvictBefore drops every record whose updated_at is before cutoff.
func (m *MemoryStore) EvictBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, rec := range m.records {
		if rec.UpdatedAt.Before(cutoff) {
			delete(m.records, id)
			evicted++
		}
	}
	return evicted, nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func cloneRecord(rec model.StatusRecord) model.StatusRecord {
	rec.Status = append(json.RawMessage(nil), rec.Status...)
	return rec
}
