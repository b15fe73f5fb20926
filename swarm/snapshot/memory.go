package snapshot

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore keeps the last few snapshots in process memory. Snapshots are
// stored encoded so later mutation of the caller's slices cannot leak in.
type MemoryStore struct {
	mu     sync.RWMutex
	retain int
	saved  [][]byte
}

// NewMemoryStore creates a MemoryStore keeping at most retain snapshots.
func NewMemoryStore(retain int) *MemoryStore {
	if retain < 1 {
		retain = 1
	}
	return &MemoryStore{retain: retain}
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return wrapStoreErr("encode", BackendMemory, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, data)
	if over := len(s.saved) - s.retain; over > 0 {
		s.saved = append([][]byte(nil), s.saved[over:]...)
	}
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.saved) == 0 {
		return Snapshot{}, errNoSnapshot(BackendMemory)
	}
	var snap Snapshot
	if err := json.Unmarshal(s.saved[len(s.saved)-1], &snap); err != nil {
		return Snapshot{}, wrapStoreErr("decode", BackendMemory, err)
	}
	return snap, nil
}

// Len returns the number of retained snapshots.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.saved)
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
