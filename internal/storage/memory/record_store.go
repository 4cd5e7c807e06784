package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/ycrawler/internal/persist"
)

// RecordStore keeps item records in insertion order.
type RecordStore struct {
	mu      sync.RWMutex
	records []persist.ItemRecord
	byItem  map[string][]int
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{byItem: make(map[string][]int)}
}

// SaveItem appends the record.
func (s *RecordStore) SaveItem(_ context.Context, record persist.ItemRecord) error {
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byItem[record.ItemID] = append(s.byItem[record.ItemID], len(s.records))
	record.CommentURIs = append([]string(nil), record.CommentURIs...)
	s.records = append(s.records, record)
	return nil
}

// Records returns a copy of every saved record.
func (s *RecordStore) Records() []persist.ItemRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]persist.ItemRecord, len(s.records))
	copy(out, s.records)
	return out
}

// ForItem returns the records saved for one item id, oldest first.
func (s *RecordStore) ForItem(itemID string) []persist.ItemRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.byItem[itemID]
	out := make([]persist.ItemRecord, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.records[i])
	}
	return out
}
