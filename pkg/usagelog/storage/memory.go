package storage

import (
	"context"
	"sort"
	"sync"

	"garagehq/aigate/pkg/usagelog"
)

// MemoryStorage implements the Storage interface using an in-memory map.
// This implementation is intended for tests and local runs. Records are lost
// when the process exits.
type MemoryStorage struct {
	records map[string]*usagelog.CallRecord
	mu      sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]*usagelog.CallRecord),
	}
}

// Store persists a call record to memory.
func (s *MemoryStorage) Store(ctx context.Context, record *usagelog.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recordCopy := *record
	s.records[record.ID] = &recordCopy
	return nil
}

// Query retrieves call records matching the query filters.
func (s *MemoryStorage) Query(ctx context.Context, query *usagelog.Query) ([]*usagelog.CallRecord, error) {
	s.mu.RLock()
	matched := s.filterSorted(query)
	s.mu.RUnlock()

	return paginate(matched, query), nil
}

// QueryStream returns a channel of call records for memory-efficient streaming.
// The channels will be closed when the query completes or errors.
func (s *MemoryStorage) QueryStream(ctx context.Context, query *usagelog.Query) (<-chan *usagelog.CallRecord, <-chan error, error) {
	recordsCh := make(chan *usagelog.CallRecord, 100)
	errCh := make(chan error, 1)

	s.mu.RLock()
	matched := paginate(s.filterSorted(query), query)
	s.mu.RUnlock()

	go func() {
		defer close(recordsCh)
		defer close(errCh)

		for _, record := range matched {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case recordsCh <- record:
			}
		}
	}()

	return recordsCh, errCh, nil
}

// Count returns the number of call records matching the query filters.
func (s *MemoryStorage) Count(ctx context.Context, query *usagelog.Query) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, record := range s.records {
		if matchesQuery(record, query) {
			count++
		}
	}
	return count, nil
}

// Delete removes call records matching the query filters.
// When the query sets a Limit, the oldest matching records are removed first.
func (s *MemoryStorage) Delete(ctx context.Context, query *usagelog.Query) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asc := *query
	asc.SortOrder = "asc"
	matched := s.filterSorted(&asc)
	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}

	for _, record := range matched {
		delete(s.records, record.ID)
	}
	return int64(len(matched)), nil
}

// Close releases resources held by the storage backend.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*usagelog.CallRecord)
	return nil
}

// Size returns the number of records in storage (for testing).
func (s *MemoryStorage) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// GetByID retrieves a single call record by ID (for testing).
func (s *MemoryStorage) GetByID(id string) *usagelog.CallRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil
	}
	recordCopy := *record
	return &recordCopy
}

// filterSorted returns copies of matching records ordered by recorded_at.
// Callers must hold s.mu.
func (s *MemoryStorage) filterSorted(query *usagelog.Query) []*usagelog.CallRecord {
	results := make([]*usagelog.CallRecord, 0)
	for _, record := range s.records {
		if matchesQuery(record, query) {
			recordCopy := *record
			results = append(results, &recordCopy)
		}
	}

	desc := query.SortOrder != "asc"
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.RecordedAt.Equal(b.RecordedAt) {
			if desc {
				return a.ID > b.ID
			}
			return a.ID < b.ID
		}
		if desc {
			return a.RecordedAt.After(b.RecordedAt)
		}
		return a.RecordedAt.Before(b.RecordedAt)
	})
	return results
}

func paginate(records []*usagelog.CallRecord, query *usagelog.Query) []*usagelog.CallRecord {
	start := query.Offset
	if start > len(records) {
		return []*usagelog.CallRecord{}
	}
	records = records[start:]

	if query.Limit > 0 && len(records) > query.Limit {
		records = records[:query.Limit]
	}
	return records
}

// matchesQuery checks if a record matches the query filters.
func matchesQuery(record *usagelog.CallRecord, query *usagelog.Query) bool {
	if query.StartTime != nil && record.RecordedAt.Before(*query.StartTime) {
		return false
	}
	if query.EndTime != nil && record.RecordedAt.After(*query.EndTime) {
		return false
	}
	if query.TenantID != "" && record.TenantID != query.TenantID {
		return false
	}
	if query.Feature != "" && record.Feature != query.Feature {
		return false
	}
	if query.Outcome != "" && record.Outcome != query.Outcome {
		return false
	}
	if query.Period != "" && record.Period != query.Period {
		return false
	}
	return true
}
