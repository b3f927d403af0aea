package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nicktill/tinytrack/pkg/storage"
)

// Storage stores trajectory records in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	mu         sync.RWMutex
	partitions map[storage.PartitionKey][]storage.Record
	nextID     int64
}

// New creates an in-memory trajectory store
func New() *Storage {
	return &Storage{
		partitions: make(map[storage.PartitionKey][]storage.Record),
	}
}

// EnsurePartition creates the partition if absent.
func (s *Storage) EnsurePartition(ctx context.Context, key storage.PartitionKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.partitions[key]; ok {
		return false, nil
	}
	s.partitions[key] = []storage.Record{}
	return true, nil
}

// PartitionExists reports whether the partition exists.
func (s *Storage) PartitionExists(ctx context.Context, key storage.PartitionKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.partitions[key]
	return ok, nil
}

// Partitions lists partitions oldest first.
func (s *Storage) Partitions(ctx context.Context) ([]storage.PartitionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]storage.PartitionKey, 0, len(s.partitions))
	for k := range s.partitions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	return keys, nil
}

// DropPartition removes a partition.
func (s *Storage) DropPartition(ctx context.Context, key storage.PartitionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.partitions, key)
	return nil
}

// WriteBatch appends records; nothing is written if any partition is missing.
func (s *Storage) WriteBatch(ctx context.Context, records []storage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if _, ok := s.partitions[r.Partition()]; !ok {
			return fmt.Errorf("write into %s: %w", r.Partition(), storage.ErrPartitionMissing)
		}
	}
	for _, r := range records {
		s.nextID++
		r.ID = s.nextID
		p := r.Partition()
		s.partitions[p] = append(s.partitions[p], r)
	}
	return nil
}

// Query returns matching records in ascending time order.
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]storage.Record, error) {
	s.mu.RLock()
	var matched []storage.Record
	for p, records := range s.partitions {
		if !req.Overlaps(p) {
			continue
		}
		for _, r := range records {
			if r.DeviceID == req.DeviceID && req.Matches(r) {
				matched = append(matched, r)
			}
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.Before(matched[j].Timestamp)
		}
		return matched[i].ID < matched[j].ID
	})

	if req.Offset < 0 || req.Offset >= len(matched) {
		return []storage.Record{}, nil
	}
	matched = matched[req.Offset:]
	if req.Limit > 0 && req.Limit < len(matched) {
		matched = matched[:req.Limit]
	}
	return matched, nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{Partitions: len(s.partitions)}
	for _, records := range s.partitions {
		stats.TotalRecords += uint64(len(records))
	}
	return stats, nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}
