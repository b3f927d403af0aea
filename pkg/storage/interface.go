package storage

import (
	"context"
	"errors"
	"time"

	"github.com/nicktill/tinytrack/pkg/tracking"
)

// ErrPartitionMissing is returned when a write targets a partition that has
// not been created.
var ErrPartitionMissing = errors.New("partition does not exist")

// Store defines the durable trajectory table.
// Implementations: memory (testing), badger (production)
type Store interface {
	// EnsurePartition creates the partition if absent. created reports
	// whether this call created it.
	EnsurePartition(ctx context.Context, key PartitionKey) (created bool, err error)

	// PartitionExists reports whether a partition exists.
	PartitionExists(ctx context.Context, key PartitionKey) (bool, error)

	// Partitions lists existing partitions, oldest first.
	Partitions(ctx context.Context) ([]PartitionKey, error)

	// DropPartition removes a partition and every record in it.
	DropPartition(ctx context.Context, key PartitionKey) error

	// WriteBatch stores records in one batch. Every record's partition must
	// already exist, otherwise ErrPartitionMissing is returned and nothing is
	// written. IDs are assigned by the store.
	WriteBatch(ctx context.Context, records []Record) error

	// Query returns records for one device in ascending time order.
	Query(ctx context.Context, req QueryRequest) ([]Record, error)

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage
	Close() error
}

// Reclaimer is implemented by stores that can hand freed space back to the
// filesystem after partitions are dropped.
type Reclaimer interface {
	Reclaim() error
}

// Record is one archived position. A tag that reports before it is placed
// on a map is archived without map or coordinates.
type Record struct {
	ID        int64        `json:"id"`
	DeviceID  tracking.MAC `json:"tag_mac"`
	MapID     *int64       `json:"map_id,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	X         *float32     `json:"x,omitempty"`
	Y         *float32     `json:"y,omitempty"`
}

// Partition returns the month partition the record belongs to.
func (r Record) Partition() PartitionKey {
	return PartitionFor(r.Timestamp)
}

// QueryRequest selects records for one device.
type QueryRequest struct {
	DeviceID tracking.MAC

	// MapID filters by map when set.
	MapID *int64

	// Start and End are inclusive bounds when set.
	Start *time.Time
	End   *time.Time

	// Offset skips matching records; Limit caps results (0 = no limit).
	// A negative offset selects nothing.
	Offset int
	Limit  int
}

// Matches applies the map and time filters. A record without a map never
// matches a map filter.
func (q QueryRequest) Matches(r Record) bool {
	if q.MapID != nil && (r.MapID == nil || *r.MapID != *q.MapID) {
		return false
	}
	if q.Start != nil && r.Timestamp.Before(*q.Start) {
		return false
	}
	if q.End != nil && r.Timestamp.After(*q.End) {
		return false
	}
	return true
}

// Overlaps reports whether any part of partition p falls inside the query's
// time bounds.
func (q QueryRequest) Overlaps(p PartitionKey) bool {
	if q.Start != nil && !p.End().After(*q.Start) {
		return false
	}
	if q.End != nil && p.Start().After(*q.End) {
		return false
	}
	return true
}

// Stats provides storage health and usage info
type Stats struct {
	Partitions   int    `json:"partitions"`
	TotalRecords uint64 `json:"total_records"`
	SizeBytes    uint64 `json:"size_bytes"`
}
