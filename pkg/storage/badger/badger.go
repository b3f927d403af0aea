package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"

	"github.com/nicktill/tinytrack/pkg/storage"
	"github.com/nicktill/tinytrack/pkg/tracking"
)

// Key layout:
//
//	part/<pYYYYMM>                                      partition marker
//	traj/<pYYYYMM>/[mac 6][unix nanos 8][record id 8]   record
//
// Within a partition a device's records are contiguous and ordered by time,
// and partitions sort chronologically, so a device query is a sequence of
// prefix scans.
const (
	partPrefix = "part/"
	trajPrefix = "traj/"
	seqKey     = "seq/trajectory"
)

// Storage implements storage.Store using BadgerDB (LSM tree)
type Storage struct {
	db  *badger.DB
	seq *badger.Sequence
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults based on environment)
	MaxMemoryMB int64
}

// OpenDB opens a BadgerDB tuned for small, bounded memory use. It is shared
// by the trajectory store and the hot state store.
func OpenDB(cfg Config) (*badger.DB, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// 16 MB memtable by default; below that badger flushes excessively
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithLogger(badgerLogger{}).
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return db, nil
}

// New creates a BadgerDB trajectory store
func New(cfg Config) (*Storage, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}

	seq, err := db.GetSequence([]byte(seqKey), 1000)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open record sequence: %w", err)
	}

	return &Storage{db: db, seq: seq}, nil
}

func markerKey(k storage.PartitionKey) []byte {
	return []byte(partPrefix + k.String())
}

func partitionPrefix(k storage.PartitionKey) []byte {
	return []byte(trajPrefix + k.String() + "/")
}

func devicePrefix(k storage.PartitionKey, mac tracking.MAC) []byte {
	return append(partitionPrefix(k), mac[:]...)
}

func recordKey(r storage.Record) []byte {
	key := devicePrefix(r.Partition(), r.DeviceID)
	key = binary.BigEndian.AppendUint64(key, uint64(r.Timestamp.UnixNano()))
	return binary.BigEndian.AppendUint64(key, uint64(r.ID))
}

// EnsurePartition writes the partition marker if it is missing.
func (s *Storage) EnsurePartition(ctx context.Context, key storage.PartitionKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	created := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(markerKey(key))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		created = true
		stamp := binary.BigEndian.AppendUint64(nil, uint64(time.Now().Unix()))
		return txn.Set(markerKey(key), stamp)
	})
	if err != nil {
		return false, fmt.Errorf("ensure partition %s: %w", key, err)
	}
	return created, nil
}

// PartitionExists checks for the partition marker.
func (s *Storage) PartitionExists(ctx context.Context, key storage.PartitionKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	exists := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(markerKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		exists = err == nil
		return err
	})
	if err != nil {
		return false, fmt.Errorf("check partition %s: %w", key, err)
	}
	return exists, nil
}

// Partitions lists partition markers, oldest first.
func (s *Storage) Partitions(ctx context.Context) ([]storage.PartitionKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []storage.PartitionKey
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(partPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			k, err := storage.ParsePartitionKey(string(it.Item().Key()[len(partPrefix):]))
			if err != nil {
				return err
			}
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	return keys, nil
}

// DropPartition drops every record under the partition prefix, then the
// marker. DropPrefix blocks writes while it runs.
func (s *Storage) DropPartition(ctx context.Context, key storage.PartitionKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.db.DropPrefix(partitionPrefix(key)); err != nil {
		return fmt.Errorf("drop partition %s records: %w", key, err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(markerKey(key))
	})
	if err != nil {
		return fmt.Errorf("drop partition %s marker: %w", key, err)
	}
	return nil
}

// WriteBatch stores records after checking that all of their partitions exist.
// CRITICAL: Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Storage) WriteBatch(ctx context.Context, records []storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- s.writeBatch(ctx, records)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("write operation cancelled: %w", ctx.Err())
	}
}

func (s *Storage) writeBatch(ctx context.Context, records []storage.Record) error {
	seen := make(map[storage.PartitionKey]bool)
	for _, r := range records {
		p := r.Partition()
		if seen[p] {
			continue
		}
		ok, err := s.PartitionExists(ctx, p)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("write into %s: %w", p, storage.ErrPartitionMissing)
		}
		seen[p] = true
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for i, r := range records {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		id, err := s.seq.Next()
		if err != nil {
			return fmt.Errorf("allocate record id: %w", err)
		}
		r.ID = int64(id) + 1

		value, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
		if err := wb.Set(recordKey(r), value); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	return wb.Flush()
}

// Query scans the device's prefix in each overlapping partition, oldest first.
// CRITICAL: Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]storage.Record, error) {
	if req.Offset < 0 {
		return []storage.Record{}, nil
	}
	partitions, err := s.Partitions(ctx)
	if err != nil {
		return nil, err
	}

	type queryResult struct {
		records []storage.Record
		err     error
	}
	done := make(chan queryResult, 1)

	go func() {
		var res queryResult
		res.records = []storage.Record{}
		skipped := 0

		res.err = s.db.View(func(txn *badger.Txn) error {
			for _, p := range partitions {
				if !req.Overlaps(p) {
					continue
				}

				opts := badger.DefaultIteratorOptions
				opts.Prefix = devicePrefix(p, req.DeviceID)
				it := txn.NewIterator(opts)

				full, err := scanDevice(ctx, it, req, &skipped, &res.records)
				it.Close()
				if err != nil || full {
					return err
				}
			}
			return nil
		})
		done <- res
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("query trajectory: %w", res.err)
		}
		return res.records, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("query operation cancelled: %w", ctx.Err())
	}
}

// scanDevice appends matching records from one partition. full reports that
// the limit was reached.
func scanDevice(ctx context.Context, it *badger.Iterator, req storage.QueryRequest, skipped *int, out *[]storage.Record) (full bool, err error) {
	var iterCount int
	for it.Rewind(); it.Valid(); it.Next() {
		iterCount++
		if iterCount%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return false, err
			}
		}

		var r storage.Record
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		}); err != nil {
			return false, fmt.Errorf("decode record: %w", err)
		}
		if !req.Matches(r) {
			continue
		}
		if *skipped < req.Offset {
			*skipped++
			continue
		}
		*out = append(*out, r)
		if req.Limit > 0 && len(*out) >= req.Limit {
			return true, nil
		}
	}
	return false, nil
}

// Stats counts partitions and records.
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	partitions, err := s.Partitions(ctx)
	if err != nil {
		return nil, err
	}

	stats := &storage.Stats{Partitions: len(partitions)}
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(trajPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			stats.TotalRecords++
			if stats.TotalRecords%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

// RunGC runs BadgerDB's value log garbage collection
// This reclaims disk space from deleted/updated values
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns error only if GC failed, nil if GC not needed or succeeded
func (s *Storage) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

// Reclaim runs value log GC until there is nothing left to rewrite.
func (s *Storage) Reclaim() error {
	for i := 0; i < 16; i++ {
		err := s.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Close releases the id sequence and shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	if err := s.seq.Release(); err != nil {
		s.db.Close()
		return fmt.Errorf("release sequence: %w", err)
	}
	return s.db.Close()
}

