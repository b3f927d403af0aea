/*
Package storage provides the durable trajectory table.

# Partitions

Records are grouped into calendar-month partitions keyed p<YYYY><MM>
(p202401 holds January 2024, UTC). A partition is the unit of lifecycle
management: it is created before the first write into it, listed oldest
first, and dropped as a whole by retention and disk-pressure eviction.
Writes into a partition that does not exist fail with ErrPartitionMissing
rather than creating it implicitly.

# Backends

  - memory: in-process maps, for tests and development
  - badger: BadgerDB, one key prefix per partition so a drop is a single
    DropPrefix call

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data/trajectory"})
	if err != nil {
	    return err
	}
	defer store.Close()

	key := storage.PartitionFor(rec.Timestamp)
	if _, err := store.EnsurePartition(ctx, key); err != nil {
	    return err
	}
	err = store.WriteBatch(ctx, []storage.Record{rec})

	records, err := store.Query(ctx, storage.QueryRequest{
	    DeviceID: rec.DeviceID,
	    Limit:    100,
	})

Query results are ascending by timestamp. Ties keep insertion order.
*/
package storage
