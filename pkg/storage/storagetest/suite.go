// Package storagetest holds behavior tests shared by every storage.Store backend.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrack/pkg/storage"
	"github.com/nicktill/tinytrack/pkg/tracking"
)

// Device MACs used by the suite.
var (
	DeviceA = tracking.MAC{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01}
	DeviceB = tracking.MAC{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x02}
)

// Record builds a record at the given UTC time.
func Record(mac tracking.MAC, mapID int64, ts time.Time, x, y float32) storage.Record {
	return storage.Record{DeviceID: mac, MapID: &mapID, Timestamp: ts.UTC(), X: &x, Y: &y}
}

// X returns the record's x coordinate, failing the test when it is unset.
func X(t *testing.T, r storage.Record) float32 {
	t.Helper()
	require.NotNil(t, r.X, "record %d has no x", r.ID)
	return *r.X
}

func at(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}

// Run exercises a fresh store from newStore for each subtest.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("PartitionLifecycle", func(t *testing.T) { testPartitionLifecycle(t, newStore(t)) })
	t.Run("WriteRequiresPartition", func(t *testing.T) { testWriteRequiresPartition(t, newStore(t)) })
	t.Run("QueryOrderAndFilters", func(t *testing.T) { testQueryOrderAndFilters(t, newStore(t)) })
	t.Run("QueryPagination", func(t *testing.T) { testQueryPagination(t, newStore(t)) })
	t.Run("UnplacedRecords", func(t *testing.T) { testUnplacedRecords(t, newStore(t)) })
	t.Run("DropRemovesRecords", func(t *testing.T) { testDropRemovesRecords(t, newStore(t)) })
}

func testPartitionLifecycle(t *testing.T, store storage.Store) {
	ctx := context.Background()
	jan := storage.PartitionKey{Year: 2024, Month: time.January}
	mar := storage.PartitionKey{Year: 2024, Month: time.March}
	dec := storage.PartitionKey{Year: 2023, Month: time.December}

	ok, err := store.PartitionExists(ctx, jan)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, k := range []storage.PartitionKey{mar, jan, dec} {
		created, err := store.EnsurePartition(ctx, k)
		require.NoError(t, err)
		assert.True(t, created)
	}

	created, err := store.EnsurePartition(ctx, jan)
	require.NoError(t, err)
	assert.False(t, created, "second ensure is a no-op")

	keys, err := store.Partitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []storage.PartitionKey{dec, jan, mar}, keys)

	require.NoError(t, store.DropPartition(ctx, jan))
	ok, err = store.PartitionExists(ctx, jan)
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err = store.Partitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []storage.PartitionKey{dec, mar}, keys)
}

func testWriteRequiresPartition(t *testing.T, store storage.Store) {
	ctx := context.Background()
	_, err := store.EnsurePartition(ctx, storage.PartitionKey{Year: 2024, Month: time.January})
	require.NoError(t, err)

	err = store.WriteBatch(ctx, []storage.Record{
		Record(DeviceA, 1, at(2024, time.January, 5, 0), 1, 1),
		Record(DeviceA, 1, at(2024, time.February, 5, 0), 2, 2),
	})
	require.ErrorIs(t, err, storage.ErrPartitionMissing)

	got, err := store.Query(ctx, storage.QueryRequest{DeviceID: DeviceA})
	require.NoError(t, err)
	assert.Empty(t, got, "a rejected batch writes nothing")
}

func testQueryOrderAndFilters(t *testing.T, store storage.Store) {
	ctx := context.Background()
	for _, m := range []time.Month{time.January, time.February} {
		_, err := store.EnsurePartition(ctx, storage.PartitionKey{Year: 2024, Month: m})
		require.NoError(t, err)
	}

	require.NoError(t, store.WriteBatch(ctx, []storage.Record{
		Record(DeviceA, 1, at(2024, time.February, 1, 3), 4, 4),
		Record(DeviceA, 1, at(2024, time.January, 10, 0), 1, 1),
		Record(DeviceA, 2, at(2024, time.January, 20, 0), 2, 2),
		Record(DeviceB, 1, at(2024, time.January, 15, 0), 9, 9),
		Record(DeviceA, 1, at(2024, time.January, 31, 23), 3, 3),
	}))

	all, err := store.Query(ctx, storage.QueryRequest{DeviceID: DeviceA})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Timestamp.Before(all[i].Timestamp), "ascending order")
	}
	assert.Equal(t, float32(1), X(t, all[0]))
	assert.Equal(t, float32(4), X(t, all[3]))
	assert.Equal(t, DeviceA, all[0].DeviceID)
	assert.NotZero(t, all[0].ID)

	mapID := int64(1)
	byMap, err := store.Query(ctx, storage.QueryRequest{DeviceID: DeviceA, MapID: &mapID})
	require.NoError(t, err)
	assert.Len(t, byMap, 3)

	start := at(2024, time.January, 20, 0)
	end := at(2024, time.January, 31, 23)
	ranged, err := store.Query(ctx, storage.QueryRequest{DeviceID: DeviceA, Start: &start, End: &end})
	require.NoError(t, err)
	require.Len(t, ranged, 2, "bounds are inclusive")
	assert.Equal(t, float32(2), X(t, ranged[0]))
	assert.Equal(t, float32(3), X(t, ranged[1]))

	none, err := store.Query(ctx, storage.QueryRequest{DeviceID: tracking.MAC{1, 2, 3, 4, 5, 6}})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testQueryPagination(t *testing.T, store storage.Store) {
	ctx := context.Background()
	_, err := store.EnsurePartition(ctx, storage.PartitionKey{Year: 2024, Month: time.March})
	require.NoError(t, err)

	var records []storage.Record
	for i := 0; i < 25; i++ {
		records = append(records, Record(DeviceA, 1, at(2024, time.March, 1, 0).Add(time.Duration(i)*time.Minute), float32(i), 0))
	}
	require.NoError(t, store.WriteBatch(ctx, records))

	page, err := store.Query(ctx, storage.QueryRequest{DeviceID: DeviceA, Offset: 10, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page, 10)
	assert.Equal(t, float32(10), X(t, page[0]))
	assert.Equal(t, float32(19), X(t, page[9]))

	last, err := store.Query(ctx, storage.QueryRequest{DeviceID: DeviceA, Offset: 20, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, last, 5)

	past, err := store.Query(ctx, storage.QueryRequest{DeviceID: DeviceA, Offset: 30, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, past)

	negative, err := store.Query(ctx, storage.QueryRequest{DeviceID: DeviceA, Offset: -90, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, negative)
}

func testUnplacedRecords(t *testing.T, store storage.Store) {
	ctx := context.Background()
	_, err := store.EnsurePartition(ctx, storage.PartitionKey{Year: 2024, Month: time.April})
	require.NoError(t, err)

	require.NoError(t, store.WriteBatch(ctx, []storage.Record{
		{DeviceID: DeviceA, Timestamp: at(2024, time.April, 1, 0)},
		Record(DeviceA, 1, at(2024, time.April, 1, 1), 5, 5),
	}))

	all, err := store.Query(ctx, storage.QueryRequest{DeviceID: DeviceA})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Nil(t, all[0].MapID)
	assert.Nil(t, all[0].X)
	assert.Nil(t, all[0].Y)

	mapID := int64(1)
	byMap, err := store.Query(ctx, storage.QueryRequest{DeviceID: DeviceA, MapID: &mapID})
	require.NoError(t, err)
	require.Len(t, byMap, 1)
	assert.Equal(t, float32(5), X(t, byMap[0]))
}

func testDropRemovesRecords(t *testing.T, store storage.Store) {
	ctx := context.Background()
	jan := storage.PartitionKey{Year: 2024, Month: time.January}
	feb := storage.PartitionKey{Year: 2024, Month: time.February}
	for _, k := range []storage.PartitionKey{jan, feb} {
		_, err := store.EnsurePartition(ctx, k)
		require.NoError(t, err)
	}
	require.NoError(t, store.WriteBatch(ctx, []storage.Record{
		Record(DeviceA, 1, at(2024, time.January, 2, 0), 1, 1),
		Record(DeviceA, 1, at(2024, time.February, 2, 0), 2, 2),
	}))

	require.NoError(t, store.DropPartition(ctx, jan))

	got, err := store.Query(ctx, storage.QueryRequest{DeviceID: DeviceA})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, float32(2), X(t, got[0]))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Partitions)
	assert.Equal(t, uint64(1), stats.TotalRecords)
}
