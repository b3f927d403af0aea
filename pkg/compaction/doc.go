/*
Package compaction turns the hot per-device sample stream into the durable
trajectory table.

# What Gets Compacted

Devices report positions several times a second. Keeping every sample forever
is neither useful nor affordable, so the hot store only holds the last hour
and compaction archives one position per device per cycle:

	hot state (per device)                trajectory table
	┌──────────────────────────┐          ┌──────────────────────────────┐
	│ history: s5 s4 s3 s2 s1  │  ──────► │ p202405 │ AA:BB:..:01 │ s5 │
	│ (newest first, cap 500)  │  take    │         │             │    │
	└──────────────────────────┘  latest  └──────────────────────────────┘
	history is cleared                     one record, id assigned by store

With the default 5s interval that is at most 12 records per device per minute,
however fast the device reports.

# A Cycle

CompactOnce walks the active devices and for each one atomically takes the
newest history entry and clears the history. The sample becomes a record when

  - its timestamp is an epoch numeral in [1970, 2100)
  - its device id packs into a 6-byte MAC
  - it carries x, y and a map id

Anything else is logged and dropped. Records are grouped by month partition,
each partition is created if needed, and the batch is written in one call.

A failed partition or write loses the cycle's records: the history was
already cleared and the cycle is not retried. The failure is logged, counted
and reported through the health endpoint.

# Reading Trajectories

DeviceTrajectory pages through one device's records in ascending time order.
Query times are wall-clock strings taken verbatim as UTC:

	2024-05-01T08:00:00
	2024-05-01 08:00:00
	2024-05-01T08:00:00Z   (RFC 3339)

# See Also

  - pkg/hotstate for the hot per-device cache
  - pkg/storage for partitions and the trajectory table
  - pkg/retention for dropping old partitions
*/
package compaction
