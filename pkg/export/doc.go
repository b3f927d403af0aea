/*
Package export moves archived trajectories in and out of the durable store.

# Export

GET /v1/trajectory/device/{id}/export streams one device's records for a
time window as JSON or CSV:

	curl "http://localhost:8080/v1/trajectory/device/AA:BB:CC:DD:EE:01/export?format=csv&startTime=2024-05-01T00:00:00"

The window defaults to the last 24 hours and may not exceed 31 days.
startTime and endTime accept the same layouts as the trajectory history
endpoint. CSV columns are id, tag_mac, map_id, timestamp, x, y.

JSON exports wrap the records with metadata:

	{
	  "metadata": {
	    "exported_at": "2024-05-02T10:00:00Z",
	    "tag_mac": "AA:BB:CC:DD:EE:01",
	    "start_time": "2024-05-01T00:00:00Z",
	    "end_time": "2024-05-02T00:00:00Z",
	    "record_count": 2,
	    "version": "1.0"
	  },
	  "records": [
	    {"id": 1, "tag_mac": "AA:BB:CC:DD:EE:01", "map_id": 1, "timestamp": "2024-05-01T08:00:00Z", "x": 1.5, "y": 2}
	  ]
	}

# Import

POST /v1/trajectory/import accepts a JSON export. Month partitions are
created as needed, record IDs are reassigned, and records that fail
validation (missing MAC, zero or out-of-range timestamp, more than a day
in the future) are skipped and listed in the response:

	{
	  "records_imported": 1440,
	  "batches_written": 1,
	  "partitions_created": 1,
	  "time_range": "2024-05-01T00:00:00Z to 2024-05-01T23:59:00Z",
	  "imported_at": "2024-05-02T10:00:00Z"
	}

Import does not deduplicate. Records from a partition that retention has
already dropped come back until the next retention run removes them again.
*/
package export
