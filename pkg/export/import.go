package export

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/goccy/go-json"

	"github.com/nicktill/tinytrack/pkg/config"
	"github.com/nicktill/tinytrack/pkg/storage"
	"github.com/nicktill/tinytrack/pkg/tracking"
)

// maxFutureSkew bounds how far past now an imported record may be stamped.
const maxFutureSkew = 24 * time.Hour

// Importer restores records from a JSON export. Record IDs in the document
// are ignored; the store assigns new ones. Importing the same document
// twice stores its records twice.
type Importer struct {
	store     storage.Store
	batchSize int
	now       func() time.Time
}

// NewImporter creates a new importer
func NewImporter(store storage.Store) *Importer {
	return &Importer{store: store, batchSize: config.ImportBatchSize, now: time.Now}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	RecordsImported   int       `json:"records_imported"`
	BatchesWritten    int       `json:"batches_written"`
	PartitionsCreated int       `json:"partitions_created"`
	TimeRange         string    `json:"time_range"`
	ImportedAt        time.Time `json:"imported_at"`
	Errors            []string  `json:"errors,omitempty"`
}

// ImportFromJSON decodes a Document from r and imports it.
func (im *Importer) ImportFromJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	return im.Import(ctx, doc)
}

// Import validates the document's records and writes the valid ones,
// creating missing month partitions first. Invalid records are reported in
// Errors and skipped.
func (im *Importer) Import(ctx context.Context, doc Document) (*ImportResult, error) {
	result := &ImportResult{TimeRange: "empty", ImportedAt: im.now()}
	if len(doc.Records) == 0 {
		return result, nil
	}

	valid := make([]storage.Record, 0, len(doc.Records))
	for i, r := range doc.Records {
		if err := im.validate(r); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		r.ID = 0
		r.Timestamp = r.Timestamp.UTC()
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return result, nil
	}

	seen := make(map[storage.PartitionKey]bool)
	for _, r := range valid {
		key := r.Partition()
		if seen[key] {
			continue
		}
		seen[key] = true
		created, err := im.store.EnsurePartition(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to create partition %s: %w", key, err)
		}
		if created {
			result.PartitionsCreated++
		}
	}

	for i := 0; i < len(valid); i += im.batchSize {
		end := min(i+im.batchSize, len(valid))
		if err := im.store.WriteBatch(ctx, valid[i:end]); err != nil {
			return nil, fmt.Errorf("failed to write batch %d: %w", result.BatchesWritten, err)
		}
		result.BatchesWritten++
		result.RecordsImported += end - i
	}

	minTime, maxTime := valid[0].Timestamp, valid[0].Timestamp
	for _, r := range valid[1:] {
		if r.Timestamp.Before(minTime) {
			minTime = r.Timestamp
		}
		if r.Timestamp.After(maxTime) {
			maxTime = r.Timestamp
		}
	}
	result.TimeRange = fmt.Sprintf("%s to %s", minTime.Format(time.RFC3339), maxTime.Format(time.RFC3339))
	return result, nil
}

func (im *Importer) validate(r storage.Record) error {
	if r.DeviceID == (tracking.MAC{}) {
		return fmt.Errorf("missing tag_mac")
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("timestamp cannot be zero")
	}
	if r.Timestamp.Unix() < 0 || r.Timestamp.Unix() >= tracking.MaxEpochSeconds {
		return fmt.Errorf("timestamp out of range: %s", r.Timestamp)
	}
	if r.Timestamp.After(im.now().Add(maxFutureSkew)) {
		return fmt.Errorf("timestamp too far in future: %s", r.Timestamp)
	}
	if !finite(r.X) || !finite(r.Y) {
		return fmt.Errorf("coordinates must be finite")
	}
	return nil
}

// finite accepts a missing coordinate.
func finite(v *float32) bool {
	if v == nil {
		return true
	}
	f := float64(*v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
