package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/nicktill/tinytrack/pkg/storage"
	"github.com/nicktill/tinytrack/pkg/tracking"
)

// FormatVersion is written into every JSON export.
const FormatVersion = "1.0"

// csvHeader is the column order of CSV exports.
var csvHeader = []string{"id", "tag_mac", "map_id", "timestamp", "x", "y"}

// Exporter writes a device's archived trajectory in a portable format.
type Exporter struct {
	store storage.Store
}

// NewExporter creates a new exporter
func NewExporter(store storage.Store) *Exporter {
	return &Exporter{store: store}
}

// Options selects the records to export.
type Options struct {
	DeviceID tracking.MAC
	MapID    *int64
	Start    time.Time
	End      time.Time
}

func (o Options) query() storage.QueryRequest {
	start, end := o.Start, o.End
	return storage.QueryRequest{
		DeviceID: o.DeviceID,
		MapID:    o.MapID,
		Start:    &start,
		End:      &end,
	}
}

func (o Options) timeRange() string {
	return fmt.Sprintf("%s to %s", o.Start.Format(time.RFC3339), o.End.Format(time.RFC3339))
}

// Result contains stats about the export
type Result struct {
	RecordsExported int       `json:"records_exported"`
	TimeRange       string    `json:"time_range"`
	Format          string    `json:"format"`
	ExportedAt      time.Time `json:"exported_at"`
}

// Metadata describes a JSON export document.
type Metadata struct {
	ExportedAt  time.Time    `json:"exported_at"`
	DeviceID    tracking.MAC `json:"tag_mac"`
	StartTime   time.Time    `json:"start_time"`
	EndTime     time.Time    `json:"end_time"`
	RecordCount int          `json:"record_count"`
	Version     string       `json:"version"`
}

// Document is the JSON export layout, also accepted by the importer.
type Document struct {
	Metadata Metadata         `json:"metadata"`
	Records  []storage.Record `json:"records"`
}

// ExportToJSON writes the selected records as one JSON document.
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts Options) (*Result, error) {
	records, err := e.store.Query(ctx, opts.query())
	if err != nil {
		return nil, fmt.Errorf("failed to query trajectory: %w", err)
	}
	if records == nil {
		records = []storage.Record{}
	}

	now := time.Now()
	doc := Document{
		Metadata: Metadata{
			ExportedAt:  now,
			DeviceID:    opts.DeviceID,
			StartTime:   opts.Start,
			EndTime:     opts.End,
			RecordCount: len(records),
			Version:     FormatVersion,
		},
		Records: records,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &Result{
		RecordsExported: len(records),
		TimeRange:       opts.timeRange(),
		Format:          "json",
		ExportedAt:      now,
	}, nil
}

// ExportToCSV writes the selected records as CSV with a header row.
// Timestamps are RFC 3339 in UTC with nanoseconds.
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts Options) (*Result, error) {
	records, err := e.store.Query(ctx, opts.query())
	if err != nil {
		return nil, fmt.Errorf("failed to query trajectory: %w", err)
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, r := range records {
		row := []string{
			strconv.FormatInt(r.ID, 10),
			r.DeviceID.String(),
			formatMapID(r.MapID),
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			formatCoord(r.X),
			formatCoord(r.Y),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return &Result{
		RecordsExported: len(records),
		TimeRange:       opts.timeRange(),
		Format:          "csv",
		ExportedAt:      time.Now(),
	}, nil
}

// formatMapID and formatCoord leave the CSV cell empty for unplaced records.
func formatMapID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}

func formatCoord(v *float32) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(float64(*v), 'f', -1, 32)
}
