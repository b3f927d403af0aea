package compaction

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nicktill/tinytrack/pkg/storage"
	"github.com/nicktill/tinytrack/pkg/tracking"
)

// ErrInvalidQuery is wrapped by every query validation failure.
var ErrInvalidQuery = errors.New("invalid trajectory query")

// Result summarizes one compaction cycle.
type Result struct {
	Devices    int           `json:"devices"`
	Written    int           `json:"written"`
	Dropped    int           `json:"dropped"`
	Partitions []string      `json:"partitions,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// ToRecord converts a hot sample into a trajectory record. Missing map or
// coordinates are carried over as nulls; only the timestamp and device id
// can reject a sample.
func ToRecord(s tracking.Sample) (storage.Record, error) {
	ts, err := tracking.ParseEpoch(s.Timestamp)
	if err != nil {
		return storage.Record{}, err
	}
	mac, err := tracking.ParseMAC(s.DeviceID)
	if err != nil {
		return storage.Record{}, err
	}

	rec := storage.Record{
		DeviceID:  mac,
		Timestamp: ts,
		X:         float32Ptr(s.X),
		Y:         float32Ptr(s.Y),
	}
	if mapID, ok := s.Map(); ok {
		rec.MapID = &mapID
	}
	return rec, nil
}

func float32Ptr(v *float64) *float32 {
	if v == nil {
		return nil
	}
	f := float32(*v)
	return &f
}

// Query selects a page of one device's trajectory.
type Query struct {
	DeviceID string
	MapID    *int64
	Start    *time.Time
	End      *time.Time
	Page     int
	Size     int
}

// Request validates q and builds the storage request.
func (q Query) Request() (storage.QueryRequest, error) {
	mac, err := tracking.ParseMAC(q.DeviceID)
	if err != nil {
		return storage.QueryRequest{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if q.Page < 0 {
		return storage.QueryRequest{}, fmt.Errorf("%w: page must not be negative", ErrInvalidQuery)
	}
	size := q.Size
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		return storage.QueryRequest{}, fmt.Errorf("%w: size exceeds %d", ErrInvalidQuery, MaxPageSize)
	}
	if q.Page > math.MaxInt/size {
		return storage.QueryRequest{}, fmt.Errorf("%w: page out of range", ErrInvalidQuery)
	}
	if q.Start != nil && q.End != nil && q.End.Before(*q.Start) {
		return storage.QueryRequest{}, fmt.Errorf("%w: end before start", ErrInvalidQuery)
	}

	return storage.QueryRequest{
		DeviceID: mac,
		MapID:    q.MapID,
		Start:    q.Start,
		End:      q.End,
		Offset:   q.Page * size,
		Limit:    size,
	}, nil
}

var queryLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseQueryTime parses a wall-clock query time. Zone-less forms are read
// as UTC; an RFC 3339 offset is ignored and its wall clock kept as UTC.
func ParseQueryTime(s string) (time.Time, error) {
	for _, layout := range queryLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: unrecognized time %q", ErrInvalidQuery, s)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC), nil
}
