// Package tracking defines the location sample that flows through ingestion,
// the hot cache, the alarm engine and the compactor, plus the MAC and epoch
// helpers shared by those stages.
package tracking

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
)

var (
	// ErrMissingTimestamp marks a report without a timestamp.
	ErrMissingTimestamp = errors.New("missing timestamp")
	// ErrMissingDevice marks a report without a tag MAC.
	ErrMissingDevice = errors.New("missing tag_mac")
)

// Sample is one location observation. Samples are values: stages pass them by
// copy and never modify the pointed-to optional fields.
type Sample struct {
	DeviceID  string   `json:"tag_mac"`
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
	RSSI      *int     `json:"rssi,omitempty"`
	Battery   *int     `json:"battery,omitempty"`
	MapID     *int64   `json:"map_id,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// Position returns the metric coordinates when both are present.
func (s Sample) Position() (x, y float64, ok bool) {
	if s.X == nil || s.Y == nil {
		return 0, 0, false
	}
	return *s.X, *s.Y, true
}

// Map returns the map id when present.
func (s Sample) Map() (int64, bool) {
	if s.MapID == nil {
		return 0, false
	}
	return *s.MapID, true
}

// CanonicalID normalizes a device identifier. Every lookup and write keys on
// this form.
func CanonicalID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Report is the wire form of a sample as producers send it.
type Report struct {
	TagMAC    string    `json:"tag_mac"`
	X         *float64  `json:"x"`
	Y         *float64  `json:"y"`
	RSSI      *int      `json:"rssi"`
	Battery   *int      `json:"battery"`
	MapID     *int64    `json:"map_id"`
	Timestamp EpochText `json:"timestamp"`
}

// Sample validates the report and builds its canonical sample.
func (r Report) Sample() (Sample, error) {
	ts := strings.TrimSpace(string(r.Timestamp))
	if ts == "" {
		return Sample{}, ErrMissingTimestamp
	}
	id := CanonicalID(r.TagMAC)
	if id == "" {
		return Sample{}, ErrMissingDevice
	}
	return Sample{
		DeviceID:  id,
		X:         r.X,
		Y:         r.Y,
		RSSI:      r.RSSI,
		Battery:   r.Battery,
		MapID:     r.MapID,
		Timestamp: ts,
	}, nil
}

// EpochText keeps a timestamp exactly as the producer wrote it. Producers send
// either a JSON string ("1700000000.5") or a bare number.
type EpochText string

// UnmarshalJSON accepts a string, a number or null.
func (e *EpochText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*e = ""
	case len(data) > 0 && data[0] == '"':
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return err
		}
		*e = EpochText(s)
	default:
		*e = EpochText(data)
	}
	return nil
}
