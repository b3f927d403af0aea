package storage

import (
	"fmt"
	"strconv"
	"time"
)

// PartitionKey identifies a calendar-month partition.
type PartitionKey struct {
	Year  int
	Month time.Month
}

// PartitionFor returns the partition holding t, evaluated in UTC.
func PartitionFor(t time.Time) PartitionKey {
	t = t.UTC()
	return PartitionKey{Year: t.Year(), Month: t.Month()}
}

// ParsePartitionKey parses the p<YYYY><MM> form.
func ParsePartitionKey(s string) (PartitionKey, error) {
	if len(s) != 7 || s[0] != 'p' {
		return PartitionKey{}, fmt.Errorf("invalid partition key %q", s)
	}
	year, err := strconv.Atoi(s[1:5])
	if err != nil {
		return PartitionKey{}, fmt.Errorf("invalid partition year in %q: %w", s, err)
	}
	month, err := strconv.Atoi(s[5:7])
	if err != nil || month < 1 || month > 12 {
		return PartitionKey{}, fmt.Errorf("invalid partition month in %q", s)
	}
	return PartitionKey{Year: year, Month: time.Month(month)}, nil
}

// String renders the key as p<YYYY><MM>, e.g. p202401.
func (k PartitionKey) String() string {
	return fmt.Sprintf("p%d%02d", k.Year, int(k.Month))
}

// Start is the first instant of the month.
func (k PartitionKey) Start() time.Time {
	return time.Date(k.Year, k.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the first instant of the following month.
func (k PartitionKey) End() time.Time {
	return k.Start().AddDate(0, 1, 0)
}

// Before orders partitions chronologically.
func (k PartitionKey) Before(other PartitionKey) bool {
	if k.Year != other.Year {
		return k.Year < other.Year
	}
	return k.Month < other.Month
}
