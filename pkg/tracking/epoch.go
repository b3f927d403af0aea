package tracking

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MaxEpochSeconds is 2100-01-01T00:00:00Z. Timestamps at or past it are rejected.
const MaxEpochSeconds int64 = 4102444800

var epochPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// ParseEpoch parses a non-negative epoch-seconds numeral with an optional
// fractional part. Results are UTC and fall in [1970-01-01, 2100-01-01).
func ParseEpoch(ts string) (time.Time, error) {
	if !epochPattern.MatchString(ts) {
		return time.Time{}, fmt.Errorf("timestamp %q is not an epoch numeral", ts)
	}

	whole, frac, _ := strings.Cut(ts, ".")
	secs, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || secs >= MaxEpochSeconds {
		return time.Time{}, fmt.Errorf("timestamp %q out of range", ts)
	}

	var nanos int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		nanos, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(secs, nanos).UTC(), nil
}

// SampleTime parses the sample timestamp, falling back to fallback when it is
// not a valid epoch.
func (s Sample) SampleTime(fallback time.Time) time.Time {
	t, err := ParseEpoch(s.Timestamp)
	if err != nil {
		return fallback
	}
	return t
}
