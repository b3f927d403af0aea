package ingest

import (
	"fmt"

	"github.com/nicktill/tinytrack/pkg/tracking"
)

// Request limits
const (
	MaxSamplesPerRequest = 10000 // Maximum reports in a single batch request
	MaxTagMACLength      = 64    // Longest tag_mac accepted before canonicalization
)

var (
	// ErrTooManySamples is returned when a batch request holds too many reports
	ErrTooManySamples = fmt.Errorf("too many samples in request (max %d)", MaxSamplesPerRequest)

	// ErrTagMACTooLong is returned when a report carries an oversized tag_mac
	ErrTagMACTooLong = fmt.Errorf("tag_mac too long (max %d chars)", MaxTagMACLength)
)

// ValidateBatch checks a batch against the request limits. Individual
// malformed reports are not rejected here; the pipeline drops them.
func ValidateBatch(reports []tracking.Report) error {
	if len(reports) > MaxSamplesPerRequest {
		return fmt.Errorf("%w: got %d", ErrTooManySamples, len(reports))
	}
	for i, r := range reports {
		if err := ValidateReport(r); err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
	}
	return nil
}

// ValidateReport rejects reports that could never be a real tag.
func ValidateReport(r tracking.Report) error {
	if len(r.TagMAC) > MaxTagMACLength {
		return fmt.Errorf("%w: %d chars", ErrTagMACTooLong, len(r.TagMAC))
	}
	return nil
}
