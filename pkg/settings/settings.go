// Package settings holds the task settings operators may change while the
// server is running: compaction interval, inactivity timeout, retention window
// and disk-pressure threshold. Periodic tasks read the current value on every
// cycle, so an update takes effect on the next tick.
package settings

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
)

// Settings is one immutable snapshot of the runtime task configuration.
type Settings struct {
	StorageInterval    time.Duration `koanf:"storage_interval" validate:"gte=100ms"`
	TimeoutEnabled     bool          `koanf:"timeout_enabled"`
	Timeout            time.Duration `koanf:"timeout" validate:"gte=1s"`
	RetentionDays      int           `koanf:"retention_days" validate:"min=1,max=3650"`
	DiskCleanupEnabled bool          `koanf:"disk_cleanup_enabled"`
	DiskSpaceThreshold float64       `koanf:"disk_space_threshold" validate:"gte=0,lte=100"`
}

// Defaults returns the factory task settings.
func Defaults() Settings {
	return Settings{
		StorageInterval:    5 * time.Second,
		TimeoutEnabled:     true,
		Timeout:            30 * time.Second,
		RetentionDays:      30,
		DiskCleanupEnabled: true,
		DiskSpaceThreshold: 20,
	}
}

// AlarmTimeout is the idle threshold used by the inactivity watchdog.
// A disabled timeout is an effectively infinite threshold.
func (s Settings) AlarmTimeout() time.Duration {
	if !s.TimeoutEnabled {
		return time.Duration(math.MaxInt64)
	}
	return s.Timeout
}

var validate = validator.New()

// Validate checks the field constraints.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid task settings: %w", err)
	}
	return nil
}

// Store publishes the current Settings to concurrent readers.
type Store struct {
	current atomic.Pointer[Settings]
}

// NewStore creates a store holding initial.
func NewStore(initial Settings) *Store {
	s := &Store{}
	s.current.Store(&initial)
	return s
}

// Get returns the current snapshot.
func (s *Store) Get() Settings {
	return *s.current.Load()
}

// Update validates next and swaps it in.
func (s *Store) Update(next Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.current.Store(&next)
	return nil
}
