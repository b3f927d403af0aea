package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nicktill/tinytrack/pkg/hotstate"
	"github.com/nicktill/tinytrack/pkg/tracking"
)

type entry struct {
	latest    tracking.Sample
	history   []tracking.Sample
	expiresAt time.Time
}

// Store keeps device state in process memory. Data is lost on restart.
// Useful for testing and development.
type Store struct {
	opts    hotstate.Options
	now     func() time.Time
	mu      sync.RWMutex
	devices map[string]*entry
}

// New creates an in-memory hot state store.
func New(opts hotstate.Options) *Store {
	return &Store{
		opts:    opts.Normalize(),
		now:     time.Now,
		devices: make(map[string]*entry),
	}
}

// live returns the entry for id if it has not expired. Caller holds mu.
func (s *Store) live(id string) (*entry, bool) {
	e, ok := s.devices[id]
	if !ok || !s.now().Before(e.expiresAt) {
		return nil, false
	}
	return e, true
}

// Record stores s as latest and pushes it onto the history.
func (s *Store) Record(ctx context.Context, sample tracking.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var history []tracking.Sample
	if e, ok := s.live(sample.DeviceID); ok {
		history = e.history
	}
	s.devices[sample.DeviceID] = &entry{
		latest:    sample,
		history:   hotstate.PushCapped(history, sample, s.opts.HistoryCap),
		expiresAt: s.now().Add(s.opts.TTL),
	}
	return nil
}

// Latest returns the most recent sample.
func (s *Store) Latest(ctx context.Context, deviceID string) (tracking.Sample, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.live(deviceID)
	if !ok {
		return tracking.Sample{}, false, nil
	}
	return e.latest, true, nil
}

// History returns up to limit samples, newest first.
func (s *Store) History(ctx context.Context, deviceID string, limit int) ([]tracking.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.live(deviceID)
	if !ok {
		return []tracking.Sample{}, nil
	}
	n := len(e.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]tracking.Sample, n)
	copy(out, e.history[:n])
	return out, nil
}

// ActiveDevices lists unexpired devices and drops expired ones.
func (s *Store) ActiveDevices(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		if _, ok := s.live(id); !ok {
			delete(s.devices, id)
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// TakeLatest returns history[0] and empties the history.
func (s *Store) TakeLatest(ctx context.Context, deviceID string) (tracking.Sample, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(deviceID)
	if !ok || len(e.history) == 0 {
		return tracking.Sample{}, false, nil
	}
	head := e.history[0]
	e.history = nil
	return head, true, nil
}

// Delete removes a device.
func (s *Store) Delete(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, deviceID)
	return nil
}

// Close is a no-op for memory storage
func (s *Store) Close() error {
	return nil
}
