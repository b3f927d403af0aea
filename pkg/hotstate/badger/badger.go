package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/nicktill/tinytrack/pkg/hotstate"
	storagebadger "github.com/nicktill/tinytrack/pkg/storage/badger"
	"github.com/nicktill/tinytrack/pkg/tracking"
)

// Key layout:
//
//	latest/<id>                  newest sample, idle TTL
//	active/<id>                  active marker, idle TTL
//	hmeta/<id>                   history window [tail, head), no TTL
//	history/<id>/<index 8>       one history entry, no TTL
//
// A Record writes one history entry and trims at most one, so its cost does
// not grow with the history cap. Only latest and active carry the TTL; the
// history is visible only while active exists, and a device that comes back
// after expiring has its stale entries cleared before the new one is written.
const (
	latestPrefix  = "latest/"
	activePrefix  = "active/"
	metaPrefix    = "hmeta/"
	historyPrefix = "history/"
)

// Store implements hotstate.Store on BadgerDB.
type Store struct {
	db    *badger.DB
	opts  hotstate.Options
	locks hotstate.KeyLocks
}

// window is the range of live history indexes; head is the next index to
// write and tail the oldest kept.
type window struct {
	tail, head uint64
}

func (w window) size() uint64 { return w.head - w.tail }

// New opens a badger-backed hot state store.
func New(cfg storagebadger.Config, opts hotstate.Options) (*Store, error) {
	db, err := storagebadger.OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, opts: opts.Normalize()}, nil
}

func entryKey(id string, index uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte(historyPrefix+id+"/"), index)
}

// Record stores the sample as latest, appends it to the capped history and
// refreshes active membership in one transaction.
func (s *Store) Record(ctx context.Context, sample tracking.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := sample.DeviceID

	unlock := s.locks.Lock(id)
	defer unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		w, err := readWindow(txn, id)
		if err != nil {
			return err
		}
		alive, err := isActive(txn, id)
		if err != nil {
			return err
		}
		if !alive && w.size() > 0 {
			if err := clearEntries(txn, id, &w); err != nil {
				return err
			}
		}

		val, err := json.Marshal(sample)
		if err != nil {
			return fmt.Errorf("encode sample: %w", err)
		}
		if err := txn.Set(entryKey(id, w.head), val); err != nil {
			return fmt.Errorf("append history %s: %w", id, err)
		}
		w.head++
		for w.size() > uint64(s.opts.HistoryCap) {
			if err := txn.Delete(entryKey(id, w.tail)); err != nil {
				return fmt.Errorf("trim history %s: %w", id, err)
			}
			w.tail++
		}
		if err := writeWindow(txn, id, w); err != nil {
			return err
		}

		for _, e := range []*badger.Entry{
			badger.NewEntry([]byte(latestPrefix+id), val),
			badger.NewEntry([]byte(activePrefix+id), nil),
		} {
			if err := txn.SetEntry(e.WithTTL(s.opts.TTL)); err != nil {
				return fmt.Errorf("record %s: %w", id, err)
			}
		}
		return nil
	})
}

// Latest returns the most recent sample.
func (s *Store) Latest(ctx context.Context, deviceID string) (tracking.Sample, bool, error) {
	if err := ctx.Err(); err != nil {
		return tracking.Sample{}, false, err
	}

	var (
		sample tracking.Sample
		found  bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(latestPrefix + deviceID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sample)
		})
	})
	if err != nil {
		return tracking.Sample{}, false, fmt.Errorf("read latest %s: %w", deviceID, err)
	}
	return sample, found, nil
}

// History returns up to limit samples, newest first.
func (s *Store) History(ctx context.Context, deviceID string, limit int) ([]tracking.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	history := []tracking.Sample{}
	err := s.db.View(func(txn *badger.Txn) error {
		alive, err := isActive(txn, deviceID)
		if err != nil || !alive {
			return err
		}
		w, err := readWindow(txn, deviceID)
		if err != nil {
			return err
		}
		for i := w.head; i > w.tail; i-- {
			if limit > 0 && len(history) >= limit {
				break
			}
			sample, err := readEntry(txn, deviceID, i-1)
			if err != nil {
				return err
			}
			history = append(history, sample)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", deviceID, err)
	}
	return history, nil
}

// ActiveDevices scans the active keyspace. Expired entries are skipped by the
// iterator, and keys come back in sorted order.
func (s *Store) ActiveDevices(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(activePrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(activePrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list active devices: %w", err)
	}
	return ids, nil
}

// TakeLatest returns the newest history entry and deletes every entry.
func (s *Store) TakeLatest(ctx context.Context, deviceID string) (tracking.Sample, bool, error) {
	if err := ctx.Err(); err != nil {
		return tracking.Sample{}, false, err
	}

	unlock := s.locks.Lock(deviceID)
	defer unlock()

	var (
		head  tracking.Sample
		found bool
	)
	err := s.db.Update(func(txn *badger.Txn) error {
		w, err := readWindow(txn, deviceID)
		if err != nil || w.size() == 0 {
			return err
		}
		alive, err := isActive(txn, deviceID)
		if err != nil {
			return err
		}
		if alive {
			if head, err = readEntry(txn, deviceID, w.head-1); err != nil {
				return err
			}
			found = true
		}
		if err := clearEntries(txn, deviceID, &w); err != nil {
			return err
		}
		return writeWindow(txn, deviceID, w)
	})
	if err != nil {
		return tracking.Sample{}, false, fmt.Errorf("take latest %s: %w", deviceID, err)
	}
	return head, found, nil
}

// Delete removes all keys for a device.
func (s *Store) Delete(ctx context.Context, deviceID string) error {
	unlock := s.locks.Lock(deviceID)
	defer unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		w, err := readWindow(txn, deviceID)
		if err != nil {
			return err
		}
		if err := clearEntries(txn, deviceID, &w); err != nil {
			return err
		}
		for _, prefix := range []string{latestPrefix, activePrefix, metaPrefix} {
			if err := txn.Delete([]byte(prefix + deviceID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close shuts down BadgerDB cleanly
func (s *Store) Close() error {
	return s.db.Close()
}

func isActive(txn *badger.Txn, id string) (bool, error) {
	_, err := txn.Get([]byte(activePrefix + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func readWindow(txn *badger.Txn, id string) (window, error) {
	item, err := txn.Get([]byte(metaPrefix + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return window{}, nil
	}
	if err != nil {
		return window{}, err
	}

	var w window
	err = item.Value(func(val []byte) error {
		if len(val) != 16 {
			return fmt.Errorf("history index for %s has %d bytes", id, len(val))
		}
		w.tail = binary.BigEndian.Uint64(val[:8])
		w.head = binary.BigEndian.Uint64(val[8:])
		return nil
	})
	return w, err
}

func writeWindow(txn *badger.Txn, id string, w window) error {
	val := binary.BigEndian.AppendUint64(nil, w.tail)
	val = binary.BigEndian.AppendUint64(val, w.head)
	if err := txn.Set([]byte(metaPrefix+id), val); err != nil {
		return fmt.Errorf("write history index %s: %w", id, err)
	}
	return nil
}

func readEntry(txn *badger.Txn, id string, index uint64) (tracking.Sample, error) {
	var sample tracking.Sample
	item, err := txn.Get(entryKey(id, index))
	if err != nil {
		return sample, fmt.Errorf("read history entry %d: %w", index, err)
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &sample)
	})
	if err != nil {
		return sample, fmt.Errorf("decode history entry %d: %w", index, err)
	}
	return sample, nil
}

// clearEntries deletes the window's entries and empties it. At most
// HistoryCap keys are touched.
func clearEntries(txn *badger.Txn, id string, w *window) error {
	for ; w.tail < w.head; w.tail++ {
		if err := txn.Delete(entryKey(id, w.tail)); err != nil {
			return fmt.Errorf("clear history %s: %w", id, err)
		}
	}
	return nil
}
