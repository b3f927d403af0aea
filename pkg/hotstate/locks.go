package hotstate

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const lockStripes = 256

// KeyLocks serializes work per device without a lock per device. Two devices
// may share a stripe; that only costs contention, never correctness.
type KeyLocks struct {
	stripes [lockStripes]sync.Mutex
}

// Lock acquires the stripe for key and returns its unlock func.
func (k *KeyLocks) Lock(key string) func() {
	m := &k.stripes[xxhash.Sum64String(key)%lockStripes]
	m.Lock()
	return m.Unlock
}
