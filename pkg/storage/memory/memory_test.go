package memory

import (
	"testing"

	"github.com/nicktill/tinytrack/pkg/storage"
	"github.com/nicktill/tinytrack/pkg/storage/storagetest"
)

func TestMemoryStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		store := New()
		t.Cleanup(func() { store.Close() })
		return store
	})
}
