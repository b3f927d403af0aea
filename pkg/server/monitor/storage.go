package monitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/disk"
)

// DefaultCacheDuration bounds how often the data directory is walked.
const DefaultCacheDuration = 10 * time.Second

// StorageUsage is the response body of /v1/storage.
type StorageUsage struct {
	DataDir     string  `json:"data_dir"`
	UsedBytes   int64   `json:"used_bytes"`
	UsedHuman   string  `json:"used_human"`
	DiskTotal   uint64  `json:"disk_total_bytes"`
	DiskFree    uint64  `json:"disk_free_bytes"`
	DiskHuman   string  `json:"disk_free_human"`
	FreePercent float64 `json:"disk_free_percent"`
}

// StorageMonitor tracks storage usage with caching to avoid expensive
// filesystem walks, and probes free space on the filesystem holding the
// data directory.
type StorageMonitor struct {
	dataDir       string
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// NewStorageMonitor creates a new storage monitor.
func NewStorageMonitor(dataDir string) *StorageMonitor {
	return &StorageMonitor{
		dataDir:       dataDir,
		cacheDuration: DefaultCacheDuration,
	}
}

// DataDir returns the monitored directory.
func (sm *StorageMonitor) DataDir() string {
	return sm.dataDir
}

// GetUsage returns the bytes used by the data directory (cached).
func (sm *StorageMonitor) GetUsage() (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.lastCheck.IsZero() && time.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cachedUsage, nil
	}

	usage, err := calculateDirSize(sm.dataDir)
	if err != nil {
		return 0, err
	}

	sm.cachedUsage = usage
	sm.lastCheck = time.Now()
	return usage, nil
}

// FreePercent reports free space on the data directory's filesystem. It is
// never cached; disk-pressure cleanup needs to see each drop take effect.
func (sm *StorageMonitor) FreePercent(ctx context.Context) (float64, error) {
	u, err := sm.diskUsage(ctx)
	if err != nil {
		return 0, err
	}
	return 100 - u.UsedPercent, nil
}

func (sm *StorageMonitor) diskUsage(ctx context.Context) (*disk.UsageStat, error) {
	u, err := disk.UsageWithContext(ctx, sm.dataDir)
	if err != nil {
		return nil, fmt.Errorf("disk usage for %s: %w", sm.dataDir, err)
	}
	return u, nil
}

// Usage combines the data directory size with filesystem capacity.
func (sm *StorageMonitor) Usage(ctx context.Context) (StorageUsage, error) {
	used, err := sm.GetUsage()
	if err != nil {
		return StorageUsage{}, err
	}
	u, err := sm.diskUsage(ctx)
	if err != nil {
		return StorageUsage{}, err
	}
	return StorageUsage{
		DataDir:     sm.dataDir,
		UsedBytes:   used,
		UsedHuman:   humanize.IBytes(uint64(used)),
		DiskTotal:   u.Total,
		DiskFree:    u.Free,
		DiskHuman:   humanize.IBytes(u.Free),
		FreePercent: 100 - u.UsedPercent,
	}, nil
}

// calculateDirSize recursively calculates directory size in bytes.
// Uses actual disk usage (not logical size) to handle sparse files correctly.
func calculateDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			actualSize, err := getActualFileSize(filePath, info)
			if err != nil {
				size += info.Size()
			} else {
				size += actualSize
			}
		}
		return nil
	})
	return size, err
}

// getActualFileSize is implemented in platform-specific files:
// - filesize_unix.go (Linux/Mac): Uses syscall.Stat_t.Blocks
// - filesize_windows.go (Windows): Uses GetCompressedFileSizeW API
