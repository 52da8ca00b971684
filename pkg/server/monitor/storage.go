package monitor

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"
)

// Usage describes the reports directory.
type Usage struct {
	Path      string `json:"path"`
	UsedBytes int64  `json:"used_bytes"`
	Files     int64  `json:"files"`
}

// StorageMonitor reports disk usage of a directory. Walking the reports tree
// touches every stored report, so results are cached.
type StorageMonitor struct {
	dir           string
	cacheDuration time.Duration

	mu        sync.Mutex
	cached    Usage
	lastCheck time.Time
}

// NewStorageMonitor creates a monitor for dir that caches results for cacheDuration
func NewStorageMonitor(dir string, cacheDuration time.Duration) *StorageMonitor {
	return &StorageMonitor{dir: dir, cacheDuration: cacheDuration}
}

// GetUsage returns the current usage, recomputing it once the cache expires
func (sm *StorageMonitor) GetUsage() (Usage, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.lastCheck.IsZero() && time.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cached, nil
	}

	usage, err := walk(sm.dir)
	if err != nil {
		return Usage{}, err
	}
	sm.cached = usage
	sm.lastCheck = time.Now()
	return usage, nil
}

func walk(dir string) (Usage, error) {
	usage := Usage{Path: dir}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		usage.UsedBytes += diskUsage(path, info)
		usage.Files++
		return nil
	})
	return usage, err
}
