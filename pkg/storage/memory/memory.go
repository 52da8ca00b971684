package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nicktill/tixcondenser/pkg/report"
	"github.com/nicktill/tixcondenser/pkg/storage"
)

// Storage stores reports in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	userID         int64
	installationID int64

	starts  []int64
	reports map[int64]report.Report
	mu      sync.RWMutex
}

// New creates an in-memory store for one installation
func New(userID, installationID int64) *Storage {
	return &Storage{
		userID:         userID,
		installationID: installationID,
		reports:        make(map[int64]report.Report),
	}
}

// UserID returns the owning user
func (s *Storage) UserID() int64 { return s.userID }

// InstallationID returns the owning installation
func (s *Storage) InstallationID() int64 { return s.installationID }

// SampleStartTimes returns a copy of the stored start timestamps
func (s *Storage) SampleStartTimes() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]int64, len(s.starts))
	copy(out, s.starts)
	return out
}

// Append stores a report
func (s *Storage) Append(ctx context.Context, r report.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := r.StartTimestamp()
	if _, exists := s.reports[ts]; exists {
		return fmt.Errorf("%w: installation %d, timestamp %d", storage.ErrDuplicateKey, s.installationID, ts)
	}

	s.reports[ts] = r
	s.starts = insertSorted(s.starts, ts)
	return nil
}

// Get returns reports in request order
func (s *Storage) Get(ctx context.Context, timestamps []int64) ([]report.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]report.Report, 0, len(timestamps))
	for _, ts := range timestamps {
		r, ok := s.reports[ts]
		if !ok {
			return nil, fmt.Errorf("%w: installation %d, timestamp %d", storage.ErrNotFound, s.installationID, ts)
		}
		results = append(results, r)
	}
	return results, nil
}

// Delete removes reports, missing timestamps are ignored
func (s *Storage) Delete(ctx context.Context, timestamps []int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ts := range timestamps {
		delete(s.reports, ts)
	}
	s.starts = removeAll(s.starts, timestamps)
	return nil
}

// insertSorted inserts ts keeping starts ascending
func insertSorted(starts []int64, ts int64) []int64 {
	i := sort.Search(len(starts), func(i int) bool { return starts[i] >= ts })
	starts = append(starts, 0)
	copy(starts[i+1:], starts[i:])
	starts[i] = ts
	return starts
}

// removeAll filters out every timestamp in remove, preserving order
func removeAll(starts []int64, remove []int64) []int64 {
	if len(remove) == 0 {
		return starts
	}
	drop := make(map[int64]struct{}, len(remove))
	for _, ts := range remove {
		drop[ts] = struct{}{}
	}

	filtered := starts[:0]
	for _, ts := range starts {
		if _, ok := drop[ts]; !ok {
			filtered = append(filtered, ts)
		}
	}
	return filtered
}
