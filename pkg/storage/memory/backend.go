package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/nicktill/tixcondenser/pkg/storage"
)

// Backend hands out in-memory stores and remembers them for LoadAll.
type Backend struct {
	stores map[int64]*Storage
	mu     sync.Mutex
}

// NewBackend creates an empty in-memory backend
func NewBackend() *Backend {
	return &Backend{stores: make(map[int64]*Storage)}
}

// Open returns the store for an installation, creating it on first use
func (b *Backend) Open(ctx context.Context, userID, installationID int64) (storage.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.stores[installationID]; ok {
		return s, nil
	}
	s := New(userID, installationID)
	b.stores[installationID] = s
	return s, nil
}

// LoadAll returns every store opened so far, ordered by installation
func (b *Backend) LoadAll(ctx context.Context) ([]storage.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	stores := make([]storage.Store, 0, len(b.stores))
	for _, s := range b.stores {
		stores = append(stores, s)
	}
	sort.Slice(stores, func(i, j int) bool {
		return stores[i].InstallationID() < stores[j].InstallationID()
	})
	return stores, nil
}

// Close is a no-op for memory storage
func (b *Backend) Close() error {
	return nil
}
