package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/nicktill/tixcondenser/pkg/report"
	"github.com/nicktill/tixcondenser/pkg/storage"
)

// Key layout: [prefix 'r' (1)][user (8)][installation (8)][start timestamp (8)]
// Big-endian fields keep one installation's reports contiguous and ascending.
const (
	reportPrefix    byte = 'r'
	installationLen      = 1 + 8 + 8
	keyLen               = installationLen + 8
)

// Backend keeps every installation's reports in one BadgerDB.
type Backend struct {
	db    *badger.DB
	codec report.Codec

	stores map[int64]*Storage
	mu     sync.Mutex
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = laptop-friendly defaults)
	MaxMemoryMB int64
}

// New opens a BadgerDB backend
func New(cfg Config) (*Backend, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	// 16 MB memtable unless told otherwise; below that flushes get excessive
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Backend{db: db, stores: make(map[int64]*Storage)}, nil
}

// Open returns the store for an installation. Stores are cached so every
// caller shares one start-time index.
func (b *Backend) Open(ctx context.Context, userID, installationID int64) (storage.Store, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.stores[installationID]; ok {
		return s, nil
	}

	s := &Storage{backend: b, userID: userID, installationID: installationID}
	prefix := installationPrefix(userID, installationID)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, _, ts, ok := parseKey(it.Item().Key())
			if ok {
				s.starts = append(s.starts, ts)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load installation %d: %w", installationID, err)
	}

	b.stores[installationID] = s
	return s, nil
}

// LoadAll scans every report key and opens one store per installation found
func (b *Backend) LoadAll(ctx context.Context) ([]storage.Store, error) {
	type installation struct{ userID, installationID int64 }
	var found []installation

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{reportPrefix}

		it := txn.NewIterator(opts)
		defer it.Close()

		var last installation
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			userID, installationID, _, ok := parseKey(it.Item().Key())
			if !ok {
				continue
			}
			current := installation{userID, installationID}
			if len(found) == 0 || current != last {
				found = append(found, current)
				last = current
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan reports: %w", err)
	}

	stores := make([]storage.Store, 0, len(found))
	for _, inst := range found {
		s, err := b.Open(ctx, inst.userID, inst.installationID)
		if err != nil {
			return nil, err
		}
		stores = append(stores, s)
	}
	log.Printf("Loaded %d installations from BadgerDB", len(stores))
	return stores, nil
}

// Close shuts down BadgerDB cleanly
func (b *Backend) Close() error {
	return b.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection.
// badger.ErrNoRewrite means nothing needed collecting.
func (b *Backend) RunGC(discardRatio float64) error {
	return b.db.RunValueLogGC(discardRatio)
}

// Storage is one installation's view over the shared BadgerDB.
type Storage struct {
	backend        *Backend
	userID         int64
	installationID int64

	starts []int64
}

// UserID returns the owning user
func (s *Storage) UserID() int64 { return s.userID }

// InstallationID returns the owning installation
func (s *Storage) InstallationID() int64 { return s.installationID }

// SampleStartTimes returns a copy of the stored start timestamps
func (s *Storage) SampleStartTimes() []int64 {
	out := make([]int64, len(s.starts))
	copy(out, s.starts)
	return out
}

// Append stores a report unless its key is already present
func (s *Storage) Append(ctx context.Context, r report.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ts := r.StartTimestamp()
	value, err := s.backend.codec.Serialize(r)
	if err != nil {
		return err
	}

	key := makeKey(s.userID, s.installationID, ts)
	err = s.backend.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return fmt.Errorf("%w: installation %d, timestamp %d", storage.ErrDuplicateKey, s.installationID, ts)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, value)
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return err
		}
		return fmt.Errorf("failed to write report: %w", err)
	}

	i := sort.Search(len(s.starts), func(i int) bool { return s.starts[i] >= ts })
	s.starts = append(s.starts, 0)
	copy(s.starts[i+1:], s.starts[i:])
	s.starts[i] = ts
	return nil
}

// Get reads reports in request order
func (s *Storage) Get(ctx context.Context, timestamps []int64) ([]report.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]report.Report, 0, len(timestamps))
	err := s.backend.db.View(func(txn *badger.Txn) error {
		for _, ts := range timestamps {
			item, err := txn.Get(makeKey(s.userID, s.installationID, ts))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: installation %d, timestamp %d", storage.ErrNotFound, s.installationID, ts)
			}
			if err != nil {
				return err
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			r, err := s.backend.codec.Deserialize(value)
			if err != nil {
				return err
			}
			results = append(results, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Delete removes reports in a single transaction, missing keys are ignored
func (s *Storage) Delete(ctx context.Context, timestamps []int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.backend.db.Update(func(txn *badger.Txn) error {
		for _, ts := range timestamps {
			if err := txn.Delete(makeKey(s.userID, s.installationID, ts)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete reports: %w", err)
	}

	drop := make(map[int64]struct{}, len(timestamps))
	for _, ts := range timestamps {
		drop[ts] = struct{}{}
	}
	filtered := s.starts[:0]
	for _, ts := range s.starts {
		if _, ok := drop[ts]; !ok {
			filtered = append(filtered, ts)
		}
	}
	s.starts = filtered
	return nil
}

func installationPrefix(userID, installationID int64) []byte {
	prefix := make([]byte, installationLen)
	prefix[0] = reportPrefix
	binary.BigEndian.PutUint64(prefix[1:9], uint64(userID))
	binary.BigEndian.PutUint64(prefix[9:17], uint64(installationID))
	return prefix
}

// makeKey creates a sortable key for one report
func makeKey(userID, installationID, ts int64) []byte {
	key := make([]byte, keyLen)
	copy(key, installationPrefix(userID, installationID))
	binary.BigEndian.PutUint64(key[installationLen:], uint64(ts))
	return key
}

// parseKey extracts the ids and start timestamp from a storage key
func parseKey(key []byte) (userID, installationID, ts int64, ok bool) {
	if len(key) != keyLen || key[0] != reportPrefix {
		return 0, 0, 0, false
	}
	userID = int64(binary.BigEndian.Uint64(key[1:9]))
	installationID = int64(binary.BigEndian.Uint64(key[9:17]))
	ts = int64(binary.BigEndian.Uint64(key[installationLen:]))
	return userID, installationID, ts, true
}
