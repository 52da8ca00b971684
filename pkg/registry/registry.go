package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/nicktill/tixcondenser/pkg/config"
	"github.com/nicktill/tixcondenser/pkg/extract"
	"github.com/nicktill/tixcondenser/pkg/report"
	"github.com/nicktill/tixcondenser/pkg/storage"
)

// entry owns one installation's store. mu serializes every operation on it.
// inFlight is set while a batch of the store is out for submission; no other
// batch is built until that one is retired or released.
type entry struct {
	mu       sync.Mutex
	store    storage.Store
	inFlight bool
}

type shard struct {
	mu      sync.RWMutex
	entries map[int64]*entry
}

// Registry routes reports to their installation's store and runs extraction.
// Operations on one installation are serialized, different installations
// run in parallel.
type Registry struct {
	backend   storage.Backend
	extractor *extract.Extractor
	shards    [config.RegistryShards]shard
}

// New creates an empty registry
func New(backend storage.Backend, extractor *extract.Extractor) *Registry {
	r := &Registry{backend: backend, extractor: extractor}
	for i := range r.shards {
		r.shards[i].entries = make(map[int64]*entry)
	}
	return r
}

// Load registers every store the backend can recover. Installations already
// known are kept as they are.
func (r *Registry) Load(ctx context.Context) error {
	stores, err := r.backend.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load stores: %w", err)
	}
	for _, s := range stores {
		sh := r.shardFor(s.InstallationID())
		sh.mu.Lock()
		if _, ok := sh.entries[s.InstallationID()]; !ok {
			sh.entries[s.InstallationID()] = &entry{store: s}
		}
		sh.mu.Unlock()
	}
	log.Printf("Registry loaded %d installations", len(stores))
	return nil
}

// StorePacket appends a report to its installation's store and runs one
// extraction. A redelivered report (same start timestamp) is not an error.
// The returned batch, if any, must end in OnSubmitSuccess or Release. While
// it is out, further reports of the installation are stored without extraction.
func (r *Registry) StorePacket(ctx context.Context, rep report.Report) (*Submittable, error) {
	e, err := r.entryFor(ctx, rep.UserID, rep.InstallationID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.Append(ctx, rep); err != nil {
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, err
		}
		log.Printf("Installation %d report %d already stored, skipping append", rep.InstallationID, rep.StartTimestamp())
	}

	if e.inFlight {
		log.Printf("Installation %d has a batch in flight, extraction deferred", rep.InstallationID)
		return nil, nil
	}
	return r.extractLocked(ctx, e)
}

// PacketsToSend sweeps every installation and collects the batches that are
// ready. Installations with a batch in flight are skipped. Used on startup in
// case the previous run stopped mid-backlog.
func (r *Registry) PacketsToSend(ctx context.Context) ([]*Submittable, error) {
	var ready []*Submittable
	for _, e := range r.snapshot() {
		if err := ctx.Err(); err != nil {
			for _, b := range ready {
				b.Release()
			}
			return nil, err
		}

		e.mu.Lock()
		var batch *Submittable
		var err error
		if !e.inFlight {
			batch, err = r.extractLocked(ctx, e)
		}
		e.mu.Unlock()
		if err != nil {
			log.Printf("Installation %d sweep failed: %v", e.store.InstallationID(), err)
			continue
		}
		if batch != nil {
			ready = append(ready, batch)
		}
	}
	return ready, nil
}

// InstallationStats describes one installation's store
type InstallationStats struct {
	UserID         int64 `json:"user_id"`
	InstallationID int64 `json:"installation_id"`
	Reports        int   `json:"reports"`
	Oldest         int64 `json:"oldest,omitempty"`
	Newest         int64 `json:"newest,omitempty"`
}

// Installations returns stats for every known installation, ordered by id
func (r *Registry) Installations() []InstallationStats {
	entries := r.snapshot()
	stats := make([]InstallationStats, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		starts := e.store.SampleStartTimes()
		s := InstallationStats{
			UserID:         e.store.UserID(),
			InstallationID: e.store.InstallationID(),
			Reports:        len(starts),
		}
		e.mu.Unlock()
		if len(starts) > 0 {
			s.Oldest = starts[0]
			s.Newest = starts[len(starts)-1]
		}
		stats = append(stats, s)
	}
	return stats
}

// Len returns the number of known installations
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		r.shards[i].mu.RLock()
		n += len(r.shards[i].entries)
		r.shards[i].mu.RUnlock()
	}
	return n
}

// extractLocked runs extraction on e, which must be locked, and marks it in
// flight when a batch comes out
func (r *Registry) extractLocked(ctx context.Context, e *entry) (*Submittable, error) {
	batch, err := r.extractor.CheckAndExtract(ctx, e.store)
	if err != nil {
		return nil, err
	}
	return wrap(e, r.extractor, batch), nil
}

func wrap(e *entry, extractor *extract.Extractor, batch *extract.Batch) *Submittable {
	if batch == nil {
		e.inFlight = false
		return nil
	}
	e.inFlight = true
	return &Submittable{batch: batch, entry: e, extractor: extractor}
}

// entryFor returns the installation's entry, opening its store on first sight
func (r *Registry) entryFor(ctx context.Context, userID, installationID int64) (*entry, error) {
	sh := r.shardFor(installationID)

	sh.mu.RLock()
	e, ok := sh.entries[installationID]
	sh.mu.RUnlock()
	if ok {
		return e, nil
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	// Double-check another goroutine didn't just create it
	if e, ok := sh.entries[installationID]; ok {
		return e, nil
	}

	store, err := r.backend.Open(ctx, userID, installationID)
	if err != nil {
		return nil, fmt.Errorf("failed to open store of installation %d: %w", installationID, err)
	}
	e = &entry{store: store}
	sh.entries[installationID] = e
	log.Printf("Installation %d (user %d) registered", installationID, userID)
	return e, nil
}

func (r *Registry) shardFor(installationID int64) *shard {
	h := xxhash.Sum64String(strconv.FormatInt(installationID, 10))
	return &r.shards[h%uint64(len(r.shards))]
}

// snapshot returns every entry ordered by installation id
func (r *Registry) snapshot() []*entry {
	var entries []*entry
	for i := range r.shards {
		r.shards[i].mu.RLock()
		for _, e := range r.shards[i].entries {
			entries = append(entries, e)
		}
		r.shards[i].mu.RUnlock()
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].store.InstallationID() < entries[j].store.InstallationID()
	})
	return entries
}
