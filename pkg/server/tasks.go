package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/nicktill/tixcondenser/pkg/config"
	"github.com/nicktill/tixcondenser/pkg/registry"
	"github.com/nicktill/tixcondenser/pkg/sender"
	"github.com/nicktill/tixcondenser/pkg/storage"
	"github.com/nicktill/tixcondenser/pkg/storage/badger"
)

// Reconcile ships every batch that is already complete in storage. It covers
// a previous run that stopped with a backlog, and must finish before reports
// are taken in. Per-installation failures are logged and the sweep goes on;
// the reports stay stored for the next attempt.
func Reconcile(ctx context.Context, reg *registry.Registry, submitter sender.Submitter) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, config.ReconcileTimeout)
	defer cancel()

	start := time.Now()
	ready, err := reg.PacketsToSend(ctx)
	if err != nil {
		return 0, err
	}
	log.Printf("Reconcile found %d installations with ready batches", len(ready))

	sent := 0
	for i, batch := range ready {
		if err := submitter.Send(ctx, batch); err != nil {
			if ctx.Err() != nil {
				for _, unsent := range ready[i+1:] {
					unsent.Release()
				}
				return sent, ctx.Err()
			}
			log.Printf("Installation %d reconcile failed: %v", batch.InstallationID(), err)
			continue
		}
		sent++
	}
	log.Printf("Reconcile completed in %v (%d of %d installations drained)",
		time.Since(start).Round(time.Millisecond), sent, len(ready))
	return sent, nil
}

// RunBadgerGC reclaims value log space periodically. Deleted reports stay on
// disk until their value log file is rewritten.
func RunBadgerGC(ctx context.Context, backend storage.Backend, wg *sync.WaitGroup) {
	defer wg.Done()

	badgerBackend, ok := backend.(*badger.Backend)
	if !ok {
		log.Println("Storage is not BadgerDB, skipping GC")
		return
	}

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()
	log.Printf("BadgerDB GC scheduler started (runs every %v)", config.BadgerGCInterval)

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			err := badgerBackend.RunGC(config.BadgerGCDiscardRatio)
			switch {
			case err == nil:
				log.Printf("GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
			case errors.Is(err, badgerdb.ErrNoRewrite):
				log.Printf("GC completed in %v (no rewrite needed)", time.Since(start).Round(time.Millisecond))
			default:
				log.Printf("GC failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("Stopping BadgerDB GC scheduler")
			return
		}
	}
}
