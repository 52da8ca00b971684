package server

import (
	"fmt"
	"log"
	"os"

	"github.com/nicktill/tixcondenser/pkg/config"
	"github.com/nicktill/tixcondenser/pkg/storage"
	"github.com/nicktill/tixcondenser/pkg/storage/badger"
	"github.com/nicktill/tixcondenser/pkg/storage/filesystem"
	"github.com/nicktill/tixcondenser/pkg/storage/memory"
)

// OpenBackend creates the storage backend named by settings.Storage.
func OpenBackend(settings config.Settings) (storage.Backend, error) {
	switch settings.Storage {
	case config.StorageFilesystem:
		backend, err := filesystem.NewBackend(settings.ReportsPath)
		if err != nil {
			return nil, err
		}
		log.Printf("Filesystem storage rooted at %s", backend.BasePath())
		return backend, nil

	case config.StorageBadger:
		if err := os.MkdirAll(settings.ReportsPath, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		log.Printf("Initializing BadgerDB storage at %s (memory limit %d MB)", settings.ReportsPath, settings.MaxMemoryMB)
		backend, err := badger.New(badger.Config{
			Path:        settings.ReportsPath,
			MaxMemoryMB: settings.MaxMemoryMB,
		})
		if err != nil {
			return nil, err
		}
		log.Println("BadgerDB storage initialized successfully")
		return backend, nil

	case config.StorageMemory:
		log.Println("Memory storage selected, reports will not survive a restart")
		return memory.NewBackend(), nil
	}
	return nil, fmt.Errorf("%w: %q", config.ErrUnknownStorage, settings.Storage)
}
