package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/nicktill/tixcondenser/pkg/storage"
)

// Backend opens filesystem stores under a base reports directory.
type Backend struct {
	basePath string
}

// NewBackend creates a backend rooted at basePath
func NewBackend(basePath string) (*Backend, error) {
	if basePath == "" {
		return nil, errors.New("reports path cannot be empty")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve reports path: %w", err)
	}
	return &Backend{basePath: abs}, nil
}

// BasePath returns the absolute reports directory
func (b *Backend) BasePath() string {
	return b.basePath
}

// Open loads the store of one installation
func (b *Backend) Open(ctx context.Context, userID, installationID int64) (storage.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Open(b.basePath, userID, installationID)
}

// LoadAll walks {base}/{userId}/{installationId} and opens every installation found.
// Entries whose names are not numeric ids are skipped.
func (b *Backend) LoadAll(ctx context.Context) ([]storage.Store, error) {
	users, err := os.ReadDir(b.basePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list reports directory: %w", err)
	}

	log.Printf("Loading full reports directory %s", b.basePath)
	var stores []storage.Store
	for _, user := range users {
		userID, ok := parseID(user)
		if !ok {
			continue
		}
		installations, err := os.ReadDir(filepath.Join(b.basePath, user.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to list reports of user %d: %w", userID, err)
		}
		for _, installation := range installations {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			installationID, ok := parseID(installation)
			if !ok {
				continue
			}
			s, err := Open(b.basePath, userID, installationID)
			if err != nil {
				return nil, err
			}
			stores = append(stores, s)
		}
	}
	return stores, nil
}

// Close is a no-op, every write is already on disk
func (b *Backend) Close() error {
	return nil
}

func parseID(entry fs.DirEntry) (int64, bool) {
	if !entry.IsDir() {
		return 0, false
	}
	id, err := strconv.ParseInt(entry.Name(), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
