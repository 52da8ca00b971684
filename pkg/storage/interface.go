package storage

import (
	"context"
	"errors"

	"github.com/nicktill/tixcondenser/pkg/report"
)

var (
	// ErrDuplicateKey is returned by Append when a report with the same start timestamp is stored
	ErrDuplicateKey = errors.New("report with this start timestamp already stored")

	// ErrNotFound is returned by Get when a requested start timestamp is not stored
	ErrNotFound = errors.New("report not found")

	// ErrStorageIntegrity is returned when the existence of a reports location cannot be asserted
	ErrStorageIntegrity = errors.New("cannot assert storage location existence")
)

// Store holds the reports of a single installation, keyed and ordered by
// start timestamp. Implementations are not safe for concurrent mutation;
// callers serialize access per installation.
type Store interface {
	// UserID returns the user owning the installation
	UserID() int64

	// InstallationID returns the installation this store belongs to
	InstallationID() int64

	// SampleStartTimes returns the stored start timestamps in ascending order
	SampleStartTimes() []int64

	// Append stores a report, ErrDuplicateKey if its start timestamp is present
	Append(ctx context.Context, r report.Report) error

	// Get returns the reports for the given timestamps in request order
	Get(ctx context.Context, timestamps []int64) ([]report.Report, error)

	// Delete removes the reports for the given timestamps, ignoring missing ones
	Delete(ctx context.Context, timestamps []int64) error
}

// Backend creates and recovers stores on a backing medium.
type Backend interface {
	// Open returns the store for an installation, creating it if needed
	Open(ctx context.Context, userID, installationID int64) (Store, error)

	// LoadAll returns a store for every installation with persisted reports
	LoadAll(ctx context.Context) ([]Store, error)

	// Close releases the backend
	Close() error
}
