/*
Package storage provides the pluggable per-installation report store.

# Store Interface

Every installation owns one Store. Reports are keyed by the timestamp of
their first observation, and the store is always iterable in ascending
order of that key:

	type Store interface {
	    UserID() int64
	    InstallationID() int64
	    SampleStartTimes() []int64
	    Append(ctx context.Context, r report.Report) error
	    Get(ctx context.Context, timestamps []int64) ([]report.Report, error)
	    Delete(ctx context.Context, timestamps []int64) error
	}

A Backend opens stores lazily and recovers every persisted store on startup.

# Backends

  - memory: ordered in-memory store, data is lost on restart
  - filesystem: one JSON file per report under {base}/{userId}/{installationId}/
  - badger: one BadgerDB shared by every installation

# Errors

  - ErrDuplicateKey: Append of a start timestamp already present. Ingestion
    treats it as a redelivery and moves on.
  - ErrNotFound: Get of a timestamp that is not stored. The extraction engine
    only reads keys it just listed, so this means a broken invariant.
  - ErrStorageIntegrity: the filesystem backend could neither find nor create
    the installation directory. Usually permissions or a racing process.

Delete never fails for timestamps that are not stored.

# Concurrency

Stores are not safe for concurrent mutation. The registry serializes every
operation on one installation; different installations run in parallel.
*/
package storage
