// Package store provides the shared key-value store the key lifecycle runs on.
// The Redis adapter is the production implementation; the memory adapter backs
// unit tests. Both honor the same contract: per-operation atomicity, a
// best-effort pipeline for batches, and a conditional single-key activation
// primitive so concurrent activations admit exactly one winner.
package store

import (
	"context"
	"time"
)

// Store abstracts the flat key-value namespace holding key records, identity
// trial markers, and the system config hash. Record keys are fully namespaced
// by the caller.
type Store interface {
	// Exists reports whether a record exists
	Exists(ctx context.Context, key string) (bool, error)

	// ReadRecord returns all fields of a hash record, or nil if absent
	ReadRecord(ctx context.Context, key string) (map[string]string, error)

	// WriteRecord overwrites the given fields of a hash record
	WriteRecord(ctx context.Context, key string, fields map[string]string) error

	// DeleteRecords removes records unconditionally and returns the number
	// actually removed. Deleting a nonexistent record is not an error.
	DeleteRecords(ctx context.Context, keys ...string) (int64, error)

	// MarkerExists reports whether an identity trial marker is present
	MarkerExists(ctx context.Context, key string) (bool, error)

	// ActivateIfUnused flips a key record to used only if its
	// validation_status still reads "unused" at write time, applying the
	// given fields and, when markerKey is non-empty, creating the identity
	// trial marker with the given TTL in the same atomic unit. Returns
	// false without writing when the record was no longer unused.
	ActivateIfUnused(ctx context.Context, recordKey string, fields map[string]string, markerKey string, markerTTL time.Duration) (bool, error)

	// ScanRecords returns all record keys matching a glob pattern
	ScanRecords(ctx context.Context, pattern string) ([]string, error)

	// Ping verifies store connectivity
	Ping(ctx context.Context) error
}
