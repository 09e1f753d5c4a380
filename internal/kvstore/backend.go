// Package kvstore is the persistent key-value collaborator the replica
// delegates storage to. It is deliberately outside the causal-consistency
// core (see internal/replica): the core only requires that Load/Save hand
// back independent deep copies of an ObjectRecord, never aliasing the
// replica's in-memory state with what's on disk.
//
// What: a pluggable KVBackend interface with memory, disk, and
// hybrid (LRU-over-disk) implementations, generalizing the teacher's
// StorageBackend/StorageMode design from SQL tables to CVV ObjectRecords.
// How: each backend loads/saves one ObjectRecord at a time, keyed by an
// opaque string key, and keeps the deep-copy contract itself (the memory
// and hybrid backends clone, the disk backend gob-encodes to a file and
// decodes a fresh record); Store wraps whichever backend is configured.
// Why: keeping storage pluggable lets the same replica core run purely
// in memory for tests and simulations, or durably on disk for a real
// daemon deployment, without touching the causal algebra at all.
package kvstore

import (
	"fmt"
	"strings"

	"github.com/cvvkv/cvvkv/internal/record"
)

// StorageMode selects how a Store persists ObjectRecords.
type StorageMode int

const (
	// ModeMemory keeps everything in RAM. Fastest, and the default for
	// tests and simulations.
	ModeMemory StorageMode = iota

	// ModeDisk stores one gob file per key under a directory, with a
	// JSON manifest tracking which keys exist.
	ModeDisk

	// ModeHybrid keeps an LRU-bounded in-memory cache in front of a
	// ModeDisk backend, for working sets that exceed available memory.
	ModeHybrid
)

// String returns a human-readable label for the StorageMode.
func (m StorageMode) String() string {
	switch m {
	case ModeMemory:
		return "memory"
	case ModeDisk:
		return "disk"
	case ModeHybrid:
		return "hybrid"
	default:
		return fmt.Sprintf("StorageMode(%d)", int(m))
	}
}

// ParseStorageMode converts a string to a StorageMode, case-insensitively.
func ParseStorageMode(s string) (StorageMode, error) {
	switch strings.ToLower(s) {
	case "memory", "mem", "ram", "":
		return ModeMemory, nil
	case "disk":
		return ModeDisk, nil
	case "hybrid":
		return ModeHybrid, nil
	default:
		return ModeMemory, fmt.Errorf("unknown storage mode %q (valid: memory, disk, hybrid)", s)
	}
}

// KVBackend abstracts where ObjectRecords actually live.
type KVBackend interface {
	// Load retrieves the record for key. It returns nil, nil when the
	// key does not exist; that is not an error, the key may simply
	// never have been written.
	Load(key string) (*record.ObjectRecord, error)

	// Save persists rec under key, replacing whatever was there.
	Save(key string, rec *record.ObjectRecord) error

	// Delete removes key entirely from the backing store.
	Delete(key string) error

	// Keys returns every key currently stored, in no particular order.
	Keys() ([]string, error)

	// Close releases resources held by the backend.
	Close() error
}

// BackendStats reports operational counters for a backend, useful for a
// daemon's /v1/status endpoint.
type BackendStats struct {
	Mode        StorageMode
	KeysInMemory int
	KeysOnDisk   int
	LoadCount    int64
	SaveCount    int64
	EvictionCount int64
}
