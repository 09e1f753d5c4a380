package kvstore

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/cvvkv/cvvkv/internal/record"
)

// Config selects and configures a Store's backend.
type Config struct {
	Mode   StorageMode
	Path   string // required for ModeDisk / ModeHybrid
	MaxHot int    // ModeHybrid only; 0 means a sensible default
	WAL    bool   // append a durability log of Put/Delete ops
}

// Store is the replica's view of the persistent collaborator: whichever
// KVBackend is configured. Every backend's Load/Save hands back and keeps
// independent deep copies, so Get/Put never alias the caller's records,
// exactly as the reference implementation's SimDataStore guarantees via
// deepcopy.
type Store struct {
	backend KVBackend
	wal     *WAL
}

// Open constructs a Store per cfg.
func Open(cfg Config) (*Store, error) {
	var backend KVBackend
	var err error
	switch cfg.Mode {
	case ModeMemory:
		backend = NewMemoryBackend()
	case ModeDisk:
		backend, err = NewDiskBackend(cfg.Path)
	case ModeHybrid:
		backend, err = NewHybridBackend(cfg.Path, cfg.MaxHot)
	default:
		return nil, fmt.Errorf("kvstore: unsupported mode %v", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}

	s := &Store{backend: backend}
	if cfg.WAL && cfg.Path != "" {
		w, err := OpenWAL(cfg.Path)
		if err != nil {
			return nil, err
		}
		s.wal = w
	}
	return s, nil
}

// Get returns an independent copy of the record stored under key, or nil
// if the key does not exist.
func (s *Store) Get(key string) (*record.ObjectRecord, error) {
	return s.backend.Load(key)
}

// Put stores an independent copy of rec under key.
func (s *Store) Put(key string, rec *record.ObjectRecord) error {
	if s.wal != nil {
		if err := s.wal.LogPut(key, rec); err != nil {
			return err
		}
	}
	return s.backend.Save(key, rec)
}

// Delete removes key entirely.
func (s *Store) Delete(key string) error {
	if s.wal != nil {
		if err := s.wal.LogDelete(key); err != nil {
			return err
		}
	}
	return s.backend.Delete(key)
}

// Keys returns every key currently stored.
func (s *Store) Keys() ([]string, error) {
	return s.backend.Keys()
}

// Close releases backend resources.
func (s *Store) Close() error {
	if s.wal != nil {
		s.wal.Close()
	}
	return s.backend.Close()
}

// snapshot is the whole-keyspace representation used by SaveToFile and
// LoadFromFile.
type snapshot struct {
	Records map[string]*record.ObjectRecord
}

// SaveToFile gob-encodes the entire keyspace to path, generalizing the
// teacher's DB.Save whole-database snapshot.
func (s *Store) SaveToFile(path string) error {
	keys, err := s.Keys()
	if err != nil {
		return err
	}
	snap := snapshot{Records: make(map[string]*record.ObjectRecord, len(keys))}
	for _, k := range keys {
		rec, err := s.Get(k)
		if err != nil {
			return err
		}
		snap.Records[k] = rec
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("kvstore: encode snapshot: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// LoadFromFile restores a whole-keyspace snapshot previously written by
// SaveToFile, replacing anything already stored under the same keys.
func (s *Store) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("kvstore: read snapshot: %w", err)
	}
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("kvstore: decode snapshot: %w", err)
	}
	for k, rec := range snap.Records {
		if err := s.Put(k, rec); err != nil {
			return err
		}
	}
	return nil
}
