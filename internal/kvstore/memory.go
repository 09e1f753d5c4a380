package kvstore

import (
	"sync"
	"sync/atomic"

	"github.com/cvvkv/cvvkv/internal/record"
)

// MemoryBackend keeps every ObjectRecord in a plain map. It is the
// default backend: fastest, no I/O, and sufficient for tests and
// in-process multi-replica simulations.
type MemoryBackend struct {
	mu    sync.RWMutex
	data  map[string]*record.ObjectRecord
	loads int64
	saves int64
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]*record.ObjectRecord)}
}

func (b *MemoryBackend) Load(key string) (*record.ObjectRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	atomic.AddInt64(&b.loads, 1)
	rec, ok := b.data[key]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (b *MemoryBackend) Save(key string, rec *record.ObjectRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	atomic.AddInt64(&b.saves, 1)
	b.data[key] = rec.Clone()
	return nil
}

func (b *MemoryBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

func (b *MemoryBackend) Keys() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.data))
	for k := range b.data {
		out = append(out, k)
	}
	return out, nil
}

func (b *MemoryBackend) Close() error { return nil }

func (b *MemoryBackend) Stats() BackendStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return BackendStats{
		Mode:         ModeMemory,
		KeysInMemory: len(b.data),
		LoadCount:    atomic.LoadInt64(&b.loads),
		SaveCount:    atomic.LoadInt64(&b.saves),
	}
}
