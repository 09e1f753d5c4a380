package kvstore

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/cvvkv/cvvkv/internal/record"
)

// HybridBackend keeps an LRU-bounded set of hot keys in memory in front of
// a DiskBackend, generalizing the teacher's HybridBackend (LRU buffer pool
// over on-disk tables) to ObjectRecords.
type HybridBackend struct {
	mu        sync.Mutex
	disk      *DiskBackend
	maxHot    int
	hot       map[string]*list.Element
	lru       *list.List // front = most recently used
	evictions int64
}

type hybridEntry struct {
	key string
	rec *record.ObjectRecord
}

// NewHybridBackend returns a hybrid backend over dir, keeping up to
// maxHotKeys records resident in memory.
func NewHybridBackend(dir string, maxHotKeys int) (*HybridBackend, error) {
	disk, err := NewDiskBackend(dir)
	if err != nil {
		return nil, err
	}
	if maxHotKeys <= 0 {
		maxHotKeys = 1024
	}
	return &HybridBackend{
		disk:   disk,
		maxHot: maxHotKeys,
		hot:    make(map[string]*list.Element),
		lru:    list.New(),
	}, nil
}

func (h *HybridBackend) Load(key string) (*record.ObjectRecord, error) {
	h.mu.Lock()
	if el, ok := h.hot[key]; ok {
		h.lru.MoveToFront(el)
		rec := el.Value.(*hybridEntry).rec.Clone()
		h.mu.Unlock()
		return rec, nil
	}
	h.mu.Unlock()

	rec, err := h.disk.Load(key)
	if err != nil || rec == nil {
		return rec, err
	}
	h.promote(key, rec)
	return rec.Clone(), nil
}

func (h *HybridBackend) Save(key string, rec *record.ObjectRecord) error {
	if err := h.disk.Save(key, rec); err != nil {
		return err
	}
	h.promote(key, rec)
	return nil
}

func (h *HybridBackend) promote(key string, rec *record.ObjectRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if el, ok := h.hot[key]; ok {
		el.Value.(*hybridEntry).rec = rec.Clone()
		h.lru.MoveToFront(el)
		return
	}
	el := h.lru.PushFront(&hybridEntry{key: key, rec: rec.Clone()})
	h.hot[key] = el
	for h.lru.Len() > h.maxHot {
		back := h.lru.Back()
		if back == nil {
			break
		}
		entry := back.Value.(*hybridEntry)
		delete(h.hot, entry.key)
		h.lru.Remove(back)
		atomic.AddInt64(&h.evictions, 1)
	}
}

func (h *HybridBackend) Delete(key string) error {
	h.mu.Lock()
	if el, ok := h.hot[key]; ok {
		h.lru.Remove(el)
		delete(h.hot, key)
	}
	h.mu.Unlock()
	return h.disk.Delete(key)
}

func (h *HybridBackend) Keys() ([]string, error) {
	return h.disk.Keys()
}

func (h *HybridBackend) Close() error {
	return h.disk.Close()
}

func (h *HybridBackend) Stats() BackendStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	stats := h.disk.Stats()
	stats.Mode = ModeHybrid
	stats.KeysInMemory = h.lru.Len()
	stats.EvictionCount = atomic.LoadInt64(&h.evictions)
	return stats
}
