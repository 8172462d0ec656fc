package runtime

import (
	"context"
	"sort"
	"sync"
)

// compile-time interface check
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store for tests and local runs. Batches
// collect their operations first and apply them under one lock, matching
// the atomicity the Redis transaction gives in production.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
	sets    map[string]map[string]struct{}
	zsets   map[string]map[string]float64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]byte),
		sets:    make(map[string]map[string]struct{}),
		zsets:   make(map[string]map[string]float64),
	}
}

// Get returns the value at key, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

// SMembers returns the members of a set in sorted order. Missing sets are
// empty.
func (s *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, nil
}

// ZScore returns the score of member in the sorted set at key. Used by
// tests to assert schedule placement.
func (s *MemoryStore) ZScore(key, member string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, ok := s.zsets[key][member]
	return score, ok
}

// Batch collects fn's operations and applies them in order under the
// write lock.
func (s *MemoryStore) Batch(_ context.Context, fn func(Pipe)) error {
	pipe := &memoryPipe{}
	fn(pipe)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range pipe.ops {
		op(s)
	}
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

type memoryPipe struct {
	ops []func(*MemoryStore)
}

func (p *memoryPipe) Set(key string, value []byte) {
	buf := make([]byte, len(value))
	copy(buf, value)
	p.ops = append(p.ops, func(s *MemoryStore) {
		s.records[key] = buf
	})
}

func (p *memoryPipe) Delete(key string) {
	p.ops = append(p.ops, func(s *MemoryStore) {
		delete(s.records, key)
	})
}

func (p *memoryPipe) SAdd(key string, members ...string) {
	members = append([]string(nil), members...)
	p.ops = append(p.ops, func(s *MemoryStore) {
		set, ok := s.sets[key]
		if !ok {
			set = make(map[string]struct{})
			s.sets[key] = set
		}
		for _, m := range members {
			set[m] = struct{}{}
		}
	})
}

func (p *memoryPipe) SRem(key string, members ...string) {
	members = append([]string(nil), members...)
	p.ops = append(p.ops, func(s *MemoryStore) {
		set, ok := s.sets[key]
		if !ok {
			return
		}
		for _, m := range members {
			delete(set, m)
		}
		if len(set) == 0 {
			delete(s.sets, key)
		}
	})
}

func (p *memoryPipe) ZAdd(key string, score float64, member string) {
	p.ops = append(p.ops, func(s *MemoryStore) {
		zset, ok := s.zsets[key]
		if !ok {
			zset = make(map[string]float64)
			s.zsets[key] = zset
		}
		zset[member] = score
	})
}

func (p *memoryPipe) ZRem(key string, member string) {
	p.ops = append(p.ops, func(s *MemoryStore) {
		zset, ok := s.zsets[key]
		if !ok {
			return
		}
		delete(zset, member)
		if len(zset) == 0 {
			delete(s.zsets, key)
		}
	})
}
