package state

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore implements StateStore in process memory.
// Revisions come from one store-wide counter, like a stream sequence.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string]*entry
	revision uint64
	closed   atomic.Bool
	now      func() time.Time
}

type entry struct {
	value    []byte
	revision uint64
	created  time.Time
	modified time.Time
}

// NewMemoryStore creates a new in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]*entry),
		now:  time.Now,
	}
}

// Get retrieves the full entry for key.
func (s *MemoryStore) Get(ctx context.Context, key string) (*KeyValue, error) {
	if err := s.check(ctx, key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return e.keyValue(key), nil
}

// Create writes value only if key does not exist yet.
func (s *MemoryStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := s.check(ctx, key); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; ok {
		return 0, ErrKeyExists
	}

	now := s.now()
	s.revision++
	s.data[key] = &entry{
		value:    copyBytes(value),
		revision: s.revision,
		created:  now,
		modified: now,
	}
	return s.revision, nil
}

// Update writes value only if the stored revision equals lastRevision.
func (s *MemoryStore) Update(ctx context.Context, key string, value []byte, lastRevision uint64) (uint64, error) {
	if err := s.check(ctx, key); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok {
		return 0, ErrNotFound
	}
	if e.revision != lastRevision {
		return 0, ErrRevisionMismatch
	}

	s.revision++
	e.value = copyBytes(value)
	e.revision = s.revision
	e.modified = s.now()
	return s.revision, nil
}

// Keys returns all keys matching a pattern in lexical order.
func (s *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key := range s.data {
		if MatchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close shuts down the store.
func (s *MemoryStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}

func (s *MemoryStore) check(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (e *entry) keyValue(key string) *KeyValue {
	return &KeyValue{
		Key:      key,
		Value:    copyBytes(e.value),
		Revision: e.revision,
		Created:  e.created,
		Modified: e.modified,
	}
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
