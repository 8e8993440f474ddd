package kv

import (
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by a store after Close
var ErrClosed = errors.New("marker store closed")

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is a process-local marker store for single-node deployments and tests
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore returns an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

// Set stores value under key for ttl. A non-positive ttl never expires.
func (s *MemoryStore) Set(key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		return ErrClosed
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = memoryEntry{value: value, expiresAt: expiresAt}
	return nil
}

// Get returns the live value of key
func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		return "", false, ErrClosed
	}
	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if expired(e.expiresAt, s.now()) {
		delete(s.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Exists reports whether key holds a live marker
func (s *MemoryStore) Exists(key string) (bool, error) {
	_, ok, err := s.Get(key)
	return ok, err
}

// Delete removes key
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Sweep deletes every marker that expired before now
func (s *MemoryStore) Sweep(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if expired(e.expiresAt, now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Close drops all entries
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return nil
}
