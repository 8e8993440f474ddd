package kv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

const markerPrefix = "marker:"

// PebbleStore keeps expiring markers on disk so they survive restarts.
// Each value is prefixed with its big-endian expiry in unix nanoseconds;
// zero means no expiry.
type PebbleStore struct {
	mu  sync.RWMutex
	db  *pebble.DB
	now func() time.Time
}

// OpenPebble opens (or creates) a marker store at path
func OpenPebble(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open marker store at %s: %w", path, err)
	}
	log.Printf("Markers: Pebble store opened at %s", path)
	return &PebbleStore{db: db, now: time.Now}, nil
}

func encodeValue(value string, expiresAt time.Time) []byte {
	buf := make([]byte, 8+len(value))
	if !expiresAt.IsZero() {
		binary.BigEndian.PutUint64(buf[:8], uint64(expiresAt.UnixNano()))
	}
	copy(buf[8:], value)
	return buf
}

func decodeValue(raw []byte) (string, time.Time, error) {
	if len(raw) < 8 {
		return "", time.Time{}, fmt.Errorf("corrupt marker value (%d bytes)", len(raw))
	}
	var expiresAt time.Time
	if nanos := binary.BigEndian.Uint64(raw[:8]); nanos != 0 {
		expiresAt = time.Unix(0, int64(nanos))
	}
	return string(raw[8:]), expiresAt, nil
}

func expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !expiresAt.After(now)
}

// Set stores value under key for ttl. A non-positive ttl never expires.
func (s *PebbleStore) Set(key, value string, ttl time.Duration) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}
	if err := s.db.Set([]byte(markerPrefix+key), encodeValue(value, expiresAt), pebble.Sync); err != nil {
		return fmt.Errorf("failed to set marker %s: %w", key, err)
	}
	return nil
}

// Get returns the live value of key
func (s *PebbleStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return "", false, ErrClosed
	}

	raw, closer, err := s.db.Get([]byte(markerPrefix + key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read marker %s: %w", key, err)
	}
	defer closer.Close()

	value, expiresAt, err := decodeValue(raw)
	if err != nil {
		return "", false, err
	}
	if expired(expiresAt, s.now()) {
		return "", false, nil
	}
	return value, true, nil
}

// Exists reports whether key holds a live marker
func (s *PebbleStore) Exists(key string) (bool, error) {
	_, ok, err := s.Get(key)
	return ok, err
}

// Delete removes key
func (s *PebbleStore) Delete(key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Delete([]byte(markerPrefix+key), pebble.Sync)
}

// Sweep deletes every marker that expired before now and returns how many were removed
func (s *PebbleStore) Sweep(now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return 0, ErrClosed
	}

	prefix := []byte(markerPrefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	removed := 0
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		_, expiresAt, err := decodeValue(iter.Value())
		if err != nil || expired(expiresAt, now) {
			key := append([]byte(nil), iter.Key()...)
			if err := batch.Delete(key, nil); err != nil {
				iter.Close()
				return 0, err
			}
			removed++
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}

	if removed == 0 {
		return 0, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to commit sweep: %w", err)
	}
	return removed, nil
}

// Close flushes and closes the underlying database
func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
