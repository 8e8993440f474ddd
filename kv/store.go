package kv

import (
	"fmt"
	"time"
)

// Store is a key-value store with per-key expiry
type Store interface {
	Set(key, value string, ttl time.Duration) error
	Get(key string) (string, bool, error)
	Exists(key string) (bool, error)
	Delete(key string) error
	Sweep(now time.Time) (int, error)
	Close() error
}

var (
	_ Store = (*PebbleStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// Open returns the store selected by backend ("pebble" or "memory")
func Open(backend, path string) (Store, error) {
	switch backend {
	case "pebble":
		return OpenPebble(path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown marker backend %q", backend)
	}
}
