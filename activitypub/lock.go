package activitypub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Locker serializes work on a key within this process and records the
// short-lived markers that coordinate Create/Delete races and Move cooldowns.
type Locker struct {
	mu      sync.Mutex
	locks   map[string]*keyLock
	markers MarkerStore
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocker creates a locker backed by the given marker store
func NewLocker(markers MarkerStore) *Locker {
	return &Locker{
		locks:   make(map[string]*keyLock),
		markers: markers,
	}
}

// WithLock runs fn while holding the lock for key. Waiting honours ctx.
func (l *Locker) WithLock(ctx context.Context, key string, fn func() error) error {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	defer l.release(key, kl)

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("waiting for lock %s: %w", key, ctx.Err())
	}
	defer func() { <-kl.ch }()

	return fn()
}

func (l *Locker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// held reports how many callers hold or wait for key
func (l *Locker) held(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if kl, ok := l.locks[key]; ok {
		return kl.refs
	}
	return 0
}

func deleteMarkerKey(actorId uuid.UUID, uri string) string {
	return "delete_upon_arrival:" + actorId.String() + ":" + uri
}

func moveMarkerKey(actorId uuid.UUID) string {
	return "move_in_progress:" + actorId.String()
}

// MarkDeleted remembers that a Delete for uri arrived before its Create
func (l *Locker) MarkDeleted(actorId uuid.UUID, uri string, ttl time.Duration) error {
	return l.markers.Set(deleteMarkerKey(actorId, uri), "1", ttl)
}

// DeleteArrivedFirst reports whether a Delete for uri is pending
func (l *Locker) DeleteArrivedFirst(actorId uuid.UUID, uri string) (bool, error) {
	return l.markers.Exists(deleteMarkerKey(actorId, uri))
}

// MarkMoving sets the move cooldown marker. Returns false if one is already set.
// Callers hold the move lock so the check and set do not race.
func (l *Locker) MarkMoving(actorId uuid.UUID, ttl time.Duration) (bool, error) {
	key := moveMarkerKey(actorId)
	exists, err := l.markers.Exists(key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	return true, l.markers.Set(key, "1", ttl)
}

// UnmarkMoving clears the cooldown after a Move that did not go through
func (l *Locker) UnmarkMoving(actorId uuid.UUID) error {
	return l.markers.Delete(moveMarkerKey(actorId))
}
