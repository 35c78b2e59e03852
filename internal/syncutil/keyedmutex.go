// Package syncutil holds locking helpers shared by the asset pipelines.
package syncutil

import (
	"context"
	"sync"
)

// KeyedMutex serializes work per key. Unlike a sharded pool, two distinct
// keys never contend, so a slow holder for asset A cannot stall asset B.
// Entries are reference counted and dropped once no goroutine holds or
// waits on them.
type KeyedMutex[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*chanMutex
}

// chanMutex is a mutex implemented via a buffered channel, allowing select{}
// with a context cancellation channel.
type chanMutex struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex[K comparable]() *KeyedMutex[K] {
	return &KeyedMutex[K]{locks: make(map[K]*chanMutex)}
}

// LockContext acquires the mutex for key, respecting context cancellation.
// On success it returns an unlock function the caller MUST call. On
// cancellation it returns nil and the context error.
func (m *KeyedMutex[K]) LockContext(ctx context.Context, key K) (func(), error) {
	cm := m.acquire(key)

	select {
	case <-cm.ch:
		var once sync.Once
		return func() {
			once.Do(func() {
				cm.ch <- struct{}{}
				m.release(key, cm)
			})
		}, nil
	case <-ctx.Done():
		m.release(key, cm)
		return nil, ctx.Err()
	}
}

// Lock acquires the mutex for key without a deadline.
func (m *KeyedMutex[K]) Lock(key K) func() {
	unlock, _ := m.LockContext(context.Background(), key)
	return unlock
}

// Len reports how many keys currently have holders or waiters.
func (m *KeyedMutex[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *KeyedMutex[K]) acquire(key K) *chanMutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks == nil {
		m.locks = make(map[K]*chanMutex)
	}
	cm, ok := m.locks[key]
	if !ok {
		cm = &chanMutex{ch: make(chan struct{}, 1)}
		cm.ch <- struct{}{} // Start unlocked.
		m.locks[key] = cm
	}
	cm.refs++
	return cm
}

func (m *KeyedMutex[K]) release(key K, cm *chanMutex) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cm.refs--
	if cm.refs == 0 {
		delete(m.locks, key)
	}
}
