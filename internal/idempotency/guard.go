// Package idempotency keeps clients from placing the same order twice when
// they retry a request with the same Idempotency-Key.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a key is remembered.
const DefaultTTL = 24 * time.Hour

// Guard records idempotency keys and the order each one produced.
type Guard interface {
	// Reserve claims key. It reports false if the key was already claimed.
	Reserve(ctx context.Context, key string) (bool, error)
	// Complete stores the id of the order created under key.
	Complete(ctx context.Context, key, orderID string) error
	// Lookup returns the order id stored under key, or "" if the key is
	// unknown or its request is still in flight.
	Lookup(ctx context.Context, key string) (string, error)
	// Release forgets key so that a failed request can be retried.
	Release(ctx context.Context, key string) error
}

type entry struct {
	orderID string
	expires time.Time
}

// Memory is a process-local Guard.
type Memory struct {
	mu   sync.Mutex
	ttl  time.Duration
	keys map[string]entry
	now  func() time.Time
}

// NewMemory returns an in-memory guard remembering keys for ttl.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, keys: make(map[string]entry), now: time.Now}
}

func (m *Memory) Reserve(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.keys[key]; ok && now.Before(e.expires) {
		return false, nil
	}
	m.keys[key] = entry{expires: now.Add(m.ttl)}
	m.prune(now)
	return true, nil
}

func (m *Memory) Complete(_ context.Context, key, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.keys[key]
	if !ok {
		e.expires = m.now().Add(m.ttl)
	}
	e.orderID = orderID
	m.keys[key] = e
	return nil
}

func (m *Memory) Lookup(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.keys[key]
	if !ok || !m.now().Before(e.expires) {
		return "", nil
	}
	return e.orderID, nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

// prune drops expired keys. Callers hold m.mu.
func (m *Memory) prune(now time.Time) {
	for k, e := range m.keys {
		if !now.Before(e.expires) {
			delete(m.keys, k)
		}
	}
}
