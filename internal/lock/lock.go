// Package lock provides the mutual-exclusion primitive used by the stores.
package lock

import "sync"

// Mutex is a FIFO mutual-exclusion lock. Waiters acquire it in arrival order:
// Unlock hands ownership directly to the oldest waiter instead of letting
// newcomers barge in. The zero value is an unlocked Mutex.
//
// Acquisition cannot be cancelled; once a caller queues it runs to completion.
type Mutex struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

// Lock blocks until the caller owns m.
func (m *Mutex) Lock() {
	m.mu.Lock()
	if !m.held {
		m.held = true
		m.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	m.waiters = append(m.waiters, ch)
	m.mu.Unlock()
	<-ch // ownership was handed over; held stays true
}

// Unlock releases m, waking the oldest waiter if any.
// It panics if m is not locked.
func (m *Mutex) Unlock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.held {
		panic("lock: unlock of unlocked mutex")
	}
	if len(m.waiters) == 0 {
		m.held = false
		return
	}
	next := m.waiters[0]
	m.waiters[0] = nil
	m.waiters = m.waiters[1:]
	close(next)
}

// Do runs fn while holding m. The lock is released on every exit path,
// including a panic in fn.
func (m *Mutex) Do(fn func() error) error {
	m.Lock()
	defer m.Unlock()
	return fn()
}
