// Package asynchook moves hook delivery off the caller's goroutine.
//
// Stores call hooks while holding their lock, so slow hooks stall every other
// operation on the store. Wrap them:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	st, _ := filesystem.New(filesystem.Options{Dir: dir, Hooks: hooks})
//	f, _ := mdcache.New(next, mdcache.Options{Storage: st, Hooks: hooks})
//
// Events are dropped when the queue is full.
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/mdpipe/mdcache"
)

type Hooks struct {
	inner   mdcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ mdcache.Hooks = (*Hooks)(nil)

func New(inner mdcache.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = mdcache.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped returns how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) SelfHeal(ns, k, r string) { h.try(func() { h.inner.SelfHeal(ns, k, r) }) }
func (h *Hooks) QuotaSweep(ns string, n int, err error) {
	h.try(func() { h.inner.QuotaSweep(ns, n, err) })
}
func (h *Hooks) FetchCacheHit(fp string, neg bool) { h.try(func() { h.inner.FetchCacheHit(fp, neg) }) }
func (h *Hooks) FetchCacheError(fp, op string, err error) {
	h.try(func() { h.inner.FetchCacheError(fp, op, err) })
}
