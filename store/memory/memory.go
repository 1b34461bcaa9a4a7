// Package memory implements a process-local store.Storage.
// Entries live in a map owned by one Store; two stores never share keys.
package memory

import (
	"context"
	"sync"

	"github.com/mdpipe/mdcache/internal/lock"
	"github.com/mdpipe/mdcache/store"
)

const namespace = "memory"

type Options struct {
	Clock store.Clock // nil => time.Now
	Hooks store.Hooks // nil => store.NopHooks
}

// Store keeps entries in memory. Hits on live entries only take the short map
// read lock; expiry deletes, writes, Clear and Size go through the FIFO lock so
// they are totally ordered.
type Store struct {
	lock  lock.Mutex
	mu    sync.RWMutex
	data  map[string]store.Entry
	now   store.Clock
	hooks store.Hooks
}

var _ store.Storage = (*Store)(nil)

func New(opts Options) *Store {
	return &Store{
		data:  make(map[string]store.Entry),
		now:   store.ClockOrNow(opts.Clock),
		hooks: store.HooksOrNop(opts.Hooks),
	}
}

func (s *Store) ready() error {
	if s == nil || s.data == nil {
		return store.ErrUnavailable
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.ready(); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !e.Expired(s.now()) {
		return e.Data, true, nil
	}

	// double-check under the lock: a concurrent Set may have refreshed it
	var healed bool
	_ = s.lock.Do(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.data[key]; ok && cur.Expired(s.now()) {
			delete(s.data, key)
			healed = true
		}
		return nil
	})
	if healed {
		s.hooks.SelfHeal(namespace, key, store.ReasonExpired)
	}
	return "", false, nil
}

func (s *Store) Set(ctx context.Context, key, value string, opts ...store.SetOption) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	so, err := store.ResolveSetOptions(opts)
	if err != nil {
		return err
	}
	return s.lock.Do(func() error {
		e := store.NewEntry(value, s.now(), so)
		s.mu.Lock()
		s.data[key] = e
		s.mu.Unlock()
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.lock.Do(func() error {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return nil
	})
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.lock.Do(func() error {
		s.mu.Lock()
		clear(s.data)
		s.mu.Unlock()
		return nil
	})
}

func (s *Store) Size(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	var reaped []string
	err := s.lock.Do(func() error {
		now := s.now()
		s.mu.Lock()
		defer s.mu.Unlock()
		for k, e := range s.data {
			if e.Expired(now) {
				delete(s.data, k)
				reaped = append(reaped, k)
				continue
			}
			n++
		}
		return nil
	})
	for _, k := range reaped {
		s.hooks.SelfHeal(namespace, k, store.ReasonExpired)
	}
	return n, err
}
