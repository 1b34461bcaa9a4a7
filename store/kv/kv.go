// Package kv implements store.Storage over a shared, synchronous key-value
// backend such as Redis or a quota-bounded in-process map.
//
// The backend is shared with other users, so every key is written under a
// configurable prefix and Clear/Size only ever touch keys carrying it.
// Values are the uncompressed JSON form of store.Entry.
//
// When the backend reports ErrQuotaExceeded on Set, the store sweeps expired
// entries in its namespace and retries the write exactly once.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mdpipe/mdcache/internal/lock"
	"github.com/mdpipe/mdcache/store"
)

// DefaultPrefix namespaces keys when Options.Prefix is empty.
const DefaultPrefix = "mdcache:"

// ErrQuotaExceeded is returned (possibly wrapped) by backends that ran out of
// room for a write.
var ErrQuotaExceeded = errors.New("kv: quota exceeded")

// Backend is a synchronous key-value store shared between namespaces.
// Must be safe for concurrent use.
type Backend interface {
	// Get returns (value, true, nil) on hit and ("", false, nil) on miss.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes value. Out-of-space conditions must wrap ErrQuotaExceeded.
	Set(ctx context.Context, key, value string) error
	// Remove deletes key; absent keys are not an error.
	Remove(ctx context.Context, key string) error
	// Keys lists every key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

type Options struct {
	Prefix string      // "" => DefaultPrefix
	Clock  store.Clock // nil => time.Now
	Hooks  store.Hooks // nil => store.NopHooks
}

type Store struct {
	backend Backend
	prefix  string
	lock    lock.Mutex
	now     store.Clock
	hooks   store.Hooks
}

var _ store.Storage = (*Store)(nil)

// heals buffers SelfHeal events raised under the lock.
type heals []struct{ key, reason string }

func (h *heals) add(key, reason string) {
	*h = append(*h, struct{ key, reason string }{key, reason})
}

// New wraps backend. A nil backend yields a store whose every method returns
// store.ErrUnavailable.
func New(backend Backend, opts Options) *Store {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		backend: backend,
		prefix:  prefix,
		now:     store.ClockOrNow(opts.Clock),
		hooks:   store.HooksOrNop(opts.Hooks),
	}
}

// Prefix returns the namespace prefix.
func (s *Store) Prefix() string { return s.prefix }

func (s *Store) ready(ctx context.Context) error {
	if s == nil || s.backend == nil {
		return store.ErrUnavailable
	}
	return ctx.Err()
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.ready(ctx); err != nil {
		return "", false, err
	}
	k := s.prefix + key
	raw, ok, err := s.backend.Get(ctx, k)
	if err != nil || !ok {
		return "", false, err
	}
	e, err := store.UnmarshalEntry([]byte(raw))
	if err == nil && !e.Expired(s.now()) {
		return e.Data, true, nil
	}

	var h heals
	err = s.lock.Do(func() error {
		// re-check under the lock: another caller may have replaced it since
		_, err := s.inspectLocked(ctx, k, s.now(), &h)
		return err
	})
	s.report(h)
	return "", false, err
}

func (s *Store) Set(ctx context.Context, key, value string, opts ...store.SetOption) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	so, err := store.ResolveSetOptions(opts)
	if err != nil {
		return err
	}
	var (
		h      heals
		swept  bool
		reaped int
	)
	err = s.lock.Do(func() error {
		b, err := store.NewEntry(value, s.now(), so).Marshal()
		if err != nil {
			return err
		}
		k := s.prefix + key
		err = s.backend.Set(ctx, k, string(b))
		if err == nil || !errors.Is(err, ErrQuotaExceeded) {
			return err
		}
		var serr error
		reaped, serr = s.sweepLocked(ctx, &h)
		if serr != nil {
			return fmt.Errorf("kv: quota sweep: %w", errors.Join(err, serr))
		}
		swept = true
		return s.backend.Set(ctx, k, string(b))
	})
	s.report(h)
	if swept {
		s.hooks.QuotaSweep(s.prefix, reaped, err)
	}
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.lock.Do(func() error {
		return s.backend.Remove(ctx, s.prefix+key)
	})
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.lock.Do(func() error {
		keys, err := s.backend.Keys(ctx, s.prefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := s.backend.Remove(ctx, k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Size(ctx context.Context) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	n := 0
	var h heals
	err := s.lock.Do(func() error {
		keys, err := s.backend.Keys(ctx, s.prefix)
		if err != nil {
			return err
		}
		now := s.now()
		for _, k := range keys {
			live, err := s.inspectLocked(ctx, k, now, &h)
			if err != nil {
				return err
			}
			if live {
				n++
			}
		}
		return nil
	})
	s.report(h)
	return n, err
}

// sweepLocked removes every expired or corrupt entry under the prefix and
// returns how many were removed. Caller holds s.lock.
func (s *Store) sweepLocked(ctx context.Context, h *heals) (int, error) {
	keys, err := s.backend.Keys(ctx, s.prefix)
	if err != nil {
		return 0, err
	}
	now := s.now()
	reaped := 0
	for _, k := range keys {
		live, err := s.inspectLocked(ctx, k, now, h)
		if err != nil {
			return reaped, err
		}
		if !live {
			reaped++
		}
	}
	return reaped, nil
}

// inspectLocked reads a full backend key and deletes it when it is expired or
// corrupt, recording the removal in h. Keys that vanished concurrently count
// as not live.
func (s *Store) inspectLocked(ctx context.Context, fullKey string, now time.Time, h *heals) (bool, error) {
	raw, ok, err := s.backend.Get(ctx, fullKey)
	if err != nil || !ok {
		return false, err
	}
	e, derr := store.UnmarshalEntry([]byte(raw))
	reason := store.ReasonCorrupt
	if derr == nil {
		if !e.Expired(now) {
			return true, nil
		}
		reason = store.ReasonExpired
	}
	if err := s.backend.Remove(ctx, fullKey); err != nil {
		return false, err
	}
	h.add(strings.TrimPrefix(fullKey, s.prefix), reason)
	return false, nil
}

// report delivers SelfHeal events once the lock is released.
func (s *Store) report(h heals) {
	for _, e := range h {
		s.hooks.SelfHeal(s.prefix, e.key, e.reason)
	}
}
