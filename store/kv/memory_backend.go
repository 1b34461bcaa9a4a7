package kv

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryBackend is an in-process Backend with a byte quota, modelled on
// browser-style storage: a flat string map shared by every namespace that
// writes into it. The quota counts len(key)+len(value) of every stored pair.
type MemoryBackend struct {
	mu    sync.RWMutex
	m     map[string]string
	used  int
	quota int
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend returns a backend holding at most quota bytes.
// quota <= 0 disables the limit.
func NewMemoryBackend(quota int) *MemoryBackend {
	return &MemoryBackend{m: make(map[string]string), quota: quota}
}

func (b *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.RLock()
	v, ok := b.m[key]
	b.mu.RUnlock()
	return v, ok, nil
}

func (b *MemoryBackend) Set(_ context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.used + len(key) + len(value)
	if old, ok := b.m[key]; ok {
		next -= len(key) + len(old)
	}
	if b.quota > 0 && next > b.quota {
		return fmt.Errorf("set %q (%d/%d bytes): %w", key, next, b.quota, ErrQuotaExceeded)
	}
	b.m[key] = value
	b.used = next
	return nil
}

func (b *MemoryBackend) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	if old, ok := b.m[key]; ok {
		b.used -= len(key) + len(old)
		delete(b.m, key)
	}
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Keys(_ context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	out := make([]string, 0, len(b.m))
	for k := range b.m {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	b.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

// Used reports the bytes currently accounted against the quota.
func (b *MemoryBackend) Used() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.used
}
