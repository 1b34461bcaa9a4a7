// Package bigcache adapts allegro/bigcache to kv.Backend: a large, sharded,
// in-process byte store. BigCache evicts by its own LifeWindow; entry TTLs are
// still enforced by kv.Store, so LifeWindow only needs to exceed the longest TTL.
package bigcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/mdpipe/mdcache/store"
	"github.com/mdpipe/mdcache/store/kv"
)

type Backend struct {
	c *bc.BigCache
}

var _ kv.Backend = (*Backend)(nil)

type Config struct {
	LifeWindow         time.Duration // 0 => 24h
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
	Shards             int // power of two; 0 => bigcache default
}

func New(ctx context.Context, cfg Config) (*Backend, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = 24 * time.Hour
	}
	conf := bc.DefaultConfig(life)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	if cfg.Shards > 0 {
		conf.Shards = cfg.Shards
	}
	c, err := bc.New(ctx, conf)
	if err != nil {
		return nil, err
	}
	return &Backend{c: c}, nil
}

func (b *Backend) ready() error {
	if b == nil || b.c == nil {
		return store.ErrUnavailable
	}
	return nil
}

func (b *Backend) Get(_ context.Context, key string) (string, bool, error) {
	if err := b.ready(); err != nil {
		return "", false, err
	}
	v, err := b.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(v), true, nil
}

func (b *Backend) Set(_ context.Context, key, value string) error {
	if err := b.ready(); err != nil {
		return err
	}
	if err := b.c.Set(key, []byte(value)); err != nil {
		// bigcache reports a full shard with an unexported error
		if strings.Contains(err.Error(), "max shard size") {
			return fmt.Errorf("bigcache backend: %v: %w", err, kv.ErrQuotaExceeded)
		}
		return err
	}
	return nil
}

func (b *Backend) Remove(_ context.Context, key string) error {
	if err := b.ready(); err != nil {
		return err
	}
	if err := b.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return err
	}
	return nil
}

func (b *Backend) Keys(_ context.Context, prefix string) ([]string, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	var out []string
	it := b.c.Iterator()
	for it.SetNext() {
		info, err := it.Value()
		if err != nil {
			// entry evicted between SetNext and Value
			continue
		}
		if k := info.Key(); strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (b *Backend) Close(context.Context) error {
	if err := b.ready(); err != nil {
		return nil
	}
	return b.c.Close()
}
