package main

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mdpipe/mdcache/store"
	"github.com/mdpipe/mdcache/store/filesystem"
	"github.com/mdpipe/mdcache/store/kv"
	"github.com/mdpipe/mdcache/store/kv/bigcache"
	"github.com/mdpipe/mdcache/store/kv/redis"
	"github.com/mdpipe/mdcache/store/memory"
)

// openStorage builds the configured backend. The returned closer releases
// backend resources and is never nil.
func openStorage(ctx context.Context, cfg *Config, hooks store.Hooks) (store.Storage, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch cfg.Backend {
	case backendMemory:
		return memory.New(memory.Options{Hooks: hooks}), noop, nil

	case backendFilesystem:
		s, err := filesystem.New(filesystem.Options{Dir: cfg.Dir, Hooks: hooks})
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil

	case backendRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		b, err := redis.New(redis.Config{Client: client, CloseClient: true})
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return kv.New(b, kv.Options{Prefix: cfg.Prefix, Hooks: hooks}), b.Close, nil

	case backendBigCache:
		b, err := bigcache.New(ctx, bigcache.Config{HardMaxCacheSizeMB: cfg.BigCacheLimitMB})
		if err != nil {
			return nil, noop, err
		}
		return kv.New(b, kv.Options{Prefix: cfg.Prefix, Hooks: hooks}), b.Close, nil
	}
	return nil, noop, fmt.Errorf("unknown backend %q", cfg.Backend)
}
