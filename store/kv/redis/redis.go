// Package redis adapts a go-redis client to kv.Backend, so a prefix-scoped
// kv.Store can be shared by several processes.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mdpipe/mdcache/store"
	"github.com/mdpipe/mdcache/store/kv"
)

var ErrNilClient = errors.New("redis backend: nil client")

const scanCount = 256

type Backend struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ kv.Backend = (*Backend)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this backend exclusively owns the client
}

func New(cfg Config) (*Backend, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Backend{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

// ready reports ErrUnavailable for a zero-value Backend.
func (b *Backend) ready() error {
	if b == nil || b.rdb == nil {
		return store.ErrUnavailable
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	if err := b.ready(); err != nil {
		return "", false, err
	}
	v, err := b.rdb.Get(ctx, key).Result()
	if err == goredis.Nil {
		return "", false, nil // miss
	}
	if err != nil {
		return "", false, mapErr(err)
	}
	return v, true, nil
}

func (b *Backend) Set(ctx context.Context, key, value string) error {
	if err := b.ready(); err != nil {
		return err
	}
	// expiry is tracked in the entry itself; redis keeps it forever
	return mapErr(b.rdb.Set(ctx, key, value, 0).Err())
}

func (b *Backend) Remove(ctx context.Context, key string) error {
	if err := b.ready(); err != nil {
		return err
	}
	return mapErr(b.rdb.Del(ctx, key).Err())
}

// Keys walks the keyspace with SCAN MATCH <prefix>*. On a cluster client every
// master is scanned.
func (b *Backend) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	pattern := escapeGlob(prefix) + "*"
	if cc, ok := b.rdb.(*goredis.ClusterClient); ok {
		var (
			mu  sync.Mutex
			out []string
		)
		err := cc.ForEachMaster(ctx, func(ctx context.Context, node *goredis.Client) error {
			keys, err := scanAll(ctx, node, pattern)
			if err != nil {
				return err
			}
			mu.Lock()
			out = append(out, keys...)
			mu.Unlock()
			return nil
		})
		if err != nil {
			return nil, mapErr(err)
		}
		return out, nil
	}
	keys, err := scanAll(ctx, b.rdb, pattern)
	return keys, mapErr(err)
}

// Close releases the underlying redis client only when this backend owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (b *Backend) Close(context.Context) error {
	if b.ready() == nil && b.closeClient {
		if err := b.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

type scanner interface {
	Scan(ctx context.Context, cursor uint64, match string, count int64) *goredis.ScanCmd
}

func scanAll(ctx context.Context, c scanner, pattern string) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := c.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// mapErr translates redis conditions into the kv/store vocabulary.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, goredis.ErrClosed):
		return fmt.Errorf("redis backend: %w", store.ErrUnavailable)
	case strings.HasPrefix(err.Error(), "OOM "):
		// maxmemory reached with a noeviction policy
		return fmt.Errorf("redis backend: %v: %w", err, kv.ErrQuotaExceeded)
	default:
		return err
	}
}

func escapeGlob(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
