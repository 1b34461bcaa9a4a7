// Package store defines the storage abstraction used by mdcache.
//
// A Storage holds UTF-8 text payloads under string keys with an optional TTL.
// Every implementation shares the same contract:
//
//   - Get never returns an expired or undecodable record; it deletes it instead.
//   - Set is last-write-wins. A TTL of 0 makes the entry expired immediately.
//   - Delete and Clear are idempotent.
//   - Size counts live entries and reaps every expired one it meets, so it is
//     a full O(n) pass with I/O side effects, not a counter.
//
// Each backend owns a namespace: the instance itself (memory), a key prefix
// (kv) or a directory (filesystem). Operations never reach outside it.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable is returned by every method of a store whose backing
	// resource does not exist in this environment (nil handle, zero value,
	// closed client).
	ErrUnavailable = errors.New("store: backing storage unavailable")

	// ErrInvalidTTL is returned by Set when a negative TTL is requested.
	ErrInvalidTTL = errors.New("store: ttl must not be negative")
)

// Storage is a text store with per-entry TTLs.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Get returns (value, true, nil) on a live hit and ("", false, nil) on a miss.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous entry.
	Set(ctx context.Context, key, value string, opts ...SetOption) error

	// Delete removes key. Absent keys are not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry in this store's namespace.
	Clear(ctx context.Context) error

	// Size returns the number of live entries, reaping expired ones.
	Size(ctx context.Context) (int, error)
}

// SetOption tunes a single Set call.
type SetOption func(*SetOptions)

// SetOptions is the resolved form of a Set call's options.
type SetOptions struct {
	TTL    time.Duration
	HasTTL bool
}

// WithTTL bounds the lifetime of the entry. Zero means the entry is already
// expired when written: a subsequent Get misses. This is intentional and
// differs from stores where zero means "forever"; omit the option for that.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *SetOptions) {
		o.TTL = ttl
		o.HasTTL = true
	}
}

// ResolveSetOptions applies opts and validates the result.
func ResolveSetOptions(opts []SetOption) (SetOptions, error) {
	var so SetOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&so)
		}
	}
	if so.HasTTL && so.TTL < 0 {
		return so, ErrInvalidTTL
	}
	return so, nil
}

// Clock returns the current time. Stores accept one so tests can move time.
type Clock func() time.Time

var timeNow Clock = time.Now
