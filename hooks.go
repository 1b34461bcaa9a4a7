package mdcache

import "github.com/mdpipe/mdcache/store"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// Pass the same value as the store's Hooks to see storage events too.
type Hooks interface {
	store.Hooks

	// A fetch was answered from the cache. negative is true for a replayed failure.
	FetchCacheHit(fingerprint string, negative bool)

	// The storage backend failed; the fetch went to (or stayed on) the network.
	// op ∈ {"get", "set", "decode", "encode", "delete"}
	FetchCacheError(fingerprint, op string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{ store.NopHooks }

func (NopHooks) FetchCacheHit(string, bool)            {}
func (NopHooks) FetchCacheError(string, string, error) {}
