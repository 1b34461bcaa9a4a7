// Package mdcache caches network fetches for a Markdown-to-HTML pipeline.
//
// A CachedFetcher sits in front of any Fetcher and stores results in a
// store.Storage backend (memory, kv or filesystem, see the store packages).
//
// Components:
//   - Fetcher: the live network capability (HTTPFetcher by default).
//   - store.Storage: text store with per-entry TTLs.
//   - codec.Codec[FetchEntry]: serializes cached results (JSON by default).
//
// Keys:
//
//	fetch:<url>:<accept>:<user-agent or "default">
//
// Successful responses are replayed with the header X-Cache: HIT. With
// CacheFailures set, failures are replayed as *CachedError without touching
// the network until FailureTTL elapses. Concurrent misses for the same key are
// not coalesced: each one fetches.
//
// Usage:
//
//	f, _ := mdcache.NewHTTPCached("mybot/1.0", 5*time.Second, mdcache.Options{
//	    Storage:       fsStore,
//	    TTL:           time.Hour,
//	    CacheFailures: true,
//	    FailureTTL:    time.Minute,
//	})
//	res, err := f.Fetch(ctx, "https://example.com/oembed", "application/json")
package mdcache
