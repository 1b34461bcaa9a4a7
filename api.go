package mdcache

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mdpipe/mdcache/codec"
	"github.com/mdpipe/mdcache/store"
	"github.com/mdpipe/mdcache/store/memory"
)

// Options tune a CachedFetcher. The zero value caches successes forever in
// a private in-memory store and never caches failures.
type Options struct {
	Storage store.Storage // nil => memory.New

	Disabled      bool          // default false (enabled)
	TTL           time.Duration // successes; 0 => never expire
	CacheFailures bool          // default false
	FailureTTL    time.Duration // failures; 0 => never expire

	UserAgent string        // fingerprint component; "" => "default"
	Timeout   time.Duration // per live fetch; 0 => none

	Codec  codec.Codec[FetchEntry] // nil => codec.JSON
	Clock  store.Clock             // nil => time.Now
	Logger Logger                  // nil => NopLogger
	Hooks  Hooks                   // nil => NopHooks
}

// CachedFetcher wraps a Fetcher with a store.Storage.
type CachedFetcher struct {
	next          Fetcher
	storage       store.Storage
	codec         codec.Codec[FetchEntry]
	log           Logger
	hooks         Hooks
	now           store.Clock
	enabled       bool
	ttl           time.Duration
	cacheFailures bool
	failureTTL    time.Duration
	userAgent     string
	timeout       time.Duration
}

var _ Fetcher = (*CachedFetcher)(nil)

func New(next Fetcher, opts Options) (*CachedFetcher, error) {
	if next == nil {
		return nil, errors.New("mdcache: fetcher is required")
	}
	if opts.TTL < 0 || opts.FailureTTL < 0 || opts.Timeout < 0 {
		return nil, errors.New("mdcache: ttl and timeout must not be negative")
	}

	c := &CachedFetcher{
		next:          next,
		enabled:       !opts.Disabled,
		ttl:           opts.TTL,
		cacheFailures: opts.CacheFailures,
		failureTTL:    opts.FailureTTL,
		userAgent:     opts.UserAgent,
		timeout:       opts.Timeout,
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.codec = coalesce[codec.Codec[FetchEntry]](opts.Codec, codec.JSON[FetchEntry]{})
	c.now = store.ClockOrNow(opts.Clock)
	if opts.Storage != nil {
		c.storage = opts.Storage
	} else {
		c.storage = memory.New(memory.Options{Clock: opts.Clock, Hooks: c.hooks})
	}
	return c, nil
}

// NewHTTPCached is New over an HTTPFetcher sending userAgent.
// userAgent and timeout override the matching Options fields.
func NewHTTPCached(userAgent string, timeout time.Duration, opts Options) (*CachedFetcher, error) {
	opts.UserAgent = userAgent
	opts.Timeout = timeout
	return New(NewHTTPFetcher(userAgent), opts)
}

func (c *CachedFetcher) Enabled() bool { return c.enabled }

// Storage returns the backing store.
func (c *CachedFetcher) Storage() store.Storage { return c.storage }

// Fetch returns a cached result for (url, accept, user agent) or performs
// the live fetch. Failures of the live fetch are always returned, cached or not.
func (c *CachedFetcher) Fetch(ctx context.Context, url, accept string) (*Response, error) {
	if !c.enabled {
		return c.live(ctx, url, accept)
	}
	fp := Fingerprint(url, accept, c.userAgent)

	if e, ok := c.lookup(ctx, fp); ok {
		if e.Type == EntrySuccess {
			c.hooks.FetchCacheHit(fp, false)
			c.log.Debug("fetch cache hit", Fields{"url": url})
			return e.Data.asHit(), nil
		}
		c.hooks.FetchCacheHit(fp, true)
		c.log.Debug("fetch negative cache hit", Fields{"url": url})
		return nil, &CachedError{Fingerprint: fp, Failure: *e.Error, CachedAt: e.at()}
	}

	res, err := c.live(ctx, url, accept)
	if err != nil {
		// the caller gave up; that says nothing about the resource
		if c.cacheFailures && ctx.Err() == nil {
			c.persist(ctx, fp, FetchEntry{Type: EntryFailure, Error: ptr(failureOf(url, err))}, c.failureTTL)
		}
		return nil, err
	}
	c.persist(ctx, fp, FetchEntry{Type: EntrySuccess, Data: res}, c.ttl)
	return res, nil
}

// Invalidate drops the cached result for a request.
func (c *CachedFetcher) Invalidate(ctx context.Context, url, accept string) error {
	return c.storage.Delete(ctx, Fingerprint(url, accept, c.userAgent))
}

type fetchResult struct {
	res *Response
	err error
}

// live races next.Fetch against ctx and the configured timeout.
func (c *CachedFetcher) live(ctx context.Context, url, accept string) (*Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	done := make(chan fetchResult, 1)
	go func() {
		res, err := c.next.Fetch(ctx, url, accept)
		done <- fetchResult{res, err}
	}()

	select {
	case r := <-done:
		if r.err == nil && r.res == nil {
			return nil, fmt.Errorf("mdcache: fetch %s: fetcher returned no response", url)
		}
		return r.res, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("mdcache: fetch %s: %w", url, context.Cause(ctx))
	}
}

func (c *CachedFetcher) lookup(ctx context.Context, fp string) (FetchEntry, bool) {
	raw, ok, err := c.storage.Get(ctx, fp)
	if err != nil {
		if !callerGone(ctx, err) {
			c.storageError(fp, "get", err)
		}
		return FetchEntry{}, false
	}
	if !ok {
		return FetchEntry{}, false
	}
	e, err := c.codec.Decode([]byte(raw))
	if err == nil && !e.valid() {
		err = fmt.Errorf("malformed entry of type %q", e.Type)
	}
	if err != nil {
		c.storageError(fp, "decode", err)
		// self-heal
		if err := c.storage.Delete(ctx, fp); err != nil && !callerGone(ctx, err) {
			c.storageError(fp, "delete", err)
		}
		return FetchEntry{}, false
	}
	return e, true
}

func (c *CachedFetcher) persist(ctx context.Context, fp string, e FetchEntry, ttl time.Duration) {
	e.Timestamp = c.now().UnixMilli()
	b, err := c.codec.Encode(e)
	if err == nil && !utf8.Valid(b) {
		err = errors.New("codec output is not valid UTF-8 text, wrap it in codec.Base64")
	}
	if err != nil {
		c.storageError(fp, "encode", err)
		return
	}
	var opts []store.SetOption
	if ttl > 0 {
		opts = append(opts, store.WithTTL(ttl))
	}
	if err := c.storage.Set(ctx, fp, string(b), opts...); err != nil && !callerGone(ctx, err) {
		c.storageError(fp, "set", err)
	}
}

// callerGone reports whether err is just the caller's own cancellation or
// deadline surfacing through the store.
func callerGone(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}

func (c *CachedFetcher) storageError(fp, op string, err error) {
	c.hooks.FetchCacheError(fp, op, err)
	c.log.Warn("fetch cache "+op+" failed", Fields{"key": fp, "err": err})
}

func ptr[T any](v T) *T { return &v }
