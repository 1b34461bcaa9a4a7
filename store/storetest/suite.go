// Package storetest provides a conformance suite for store.Storage
// implementations.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mdpipe/mdcache/store"
)

// Factory builds a fresh store driven by clock. Each call must return a store
// in a namespace distinct from every previous call, over the same physical
// backing where the backend has one (shared backend, shared directory root).
type Factory func(t *testing.T, clock *Clock) store.Storage

// Run exercises the shared store.Storage contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newStore) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, newStore) })
	t.Run("TTLExpiry", func(t *testing.T) { testTTLExpiry(t, newStore) })
	t.Run("ZeroTTL", func(t *testing.T) { testZeroTTL(t, newStore) })
	t.Run("SubMillisecondTTL", func(t *testing.T) { testSubMillisecondTTL(t, newStore) })
	t.Run("NegativeTTL", func(t *testing.T) { testNegativeTTL(t, newStore) })
	t.Run("RefreshResetsTTL", func(t *testing.T) { testRefresh(t, newStore) })
	t.Run("IdempotentDeleteClear", func(t *testing.T) { testIdempotent(t, newStore) })
	t.Run("SizeReapsExpired", func(t *testing.T) { testSizeReaps(t, newStore) })
	t.Run("NamespaceIsolation", func(t *testing.T) { testIsolation(t, newStore) })
	t.Run("ConcurrentSets", func(t *testing.T) { testConcurrentSets(t, newStore) })
	t.Run("ConcurrentMixed", func(t *testing.T) { testConcurrentMixed(t, newStore) })
}

func mustGet(t *testing.T, s store.Storage, key string) (string, bool) {
	t.Helper()
	v, ok, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	return v, ok
}

func mustSet(t *testing.T, s store.Storage, key, value string, opts ...store.SetOption) {
	t.Helper()
	if err := s.Set(context.Background(), key, value, opts...); err != nil {
		t.Fatalf("Set(%q): %v", key, err)
	}
}

func mustSize(t *testing.T, s store.Storage) int {
	t.Helper()
	n, err := s.Size(context.Background())
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	return n
}

func testRoundTrip(t *testing.T, newStore Factory) {
	s := newStore(t, NewClock())
	values := map[string]string{
		"a":                          `{"x":1}`,
		"":                           "empty key",
		"fetch:https://e.com/?q=1:*": "unicode ✓ 日本語",
		"big":                        strings.Repeat("0123456789", 4096),
		"empty-value":                "",
	}
	for k, v := range values {
		mustSet(t, s, k, v)
	}
	for k, want := range values {
		got, ok := mustGet(t, s, k)
		if !ok || got != want {
			t.Fatalf("Get(%q)=%q ok=%v want %q", k, got, ok, want)
		}
	}
	if _, ok := mustGet(t, s, "missing"); ok {
		t.Fatalf("Get(missing) should miss")
	}
}

func testOverwrite(t *testing.T, newStore Factory) {
	s := newStore(t, NewClock())
	mustSet(t, s, "k", "v1")
	mustSet(t, s, "k", "v2")
	if got, ok := mustGet(t, s, "k"); !ok || got != "v2" {
		t.Fatalf("last write should win, got %q ok=%v", got, ok)
	}
	if n := mustSize(t, s); n != 1 {
		t.Fatalf("Size=%d want 1 after overwrite", n)
	}
}

func testTTLExpiry(t *testing.T, newStore Factory) {
	clock := NewClock()
	s := newStore(t, clock)
	mustSet(t, s, "a", `{"x":1}`, store.WithTTL(50*time.Millisecond))

	if got, ok := mustGet(t, s, "a"); !ok || got != `{"x":1}` {
		t.Fatalf("Get before expiry=%q ok=%v", got, ok)
	}
	clock.Advance(49 * time.Millisecond)
	if _, ok := mustGet(t, s, "a"); !ok {
		t.Fatalf("entry expired early")
	}
	clock.Advance(51 * time.Millisecond)
	if _, ok := mustGet(t, s, "a"); ok {
		t.Fatalf("entry should be expired after ttl")
	}
	if n := mustSize(t, s); n != 0 {
		t.Fatalf("Size=%d want 0", n)
	}
}

func testZeroTTL(t *testing.T, newStore Factory) {
	s := newStore(t, NewClock())
	mustSet(t, s, "z", "v", store.WithTTL(0))
	if _, ok := mustGet(t, s, "z"); ok {
		t.Fatalf("zero ttl entry must be expired immediately")
	}
	mustSet(t, s, "z2", "v", store.WithTTL(0))
	if n := mustSize(t, s); n != 0 {
		t.Fatalf("Size=%d want 0 with only zero-ttl entries", n)
	}
}

func testSubMillisecondTTL(t *testing.T, newStore Factory) {
	clock := NewClock()
	s := newStore(t, clock)
	mustSet(t, s, "k", "v", store.WithTTL(900*time.Microsecond))
	if v, ok := mustGet(t, s, "k"); !ok || v != "v" {
		t.Fatalf("positive sub-millisecond ttl expired at write time: %q ok=%v", v, ok)
	}
	if n := mustSize(t, s); n != 1 {
		t.Fatalf("Size=%d want 1", n)
	}
	clock.Advance(time.Millisecond)
	if _, ok := mustGet(t, s, "k"); ok {
		t.Fatalf("entry must expire once its rounded ttl elapses")
	}
}

func testNegativeTTL(t *testing.T, newStore Factory) {
	s := newStore(t, NewClock())
	err := s.Set(context.Background(), "n", "v", store.WithTTL(-time.Second))
	if !errors.Is(err, store.ErrInvalidTTL) {
		t.Fatalf("Set negative ttl err=%v want ErrInvalidTTL", err)
	}
	if _, ok := mustGet(t, s, "n"); ok {
		t.Fatalf("rejected Set must not store anything")
	}
}

func testRefresh(t *testing.T, newStore Factory) {
	clock := NewClock()
	s := newStore(t, clock)
	mustSet(t, s, "r", "old", store.WithTTL(time.Second))
	clock.Advance(900 * time.Millisecond)
	mustSet(t, s, "r", "new", store.WithTTL(time.Second))
	clock.Advance(900 * time.Millisecond)
	if got, ok := mustGet(t, s, "r"); !ok || got != "new" {
		t.Fatalf("refreshed entry=%q ok=%v want new", got, ok)
	}
	mustSet(t, s, "r", "forever")
	clock.Advance(24 * time.Hour)
	if got, ok := mustGet(t, s, "r"); !ok || got != "forever" {
		t.Fatalf("entry without ttl must not expire, got %q ok=%v", got, ok)
	}
}

func testIdempotent(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, NewClock())
	if err := s.Delete(ctx, "absent"); err != nil {
		t.Fatalf("Delete(absent): %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear(empty): %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear twice: %v", err)
	}
	mustSet(t, s, "k", "v")
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete twice: %v", err)
	}
	if _, ok := mustGet(t, s, "k"); ok {
		t.Fatalf("deleted key still readable")
	}
}

func testSizeReaps(t *testing.T, newStore Factory) {
	clock := NewClock()
	s := newStore(t, clock)
	mustSet(t, s, "live1", "1")
	mustSet(t, s, "live2", "2", store.WithTTL(time.Hour))
	mustSet(t, s, "dead1", "3", store.WithTTL(10*time.Millisecond))
	mustSet(t, s, "dead2", "4", store.WithTTL(20*time.Millisecond))
	if n := mustSize(t, s); n != 4 {
		t.Fatalf("Size=%d want 4", n)
	}
	clock.Advance(time.Second)
	if n := mustSize(t, s); n != 2 {
		t.Fatalf("Size=%d want 2 after expiry", n)
	}
	// reaped entries stay gone even if the clock could be wound back
	if _, ok := mustGet(t, s, "dead1"); ok {
		t.Fatalf("expired entry should be reaped")
	}
}

func testIsolation(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock()
	a := newStore(t, clock)
	b := newStore(t, clock)

	mustSet(t, a, "shared", "from-a")
	mustSet(t, a, "only-a", "1")
	if _, ok := mustGet(t, b, "shared"); ok {
		t.Fatalf("store b observed key from store a")
	}
	mustSet(t, b, "shared", "from-b")
	if got, _ := mustGet(t, a, "shared"); got != "from-a" {
		t.Fatalf("store a value clobbered by b: %q", got)
	}
	if n := mustSize(t, b); n != 1 {
		t.Fatalf("b Size=%d want 1", n)
	}
	if err := b.Clear(ctx); err != nil {
		t.Fatalf("b Clear: %v", err)
	}
	if n := mustSize(t, a); n != 2 {
		t.Fatalf("a Size=%d want 2 after clearing b", n)
	}
	if got, ok := mustGet(t, a, "shared"); !ok || got != "from-a" {
		t.Fatalf("a lost entry after b.Clear: %q ok=%v", got, ok)
	}
}

func testConcurrentSets(t *testing.T, newStore Factory) {
	s := newStore(t, NewClock())
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.Set(context.Background(), fmt.Sprintf("key-%d", i), fmt.Sprintf("value-%d", i))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Set: %v", err)
		}
	}
	if n := mustSize(t, s); n != 10 {
		t.Fatalf("Size=%d want 10", n)
	}
}

func testConcurrentMixed(t *testing.T, newStore Factory) {
	clock := NewClock()
	s := newStore(t, clock)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		mustSet(t, s, fmt.Sprintf("k%d", i), "seed", store.WithTTL(time.Millisecond))
	}
	clock.Advance(time.Second)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 8; i++ {
		key := fmt.Sprintf("k%d", i)
		wg.Add(4)
		go func() { defer wg.Done(); _, _, err := s.Get(ctx, key); errs <- err }()
		go func() { defer wg.Done(); _, _, err := s.Get(ctx, key); errs <- err }()
		go func() { defer wg.Done(); errs <- s.Set(ctx, key, "fresh") }()
		go func() { defer wg.Done(); _, err := s.Size(ctx); errs <- err }()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent op: %v", err)
		}
	}
	// every key was refreshed without a TTL; expiry deletes must not clobber it
	for i := 0; i < 8; i++ {
		if got, ok := mustGet(t, s, fmt.Sprintf("k%d", i)); !ok || got != "fresh" {
			t.Fatalf("k%d=%q ok=%v want fresh", i, got, ok)
		}
	}
}
