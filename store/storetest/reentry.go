package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mdpipe/mdcache/store"
)

// reentrantHooks calls back into the store from SelfHeal.
type reentrantHooks struct {
	store.NopHooks
	target store.Storage

	mu    sync.Mutex
	calls int
	errs  []error
}

func (h *reentrantHooks) SelfHeal(_, key, _ string) {
	ctx := context.Background()
	_, _, gerr := h.target.Get(ctx, key)
	_, serr := h.target.Size(ctx)
	h.mu.Lock()
	h.calls++
	h.errs = append(h.errs, gerr, serr)
	h.mu.Unlock()
}

// RunHookReentry checks that a SelfHeal hook may call Get and Size on the
// store that raised it, from both the Get and the Size reaping paths.
func RunHookReentry(t *testing.T, build func(clock *Clock, hooks store.Hooks) store.Storage) {
	clock := NewClock()
	h := &reentrantHooks{}
	s := build(clock, h)
	h.target = s

	errc := make(chan error, 1)
	go func() {
		ctx := context.Background()
		for _, k := range []string{"a", "b", "c"} {
			if err := s.Set(ctx, k, "v", store.WithTTL(time.Second)); err != nil {
				errc <- err
				return
			}
		}
		clock.Advance(2 * time.Second)
		if _, ok, err := s.Get(ctx, "a"); err != nil || ok {
			errc <- errors.Join(err, errors.New("expired Get must miss"))
			return
		}
		_, err := s.Size(ctx)
		errc <- err
	}()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("store ops: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("store blocked while a SelfHeal hook called back into it")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.calls != 3 {
		t.Fatalf("SelfHeal calls=%d want 3", h.calls)
	}
	if err := errors.Join(h.errs...); err != nil {
		t.Fatalf("store ops from hook: %v", err)
	}
}
