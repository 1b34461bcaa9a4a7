package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mdpipe/mdcache/store"
	"github.com/mdpipe/mdcache/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clock *storetest.Clock) store.Storage {
		return New(Options{Clock: clock.Now})
	})
}

type healRecorder struct {
	store.NopHooks
	events []string
}

func (h *healRecorder) SelfHeal(ns, key, reason string) {
	h.events = append(h.events, ns+"|"+key+"|"+reason)
}

func TestExpiredGetReportsSelfHeal(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock()
	h := &healRecorder{}
	s := New(Options{Clock: clock.Now, Hooks: h})

	if err := s.Set(ctx, "k", "v", store.WithTTL(time.Second)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	clock.Advance(2 * time.Second)
	if _, ok, err := s.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("Get expired ok=%v err=%v", ok, err)
	}
	if len(h.events) != 1 || h.events[0] != "memory|k|expired" {
		t.Fatalf("hooks=%v", h.events)
	}
	if _, still := s.data["k"]; still {
		t.Fatalf("expired entry not removed from map")
	}
}

func TestHookMayReenterStore(t *testing.T) {
	storetest.RunHookReentry(t, func(clock *storetest.Clock, hooks store.Hooks) store.Storage {
		return New(Options{Clock: clock.Now, Hooks: hooks})
	})
}

func TestRealClockScenario(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})
	if err := s.Set(ctx, "a", `{"x":1}`, store.WithTTL(50*time.Millisecond)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok, _ := s.Get(ctx, "a"); !ok || v != `{"x":1}` {
		t.Fatalf("Get at t=0: %q ok=%v", v, ok)
	}
	time.Sleep(100 * time.Millisecond)
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Fatalf("Get after 100ms should miss")
	}
	if n, _ := s.Size(ctx); n != 0 {
		t.Fatalf("Size=%d want 0", n)
	}
}

func TestZeroValueUnavailable(t *testing.T) {
	ctx := context.Background()
	var s Store
	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Get err=%v", err)
	}
	if err := s.Set(ctx, "k", "v"); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Set err=%v", err)
	}
	if err := s.Delete(ctx, "k"); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Delete err=%v", err)
	}
	if err := s.Clear(ctx); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Clear err=%v", err)
	}
	if _, err := s.Size(ctx); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Size err=%v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(Options{})
	if err := s.Set(ctx, "k", "v"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Set err=%v want context.Canceled", err)
	}
}
